package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/GriffinCanCode/ragstudio/internal/domain/generation"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
)

const barWidth = 30

// console renders surfaces and the progress indicator on a terminal.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// surface returns a generation surface that prefixes its lines.
func (c *console) surface(name string) generation.Surface {
	return surfaceFunc(func(line string) {
		c.printf("[%s] %s\n", name, line)
	})
}

// Render draws the state and progress bar.
func (c *console) Render(snap generation.ProgressSnapshot) {
	filled := int(snap.Progress / 100 * barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	c.printf("%-10s [%s] %5.1f%% %s\n", snap.State, bar, snap.Progress, snap.Message)
}

func (c *console) message(msg session.Message) {
	c.printf("%s %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Text)
}

type surfaceFunc func(line string)

func (f surfaceFunc) Append(line string) { f(line) }
