package generation

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// Surface receives formatted output lines.
type Surface interface {
	Append(line string)
}

// Indicator shows the current state and the progress bar.
type Indicator interface {
	Render(snapshot ProgressSnapshot)
}

// Target names an output surface.
type Target string

const (
	Primary   Target = "primary"
	Secondary Target = "secondary"
)

// Categories carried by frames.
const (
	CategoryImportant = "important"
	CategoryStateful  = "stateful"
	CategoryError     = "error"
	CategoryProgress  = "progress"
	CategoryDebugging = "debugging"
	CategoryInfo      = "info"
)

var routes = map[string][]Target{
	CategoryImportant: {Primary},
	CategoryStateful:  {Primary},
	CategoryError:     {Primary, Secondary},
	CategoryProgress:  {Secondary},
	CategoryDebugging: {Secondary},
	CategoryInfo:      {Secondary},
}

// Route returns the surfaces a line of category goes to. Unknown
// categories go to the secondary surface.
func Route(category string) []Target {
	if targets, ok := routes[strings.ToLower(category)]; ok {
		return targets
	}
	return []Target{Secondary}
}

// DefaultBufferSize is the line capacity of NewBuffer(0).
const DefaultBufferSize = 500

// Buffer is a bounded in-memory Surface. Once full, the oldest line is
// dropped for each new one.
type Buffer struct {
	mu    sync.RWMutex
	lines []string
	limit int
}

// NewBuffer creates a buffer holding at most limit lines.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultBufferSize
	}
	return &Buffer{limit: limit}
}

// Append adds a line.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) == b.limit {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:len(b.lines)-1]
	}
	b.lines = append(b.lines, line)
}

// Lines returns a copy of the buffered lines.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.lines...)
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
}

// sanitizer strips markup from backend text before it reaches a surface.
// Surfaces hold plain text, so escaped entities are decoded again.
var sanitizer = bluemonday.StrictPolicy()

func sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(text)))
}
