// Package id provides centralized ID generation for the client runtime.
//
// Locally minted identifiers are prefixed ULIDs:
//   - Lexicographic sortability, so message logs sort by creation time
//   - Prefixed types (msg_*, reg_*) keep logs readable
//   - Separate Go types prevent passing a message id where a registration id belongs
//
// Server-issued identifiers (conversation ids, browsing handles, task ids)
// are carried as plain strings and never generated here.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MessageID identifies one message in a session log.
type MessageID string

// RegistrationID identifies a handler registration in the dispatcher.
type RegistrationID string

// ClientID identifies this runtime instance towards the backend.
type ClientID string

const (
	MessagePrefix      = "msg"
	RegistrationPrefix = "reg"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewMessageID generates a new message ID
func NewMessageID() MessageID {
	return MessageID(Default().GenerateWithPrefix(MessagePrefix))
}

// NewRegistrationID generates a new handler registration ID
func NewRegistrationID() RegistrationID {
	return RegistrationID(Default().GenerateWithPrefix(RegistrationPrefix))
}

// NewClientID generates a random client ID. The backend expects a UUID here.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

func (id MessageID) String() string      { return string(id) }
func (id RegistrationID) String() string { return string(id) }
func (id ClientID) String() string       { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// IsValidPrefixed checks that id has the form prefix_ULID.
func IsValidPrefixed(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	return ok && IsValid(rest)
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID or prefixed ULID.
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
