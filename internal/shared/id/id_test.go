package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	assert.NotEqual(t, gen.GenerateString(), gen.GenerateString())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{MessagePrefix, RegistrationPrefix} {
		value := gen.GenerateWithPrefix(prefix)
		assert.True(t, strings.HasPrefix(value, prefix+"_"), value)
		assert.True(t, IsValidPrefixed(value, prefix), value)
	}
}

func TestTypedIDs(t *testing.T) {
	assert.True(t, IsValidPrefixed(NewMessageID().String(), "msg"))
	assert.True(t, IsValidPrefixed(NewRegistrationID().String(), "reg"))

	_, err := uuid.Parse(NewClientID().String())
	assert.NoError(t, err)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(NewGenerator().GenerateString()))

	for _, bad := range []string{"", "invalid", "1234567890", "zzzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		assert.False(t, IsValid(bad), bad)
	}
	assert.False(t, IsValidPrefixed("sess_nope", "sess"))
	assert.False(t, IsValidPrefixed(NewMessageID().String(), "sess"))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	value := NewMessageID().String()
	after := time.Now().UnixMilli()

	ts, err := Timestamp(value)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts.UnixMilli(), before)
	assert.LessOrEqual(t, ts.UnixMilli(), after)

	_, err = Timestamp("msg_invalid")
	assert.Error(t, err)
}

func TestMonotonicOrdering(t *testing.T) {
	gen := NewGenerator()

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = gen.GenerateString()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestConcurrentGeneration(t *testing.T) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[MessageID]bool)
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				value := NewMessageID()
				mu.Lock()
				seen[value] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
