package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
)

type fakeEntry struct {
	id   string
	kind string
}

func (f *fakeEntry) ID() string    { return f.id }
func (f *fakeEntry) Label() string { return f.kind }

func TestClaimReturnsSameInstance(t *testing.T) {
	m := NewManager(nil)
	calls := 0
	create := func() (Entry, error) {
		calls++
		return &fakeEntry{id: "s1", kind: "live"}, nil
	}

	first, created, err := m.Claim("docs", create)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := m.Claim("docs", create)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	id, ok := m.SessionFor("docs")
	assert.True(t, ok)
	assert.Equal(t, "s1", id)
}

func TestClaimConcurrent(t *testing.T) {
	m := NewManager(nil)

	var wg sync.WaitGroup
	results := make([]Entry, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, _, err := m.Claim("docs", func() (Entry, error) {
				return &fakeEntry{}, nil
			})
			assert.NoError(t, err)
			results[i] = entry
		}(i)
	}
	wg.Wait()

	for _, entry := range results {
		assert.Same(t, results[0], entry)
	}
	assert.Equal(t, Status{Scopes: 1, Instances: 1}, m.Status())
}

func TestClaimErrors(t *testing.T) {
	m := NewManager(nil)

	_, _, err := m.Claim("", func() (Entry, error) { return &fakeEntry{}, nil })
	assert.ErrorIs(t, err, ErrEmptyScope)

	boom := errors.New("boom")
	_, _, err = m.Claim("docs", func() (Entry, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, _, err = m.Claim("docs", func() (Entry, error) { return nil, nil })
	assert.Error(t, err)

	assert.Equal(t, Status{}, m.Status())
}

func TestUnboundEntry(t *testing.T) {
	m := NewManager(nil)
	entry := &fakeEntry{}

	_, _, err := m.Claim("docs", func() (Entry, error) { return entry, nil })
	require.NoError(t, err)

	_, ok := m.SessionFor("docs")
	assert.False(t, ok)

	got, ok := m.InstanceFor("docs")
	require.True(t, ok)
	assert.Same(t, entry, got)
}

func TestBindOverwritesAndEvicts(t *testing.T) {
	m := NewManager(nil)
	old := &fakeEntry{id: "s1"}
	replacement := &fakeEntry{id: "s2"}

	evicted, err := m.Bind("docs", "s1", old)
	require.NoError(t, err)
	assert.Nil(t, evicted)

	evicted, err = m.Bind("docs", "s2", replacement)
	require.NoError(t, err)
	assert.Same(t, old, evicted)

	id, ok := m.SessionFor("docs")
	assert.True(t, ok)
	assert.Equal(t, "s2", id)

	_, ok = m.Instance("s1")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Status().Instances)
}

func TestBindRekeysSameInstance(t *testing.T) {
	m := NewManager(nil)
	entry := &fakeEntry{}

	_, _, err := m.Claim("docs", func() (Entry, error) { return entry, nil })
	require.NoError(t, err)

	evicted, err := m.Bind("docs", "s9", entry)
	require.NoError(t, err)
	assert.Nil(t, evicted)

	got, ok := m.Instance("s9")
	require.True(t, ok)
	assert.Same(t, entry, got)
	assert.Equal(t, Status{Scopes: 1, Instances: 1}, m.Status())
}

func TestBindValidation(t *testing.T) {
	m := NewManager(nil)

	_, err := m.Bind("", "s1", &fakeEntry{})
	assert.ErrorIs(t, err, ErrEmptyScope)

	_, err = m.Bind("docs", "s1", nil)
	assert.Error(t, err)
}

func TestFocusAndRelease(t *testing.T) {
	m := NewManager(nil)
	entry := &fakeEntry{id: "s1"}
	_, err := m.Bind("docs", "s1", entry)
	require.NoError(t, err)

	m.Focus("alice", "s1")
	focused, ok := m.Focused("alice")
	assert.True(t, ok)
	assert.Equal(t, "s1", focused)

	released, ok := m.Release("docs")
	require.True(t, ok)
	assert.Same(t, entry, released)

	_, ok = m.Focused("alice")
	assert.False(t, ok)
	assert.Equal(t, Status{}, m.Status())

	_, ok = m.Release("docs")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	metrics := monitoring.NewMetrics()
	m := NewManager(nil).WithMetrics(metrics)

	_, err := m.Bind("a", "s1", &fakeEntry{id: "s1", kind: "live"})
	require.NoError(t, err)
	_, err = m.Bind("b", "s2", &fakeEntry{id: "s2", kind: "history"})
	require.NoError(t, err)
	m.Focus("alice", "s1")

	assert.Equal(t, []string{"a", "b"}, m.Scopes())

	removed := m.Clear()
	assert.Len(t, removed, 2)
	assert.Equal(t, Status{}, m.Status())
}

func TestClaimPanicReleasesLock(t *testing.T) {
	m := NewManager(nil)

	assert.Panics(t, func() {
		_, _, _ = m.Claim("docs", func() (Entry, error) { panic("create failed") })
	})

	entry, created, err := m.Claim("docs", func() (Entry, error) {
		return &fakeEntry{id: "s1"}, nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "s1", entry.ID())
	assert.Equal(t, Status{Scopes: 1, Instances: 1}, m.Status())
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name        string
		current     *fakeEntry
		adopt       bool
		withCreate  bool
		wantCreated bool
		wantEvicted bool
	}{
		{name: "matching id keeps instance", current: &fakeEntry{id: "s2"}, withCreate: true},
		{name: "adopted instance is rekeyed", current: &fakeEntry{}, adopt: true, withCreate: true},
		{name: "different id is replaced", current: &fakeEntry{id: "s1"}, withCreate: true, wantCreated: true, wantEvicted: true},
		{name: "empty scope is created", withCreate: true, wantCreated: true},
		{name: "nil create leaves scope", current: &fakeEntry{id: "s1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			if tt.current != nil {
				_, _, err := m.Claim("docs", func() (Entry, error) { return tt.current, nil })
				require.NoError(t, err)
			}

			adopt := func(e Entry) bool {
				if !tt.adopt {
					return false
				}
				e.(*fakeEntry).id = "s2"
				return true
			}
			var create func() (Entry, error)
			if tt.withCreate {
				create = func() (Entry, error) { return &fakeEntry{id: "s2"}, nil }
			}

			entry, evicted, err := m.Rebind("docs", "s2", adopt, create)
			require.NoError(t, err)

			if tt.wantCreated {
				assert.NotSame(t, tt.current, entry)
			} else {
				assert.Same(t, tt.current, entry)
			}
			if tt.wantEvicted {
				assert.Same(t, tt.current, evicted)
			} else {
				assert.Nil(t, evicted)
			}

			if tt.current == nil || tt.withCreate {
				got, ok := m.Instance("s2")
				require.True(t, ok)
				assert.Same(t, entry, got)
				assert.Equal(t, Status{Scopes: 1, Instances: 1}, m.Status())
			}
		})
	}
}

func TestRebindConcurrent(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Bind("docs", "A", &fakeEntry{id: "A"})
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	create := func() (Entry, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &fakeEntry{id: "B"}, nil
	}

	var wg sync.WaitGroup
	results := make([]Entry, 16)
	evictions := make([]Entry, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, evicted, err := m.Rebind("docs", "B", nil, create)
			assert.NoError(t, err)
			results[i] = entry
			evictions[i] = evicted
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	evictedCount := 0
	for i, entry := range results {
		assert.Same(t, results[0], entry)
		if evictions[i] != nil {
			evictedCount++
			assert.Equal(t, "A", evictions[i].ID())
		}
	}
	assert.Equal(t, 1, evictedCount)
	assert.Equal(t, Status{Scopes: 1, Instances: 1}, m.Status())
}

func TestRebindValidation(t *testing.T) {
	m := NewManager(nil)

	_, _, err := m.Rebind("", "s1", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyScope)

	_, _, err = m.Rebind("docs", "", nil, nil)
	assert.Error(t, err)

	_, _, err = m.Rebind("docs", "s1", nil, func() (Entry, error) { return nil, nil })
	assert.Error(t, err)
	assert.Equal(t, Status{}, m.Status())
}
