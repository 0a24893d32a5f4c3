package session

import "sync"

// ListenerKind names a session notification.
type ListenerKind string

const (
	Loaded          ListenerKind = "loaded"
	Saved           ListenerKind = "saved"
	MessageAdded    ListenerKind = "messageAdded"
	SessionSelected ListenerKind = "sessionSelected"
)

// Notification is delivered to listeners.
type Notification struct {
	Kind      ListenerKind
	SessionID string
	Scope     string
	Message   *Message
	Sessions  []Summary
}

// Listener receives notifications for one kind.
type Listener func(Notification)

type listenerEntry struct {
	id uint64
	fn Listener
}

// listeners is a per-instance registry torn down on Dispose.
type listeners struct {
	mu     sync.Mutex
	nextID uint64
	byKind map[ListenerKind][]listenerEntry
}

func newListeners() *listeners {
	return &listeners{byKind: make(map[ListenerKind][]listenerEntry)}
}

func (l *listeners) add(kind ListenerKind, fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.byKind[kind] = append(l.byKind[kind], listenerEntry{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(kind, id) })
	}
}

func (l *listeners) remove(kind ListenerKind, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.byKind[kind]
	for i, entry := range list {
		if entry.id == id {
			l.byKind[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (l *listeners) emit(n Notification) {
	l.mu.Lock()
	list := append([]listenerEntry(nil), l.byKind[n.Kind]...)
	l.mu.Unlock()

	for _, entry := range list {
		entry.fn(n)
	}
}

func (l *listeners) clear() {
	l.mu.Lock()
	l.byKind = make(map[ListenerKind][]listenerEntry)
	l.mu.Unlock()
}

func (l *listeners) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, list := range l.byKind {
		n += len(list)
	}
	return n
}
