package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle events every Transport reports through its listener table.
const (
	EventConnect          = "connect"
	EventConnectError     = "connect_error"
	EventDisconnect       = "disconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnect        = "reconnect"
	EventReconnectFailed  = "reconnect_failed"
)

// Disconnect reasons passed as the first argument of EventDisconnect.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

var ErrNotConnected = errors.New("not connected")

type (
	ListenerID uint64
	Listener   func(args ...any)
	Ack        func(args ...any)
)

// Transport is a duplex event channel. Connect is non-blocking: the outcome
// is reported to the connect or connect_error listeners. Listeners are keyed
// by id; registering an id twice for the same event replaces the first
// registration in place.
type Transport interface {
	Connect()
	Disconnect()
	Connected() bool
	Emit(event string, payload any, ack Ack) error
	On(event string, id ListenerID, fn Listener)
	Off(event string, id ListenerID)
}

type Options struct {
	Timeout  time.Duration
	ForceNew bool
	Header   http.Header
	Logger   *zap.Logger
}

type Factory func(url string, opts Options) Transport

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// Listeners is an ordered, id-keyed listener table. The zero value is ready
// to use. Dispatch calls listeners outside the lock, so a listener may
// register or remove listeners while it runs.
type Listeners struct {
	mu     sync.RWMutex
	events map[string][]listenerEntry
}

func (l *Listeners) On(event string, id ListenerID, fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.events == nil {
		l.events = make(map[string][]listenerEntry)
	}

	// Dispatch may be iterating the current slice; never write into it.
	entries := l.events[event]
	next := make([]listenerEntry, len(entries), len(entries)+1)
	copy(next, entries)
	for i := range next {
		if next[i].id == id {
			next[i].fn = fn
			l.events[event] = next
			return
		}
	}
	l.events[event] = append(next, listenerEntry{id: id, fn: fn})
}

func (l *Listeners) Off(event string, id ListenerID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.events[event]
	for i := range entries {
		if entries[i].id == id {
			kept := make([]listenerEntry, 0, len(entries)-1)
			kept = append(kept, entries[:i]...)
			kept = append(kept, entries[i+1:]...)
			if len(kept) == 0 {
				delete(l.events, event)
			} else {
				l.events[event] = kept
			}
			return
		}
	}
}

func (l *Listeners) Count(event string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.events[event])
}

// Dispatch invokes the listeners of event in registration order and returns
// how many were called.
func (l *Listeners) Dispatch(event string, args ...any) int {
	l.mu.RLock()
	entries := l.events[event]
	l.mu.RUnlock()

	for _, e := range entries {
		e.fn(args...)
	}
	return len(entries)
}
