package socket

import (
	"sync"
	"time"
)

// Status is a snapshot of the connection lifecycle. At most one of
// IsConnected, IsConnecting and IsReconnecting is set.
type Status struct {
	IsConnected       bool      `json:"isConnected"`
	IsConnecting      bool      `json:"isConnecting"`
	IsReconnecting    bool      `json:"isReconnecting"`
	Error             string    `json:"error,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastConnected     time.Time `json:"lastConnected"`
	LastDisconnected  time.Time `json:"lastDisconnected"`
}

// Phase names the active phase.
func (s Status) Phase() string {
	switch {
	case s.IsConnected:
		return "connected"
	case s.IsConnecting:
		return "connecting"
	case s.IsReconnecting:
		return "reconnecting"
	case s.Error != "":
		return "error"
	default:
		return "disconnected"
	}
}

func (s Status) valid() bool {
	n := 0
	for _, b := range []bool{s.IsConnected, s.IsConnecting, s.IsReconnecting} {
		if b {
			n++
		}
	}
	return n <= 1
}

// statusTracker holds the single source of truth for Status. Every
// transition sets the complete phase combination.
type statusTracker struct {
	mu sync.RWMutex
	st Status
}

func (t *statusTracker) get() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.st
}

func (t *statusTracker) update(fn func(st *Status)) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.st)
	return t.st
}

// connecting starts a caller-initiated attempt. Any reconnection phase left
// by an earlier automatic attempt is abandoned with its attempt count.
func (t *statusTracker) connecting() {
	t.update(func(st *Status) {
		st.IsConnected = false
		st.IsConnecting = true
		st.IsReconnecting = false
		st.ReconnectAttempts = 0
		st.Error = ""
	})
}

// retrying starts an attempt driven by the reconnection timer, which stays in
// the reconnecting phase.
func (t *statusTracker) retrying() {
	t.update(func(st *Status) {
		st.IsConnected = false
		st.IsConnecting = !st.IsReconnecting
		st.Error = ""
	})
}

func (t *statusTracker) reconnecting(attempts int) {
	t.update(func(st *Status) {
		st.IsConnected = false
		st.IsConnecting = false
		st.IsReconnecting = true
		st.ReconnectAttempts = attempts
	})
}

func (t *statusTracker) connected(now time.Time) {
	t.update(func(st *Status) {
		st.IsConnected = true
		st.IsConnecting = false
		st.IsReconnecting = false
		st.Error = ""
		st.ReconnectAttempts = 0
		st.LastConnected = now
	})
}

func (t *statusTracker) connectFailed(msg string) {
	t.update(func(st *Status) {
		st.IsConnected = false
		st.IsConnecting = false
		st.Error = msg
	})
}

func (t *statusTracker) disconnected(now time.Time) {
	t.update(func(st *Status) {
		st.IsConnected = false
		st.IsConnecting = false
		st.LastDisconnected = now
	})
}

// terminal ends every phase and records msg; no automatic recovery follows.
func (t *statusTracker) terminal(msg string) {
	t.update(func(st *Status) {
		st.IsConnected = false
		st.IsConnecting = false
		st.IsReconnecting = false
		st.Error = msg
	})
}

func (t *statusTracker) stopped(now time.Time) {
	t.update(func(st *Status) {
		st.IsConnected = false
		st.IsConnecting = false
		st.IsReconnecting = false
		st.LastDisconnected = now
	})
}
