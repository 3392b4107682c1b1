// Package transporttest provides an in-memory Transport whose lifecycle is
// driven by the test.
package transporttest

import (
	"sync"

	"github.com/kleeedolinux/socketlink/socket/transport"
)

// Emitted records one call to Fake.Emit.
type Emitted struct {
	Event   string
	Payload any
	Ack     transport.Ack
}

// Fake is a Transport that never touches the network. Connect only records
// the call unless AutoConnect is set; the test reports the outcome with
// Succeed or Fail.
type Fake struct {
	transport.Listeners

	URL  string
	Opts transport.Options

	mu          sync.Mutex
	autoConnect bool
	connected   bool
	connects    int
	disconnects int
	emitErr     error
	emits       []Emitted
}

func NewFake(url string, opts transport.Options) *Fake {
	return &Fake{URL: url, Opts: opts}
}

func (f *Fake) Connect() {
	f.mu.Lock()
	f.connects++
	auto := f.autoConnect
	f.mu.Unlock()

	if auto {
		f.Succeed()
	}
}

func (f *Fake) Disconnect() {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.disconnects++
	f.mu.Unlock()

	if was {
		f.Dispatch(transport.EventDisconnect, transport.ReasonClientDisconnect)
	}
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *Fake) Emit(event string, payload any, ack transport.Ack) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.emitErr != nil {
		return f.emitErr
	}
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.emits = append(f.emits, Emitted{Event: event, Payload: payload, Ack: ack})
	return nil
}

// Succeed reports an established connection.
func (f *Fake) Succeed() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()

	f.Dispatch(transport.EventConnect)
}

// Fail reports a failed connection attempt.
func (f *Fake) Fail(err error) {
	f.Dispatch(transport.EventConnectError, err)
}

// Drop reports the loss of the connection with reason.
func (f *Fake) Drop(reason string) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()

	f.Dispatch(transport.EventDisconnect, reason)
}

// Fire delivers an inbound event and returns how many listeners ran.
func (f *Fake) Fire(event string, args ...any) int {
	return f.Dispatch(event, args...)
}

func (f *Fake) SetEmitError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.emitErr = err
}

func (f *Fake) Emits() []Emitted {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Emitted(nil), f.emits...)
}

// EmitsOf returns the recorded emits of event.
func (f *Fake) EmitsOf(event string) []Emitted {
	var out []Emitted
	for _, e := range f.Emits() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connects
}

func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.disconnects
}

// Factory creates Fakes and remembers them in creation order.
type Factory struct {
	mu          sync.Mutex
	autoConnect bool
	created     []*Fake
}

// SetAutoConnect makes every Fake created afterwards succeed as soon as it
// is connected.
func (f *Factory) SetAutoConnect(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.autoConnect = enabled
}

func (f *Factory) New(url string, opts transport.Options) transport.Transport {
	fake := NewFake(url, opts)

	f.mu.Lock()
	fake.autoConnect = f.autoConnect
	f.created = append(f.created, fake)
	f.mu.Unlock()

	return fake
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.created)
}

// Get returns the i-th created Fake, or nil.
func (f *Factory) Get(i int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i < 0 || i >= len(f.created) {
		return nil
	}
	return f.created[i]
}

// Last returns the most recently created Fake, or nil.
func (f *Factory) Last() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
