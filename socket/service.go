package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/debug"
	"github.com/kleeedolinux/socketlink/socket/transport"
)

// Attempt is one outstanding connection attempt. Concurrent callers of
// ConnectAsync share the same *Attempt.
type Attempt struct {
	done chan struct{}
	err  error
}

func newAttempt() *Attempt {
	return &Attempt{done: make(chan struct{})}
}

func settledAttempt(err error) *Attempt {
	a := newAttempt()
	a.finish(err)
	return a
}

func (a *Attempt) finish(err error) {
	a.err = err
	close(a.done)
}

func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Err returns the outcome once Done is closed, nil before.
func (a *Attempt) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

func (a *Attempt) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type heartbeat struct {
	ticker clockwork.Ticker
	stop   chan struct{}
}

// Service owns one transport at a time and keeps application subscriptions,
// connection status and reconnection policy across transport replacements.
type Service struct {
	mu      sync.Mutex
	url     string
	opts    Options
	header  http.Header
	clock   clockwork.Clock
	logger  *zap.Logger
	factory transport.Factory

	tr       transport.Transport
	status   statusTracker
	registry *registry
	nextID   atomic.Uint64

	attempt        *Attempt
	watchdog       clockwork.Timer
	reconnectTimer clockwork.Timer
	reconnectGen   uint64
	heartbeat      *heartbeat
	destroyed      bool
}

func NewService(url string, opts ...Option) *Service {
	s := &Service{
		url:      url,
		opts:     DefaultOptions(),
		registry: newRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = debug.Logger()
	}
	s.logger = s.logger.Named("socket").With(zap.String("url", url))
	if s.factory == nil {
		s.factory = transport.WebSocketFactory()
	}

	if s.opts.AutoConnect {
		s.ConnectAsync()
	}

	return s
}

func (s *Service) URL() string {
	return s.url
}

func (s *Service) Options() Options {
	return s.opts
}

// Status returns a copy of the current connection status.
func (s *Service) Status() Status {
	return s.status.get()
}

func (s *Service) IsConnected() bool {
	return s.status.get().IsConnected
}

// Connect starts or joins a connection attempt and waits for its outcome.
func (s *Service) Connect(ctx context.Context) error {
	return s.ConnectAsync().Wait(ctx)
}

// ConnectAsync starts a connection attempt unless one is already in flight,
// in which case the in-flight attempt is returned.
func (s *Service) ConnectAsync() *Attempt {
	s.mu.Lock()
	a, start := s.connectLocked(false)
	s.mu.Unlock()

	start()
	return a
}

// connectLocked prepares an attempt. retry marks attempts started by the
// reconnection timer. The returned func opens the transport and must run
// after s.mu is released, since transports may report lifecycle events
// synchronously.
func (s *Service) connectLocked(retry bool) (*Attempt, func()) {
	noop := func() {}

	if s.destroyed {
		return settledAttempt(ErrDestroyed), noop
	}
	if s.tr != nil && s.status.get().IsConnected {
		return settledAttempt(nil), noop
	}
	if s.attempt != nil {
		return s.attempt, noop
	}

	stale := s.tr
	if stale != nil {
		s.unprojectLocked(stale)
	}

	s.cancelReconnectLocked()
	if retry {
		s.status.retrying()
	} else {
		s.status.connecting()
	}
	a := newAttempt()
	s.attempt = a

	t := s.factory(s.url, transport.Options{
		Timeout:  s.opts.Timeout,
		ForceNew: s.opts.ForceNew,
		Header:   s.header,
		Logger:   s.logger,
	})
	s.tr = t
	s.bindLocked(t)

	s.stopWatchdogLocked()
	if s.opts.Timeout > 0 {
		s.watchdog = s.clock.AfterFunc(s.opts.Timeout, func() {
			s.connectTimedOut(t, a)
		})
	}

	s.logger.Debug("connecting", zap.Bool("reconnecting", s.status.get().IsReconnecting))

	return a, func() {
		if stale != nil {
			stale.Disconnect()
		}
		t.Connect()
	}
}

func (s *Service) newListenerID() ListenerID {
	return ListenerID(s.nextID.Add(1))
}

// bindLocked installs the lifecycle listeners on a fresh transport and
// projects the registry onto it. Lifecycle listeners go first so status is
// current before application listeners of the same event run.
func (s *Service) bindLocked(t transport.Transport) {
	on := func(event string, fn transport.Listener) {
		t.On(event, s.newListenerID(), fn)
	}

	on(EventConnect, func(...any) {
		s.handleConnect(t)
	})
	on(EventConnectError, func(args ...any) {
		s.handleConnectError(t, argError(args))
	})
	on(EventDisconnect, func(args ...any) {
		s.handleDisconnect(t, argString(args))
	})
	on(EventReconnectAttempt, func(args ...any) {
		s.handleReconnectAttempt(t, argInt(args))
	})
	on(EventReconnect, func(...any) {
		s.handleConnect(t)
	})
	on(EventReconnectFailed, func(...any) {
		s.handleReconnectFailed(t)
	})
	on(EventPong, func(...any) {
		s.logger.Debug("pong")
	})

	s.projectLocked(t)
}

// projectLocked attaches every registry listener to t. Transports key
// listeners by id, so repeating it never duplicates a subscription.
func (s *Service) projectLocked(t transport.Transport) {
	s.registry.each(func(event string, id ListenerID, fn Listener) {
		t.On(event, id, fn)
	})
}

func (s *Service) unprojectLocked(t transport.Transport) {
	s.registry.each(func(event string, id ListenerID, _ Listener) {
		t.Off(event, id)
	})
}

func (s *Service) handleConnect(t transport.Transport) {
	s.mu.Lock()
	if s.tr != t || s.destroyed {
		s.mu.Unlock()
		return
	}

	s.stopWatchdogLocked()
	s.cancelReconnectLocked()
	s.status.connected(s.clock.Now())
	s.startHeartbeatLocked()
	s.projectLocked(t)

	a := s.attempt
	s.attempt = nil
	s.mu.Unlock()

	s.logger.Info("connected")
	if a != nil {
		a.finish(nil)
	}
}

func (s *Service) handleConnectError(t transport.Transport, err error) {
	s.mu.Lock()
	if s.tr != t || s.destroyed {
		s.mu.Unlock()
		return
	}

	s.stopWatchdogLocked()
	s.status.connectFailed(err.Error())

	// A transport that failed to connect is released; the next attempt
	// builds a fresh one.
	s.unprojectLocked(t)
	s.tr = nil

	a := s.attempt
	s.attempt = nil
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	t.Disconnect()
	s.logger.Warn("connection error", zap.Error(err))
	if a != nil {
		a.finish(transportError(err))
	}
}

func (s *Service) connectTimedOut(t transport.Transport, a *Attempt) {
	s.mu.Lock()
	if s.tr != t || s.attempt != a {
		s.mu.Unlock()
		return
	}

	s.watchdog = nil
	s.attempt = nil
	s.status.connectFailed(ErrConnectionTimeout.Msg)
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	s.logger.Warn("connection timeout", zap.Duration("timeout", s.opts.Timeout))
	a.finish(ErrConnectionTimeout)
}

func (s *Service) handleDisconnect(t transport.Transport, reason string) {
	s.mu.Lock()
	if s.tr != t || s.destroyed {
		s.mu.Unlock()
		return
	}

	s.stopHeartbeatLocked()
	s.stopWatchdogLocked()
	s.status.disconnected(s.clock.Now())

	a := s.attempt
	s.attempt = nil
	var err error = ErrNotConnected

	switch reason {
	case transport.ReasonServerDisconnect:
		s.cancelReconnectLocked()
		s.status.terminal(ErrServerDisconnected.Msg)
		err = ErrServerDisconnected
	case transport.ReasonClientDisconnect:
		// Local Disconnect already cancelled reconnection.
	default:
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	s.logger.Info("disconnected", zap.String("reason", reason))
	if a != nil {
		a.finish(err)
	}
}

func (s *Service) handleReconnectAttempt(t transport.Transport, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tr != t || s.destroyed {
		return
	}
	s.stopHeartbeatLocked()
	s.status.reconnecting(n)
	s.logger.Info("transport reconnecting", zap.Int("attempt", n))
}

func (s *Service) handleReconnectFailed(t transport.Transport) {
	s.mu.Lock()
	if s.tr != t || s.destroyed {
		s.mu.Unlock()
		return
	}

	s.cancelReconnectLocked()
	s.status.terminal(ErrMaxReconnectAttempts.Msg)
	a := s.attempt
	s.attempt = nil
	s.mu.Unlock()

	s.logger.Warn("transport gave up reconnecting")
	if a != nil {
		a.finish(ErrMaxReconnectAttempts)
	}
}

func (s *Service) reconnectDelay() time.Duration {
	d := s.opts.ReconnectionDelay
	if s.opts.ReconnectionDelayMax > 0 && d > s.opts.ReconnectionDelayMax {
		d = s.opts.ReconnectionDelayMax
	}
	return d
}

// scheduleReconnectLocked arms the reconnection timer unless one is pending
// or the attempt budget is spent.
func (s *Service) scheduleReconnectLocked() {
	if !s.opts.Reconnection || s.destroyed || s.reconnectTimer != nil {
		return
	}

	st := s.status.get()
	if st.ReconnectAttempts >= s.opts.ReconnectionAttempts {
		s.status.terminal(ErrMaxReconnectAttempts.Msg)
		s.logger.Warn("giving up reconnecting", zap.Int("attempts", st.ReconnectAttempts))
		return
	}

	s.reconnectGen++
	gen := s.reconnectGen
	delay := s.reconnectDelay()
	s.reconnectTimer = s.clock.AfterFunc(delay, func() {
		s.reconnectFired(gen)
	})
	s.logger.Debug("reconnection scheduled", zap.Duration("delay", delay), zap.Int("attempts", st.ReconnectAttempts))
}

func (s *Service) reconnectFired(gen uint64) {
	s.mu.Lock()
	if s.destroyed || s.reconnectTimer == nil || s.reconnectGen != gen {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil

	attempts := s.status.get().ReconnectAttempts + 1
	s.status.reconnecting(attempts)
	s.logger.Info("reconnecting", zap.Int("attempt", attempts), zap.Int("max", s.opts.ReconnectionAttempts))

	_, start := s.connectLocked(true)
	s.mu.Unlock()

	// A failed attempt reschedules itself through connect_error or the
	// watchdog.
	start()
}

func (s *Service) cancelReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectGen++
}

func (s *Service) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *Service) startHeartbeatLocked() {
	s.stopHeartbeatLocked()
	if s.opts.HeartbeatInterval <= 0 {
		return
	}

	hb := &heartbeat{
		ticker: s.clock.NewTicker(s.opts.HeartbeatInterval),
		stop:   make(chan struct{}),
	}
	s.heartbeat = hb

	go func() {
		for {
			select {
			case <-hb.stop:
				return
			case <-hb.ticker.Chan():
				select {
				case <-hb.stop:
					return
				default:
				}
				s.Emit(EventPing, nil)
			}
		}
	}()
}

func (s *Service) stopHeartbeatLocked() {
	if s.heartbeat != nil {
		s.heartbeat.ticker.Stop()
		close(s.heartbeat.stop)
		s.heartbeat = nil
	}
}

// teardownLocked detaches the transport and cancels every timer. The caller
// disconnects the returned transport and settles the returned attempt after
// releasing s.mu.
func (s *Service) teardownLocked() (transport.Transport, *Attempt) {
	t := s.tr
	s.tr = nil
	if t != nil {
		s.unprojectLocked(t)
	}

	s.cancelReconnectLocked()
	s.stopHeartbeatLocked()
	s.stopWatchdogLocked()

	a := s.attempt
	s.attempt = nil

	if t != nil || a != nil {
		s.status.stopped(s.clock.Now())
	}
	return t, a
}

// Disconnect closes the transport and cancels reconnection. It is a no-op
// when nothing is connected.
func (s *Service) Disconnect() {
	s.mu.Lock()
	t, a := s.teardownLocked()
	s.mu.Unlock()

	if t != nil {
		t.Disconnect()
		s.logger.Info("disconnected by client")
	}
	if a != nil {
		a.finish(ErrNotConnected)
	}
}

// Reconnect disconnects, waits ReconnectSettleDelay and connects again. It
// ignores the automatic reconnection budget.
func (s *Service) Reconnect(ctx context.Context) error {
	s.Disconnect()

	timer := s.clock.NewTimer(ReconnectSettleDelay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.Connect(ctx)
}

// Destroy tears everything down and clears the listener registry. The
// Service cannot be connected again afterwards.
func (s *Service) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	t, a := s.teardownLocked()
	s.registry.reset()
	s.mu.Unlock()

	if t != nil {
		t.Disconnect()
	}
	if a != nil {
		a.finish(ErrDestroyed)
	}
	s.logger.Debug("destroyed")
}

func (s *Service) connectedTransport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tr == nil || !s.status.get().IsConnected {
		return nil
	}
	return s.tr
}

// Emit sends event without waiting for delivery. It reports false instead of
// failing when there is no connection or the transport rejects the frame.
func (s *Service) Emit(event string, payload any) bool {
	t := s.connectedTransport()
	if t == nil {
		s.logger.Warn("cannot emit, socket not connected", zap.String("event", event))
		return false
	}

	if err := t.Emit(event, payload, nil); err != nil {
		s.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}

// EmitWithAck sends event and waits for the peer's acknowledgment. It
// returns the first ack argument. A timeout of zero means DefaultAckTimeout.
func (s *Service) EmitWithAck(ctx context.Context, event string, payload any, timeout time.Duration) (any, error) {
	t := s.connectedTransport()
	if t == nil {
		return nil, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	var settle sync.Once
	result := make(chan any, 1)

	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()

	ack := func(args ...any) {
		settle.Do(func() {
			var v any
			if len(args) > 0 {
				v = args[0]
			}
			result <- v
		})
	}

	if err := t.Emit(event, payload, ack); err != nil {
		s.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
		return nil, transportError(err)
	}

	select {
	case v := <-result:
		return v, nil
	case <-timer.Chan():
		settle.Do(func() {})
		select {
		case v := <-result:
			return v, nil
		default:
		}
		s.logger.Warn("acknowledgment timeout", zap.String("event", event), zap.Duration("timeout", timeout))
		return nil, ErrAckTimeout
	case <-ctx.Done():
		settle.Do(func() {})
		return nil, ctx.Err()
	}
}

// On registers fn for event. The subscription survives reconnects.
func (s *Service) On(event string, fn Listener) ListenerID {
	id := s.newListenerID()
	s.on(event, id, fn)
	return id
}

func (s *Service) on(event string, id ListenerID, fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		s.logger.Warn("listener registered on destroyed service", zap.String("event", event))
		return
	}

	s.registry.add(event, id, fn)
	if s.tr != nil {
		s.tr.On(event, id, fn)
	}
}

// Once registers fn for at most one delivery of event.
func (s *Service) Once(event string, fn Listener) ListenerID {
	id := s.newListenerID()
	var fired atomic.Bool

	s.on(event, id, func(args ...any) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		s.Off(event, id)
		fn(args...)
	})
	return id
}

// Off removes the given listeners of event, or all of them when no id is
// given.
func (s *Service) Off(event string, ids ...ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		ids = s.registry.clear(event)
	} else {
		for _, id := range ids {
			s.registry.remove(event, id)
		}
	}

	if s.tr != nil {
		for _, id := range ids {
			s.tr.Off(event, id)
		}
	}
}

// ListenerCount reports how many registry listeners event has.
func (s *Service) ListenerCount(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registry.count(event)
}

func (s *Service) JoinRoom(ctx context.Context, room string) (any, error) {
	return s.EmitWithAck(ctx, EventJoinRoom, RoomRequest{Room: room}, DefaultAckTimeout)
}

// JoinRoomAs joins room announcing user, so the server can keep a roster.
func (s *Service) JoinRoomAs(ctx context.Context, room string, user User) (any, error) {
	return s.EmitWithAck(ctx, EventJoinRoom, RoomRequest{Room: room, User: &user}, DefaultAckTimeout)
}

func (s *Service) LeaveRoom(ctx context.Context, room string) (any, error) {
	return s.EmitWithAck(ctx, EventLeaveRoom, RoomRequest{Room: room}, DefaultAckTimeout)
}

func (s *Service) SendMessage(msg any) bool {
	return s.Emit(EventSendMessage, msg)
}

func (s *Service) UpdateStatus(userID, status string) bool {
	return s.Emit(EventUpdateStatus, StatusUpdate{UserID: userID, Status: status})
}

func argString(args []any) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case json.RawMessage:
		var str string
		if json.Unmarshal(v, &str) == nil {
			return str
		}
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func argError(args []any) error {
	if len(args) > 0 {
		if err, ok := args[0].(error); ok {
			return err
		}
	}
	if msg := argString(args); msg != "" {
		return errors.New(msg)
	}
	return errors.New("connection error")
}

func argInt(args []any) int {
	if len(args) == 0 {
		return 0
	}
	switch v := args[0].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.RawMessage:
		var n int
		_ = json.Unmarshal(v, &n)
		return n
	default:
		return 0
	}
}
