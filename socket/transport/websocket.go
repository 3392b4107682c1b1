package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/debug"
)

// WebSocket is the client-side Transport over a gorilla/websocket
// connection. It has no reconnection of its own; a closed connection is
// reported once through the disconnect listeners.
type WebSocket struct {
	Listeners

	mu        sync.Mutex
	url       string
	opts      Options
	dialer    *websocket.Dialer
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	writeMu      sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	compression  bool

	ackID  atomic.Uint64
	acks   sync.Map
	logger *zap.Logger
}

type WebSocketOption func(*WebSocket)

func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(t *WebSocket) {
		t.dialer = d
	}
}

// WithReadTimeout bounds the wait for the next frame. Zero disables the
// deadline.
func WithReadTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocket) {
		t.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocket) {
		t.writeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocket) {
		t.compression = enabled
	}
}

func NewWebSocket(url string, opts Options, wsOpts ...WebSocketOption) *WebSocket {
	t := &WebSocket{
		url:          url,
		opts:         opts,
		dialer:       websocket.DefaultDialer,
		writeTimeout: 10 * time.Second,
		logger:       opts.Logger,
	}
	if t.logger == nil {
		t.logger = debug.Logger()
	}
	t.logger = t.logger.With(zap.String("url", url))

	for _, opt := range wsOpts {
		opt(t)
	}

	return t
}

// WebSocketFactory adapts NewWebSocket to a Factory.
func WebSocketFactory(wsOpts ...WebSocketOption) Factory {
	return func(url string, opts Options) Transport {
		return NewWebSocket(url, opts, wsOpts...)
	}
}

func (t *WebSocket) Connect() {
	t.mu.Lock()
	if t.connected || t.cancel != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	go t.dial(ctx)
}

func (t *WebSocket) newDialer() *websocket.Dialer {
	var dialer websocket.Dialer
	if t.opts.ForceNew {
		dialer = websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	} else {
		dialer = *t.dialer
	}
	if t.opts.Timeout > 0 {
		dialer.HandshakeTimeout = t.opts.Timeout
	}
	if t.compression {
		dialer.EnableCompression = true
	}
	return &dialer
}

func (t *WebSocket) dial(ctx context.Context) {
	t.logger.Debug("dialing")

	conn, _, err := t.newDialer().DialContext(ctx, t.url, t.opts.Header)
	if err != nil {
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		t.logger.Debug("dial failed", zap.Error(err))
		t.Dispatch(EventConnectError, err)
		return
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	t.logger.Debug("connected")
	t.Dispatch(EventConnect)

	t.readLoop(conn)
}

func (t *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		if t.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
				t.closed(conn, ReasonTransportError)
				return
			}
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			reason := ReasonTransportError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ReasonTransportClose
			}
			t.logger.Debug("read failed", zap.Error(err), zap.String("reason", reason))
			t.closed(conn, reason)
			return
		}

		packet, err := DecodePacket(data)
		if err != nil {
			t.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		switch packet.Type {
		case PacketEvent:
			t.handleEvent(conn, packet)
		case PacketAck:
			t.handleAck(packet)
		case PacketDisconnect:
			t.logger.Debug("server closed the session", zap.String("reason", packet.Reason()))
			if t.closed(conn, ReasonServerDisconnect) {
				conn.Close()
			}
			return
		}
	}
}

func (t *WebSocket) handleEvent(conn *websocket.Conn, packet *Packet) {
	event, raw, err := packet.Event()
	if err != nil {
		t.logger.Warn("dropping malformed event", zap.Error(err))
		return
	}

	args := Args(raw)
	if packet.ID != nil {
		id := *packet.ID
		args = append(args, Ack(func(ackArgs ...any) {
			reply, err := NewAckPacket(id, ackArgs...)
			if err != nil {
				t.logger.Warn("cannot encode ack", zap.Error(err))
				return
			}
			if err := t.write(conn, reply); err != nil {
				t.logger.Debug("ack write failed", zap.Error(err))
			}
		}))
	}

	t.Dispatch(event, args...)
}

func (t *WebSocket) handleAck(packet *Packet) {
	if packet.ID == nil {
		return
	}

	v, ok := t.acks.LoadAndDelete(*packet.ID)
	if !ok {
		return
	}
	v.(Ack)(Args(packet.Data)...)
}

// closed reports the loss of conn once. It returns false when the connection
// was already torn down by Disconnect.
func (t *WebSocket) closed(conn *websocket.Conn, reason string) bool {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return false
	}
	t.conn = nil
	t.connected = false
	t.cancel = nil
	t.mu.Unlock()

	t.dropAcks()
	t.Dispatch(EventDisconnect, reason)
	return true
}

func (t *WebSocket) dropAcks() {
	t.acks.Range(func(k, _ any) bool {
		t.acks.Delete(k)
		return true
	})
}

func (t *WebSocket) Disconnect() {
	t.mu.Lock()
	cancel := t.cancel
	conn := t.conn
	wasConnected := t.connected
	t.cancel = nil
	t.conn = nil
	t.connected = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		if err := t.write(conn, NewDisconnectPacket(ReasonClientDisconnect)); err != nil {
			t.logger.Debug("error sending disconnect frame", zap.Error(err))
		}

		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err != nil {
			t.logger.Debug("error sending close message", zap.Error(err))
		}

		if err := conn.Close(); err != nil {
			t.logger.Debug("error closing connection", zap.Error(err))
		}
	}

	t.dropAcks()
	if wasConnected {
		t.Dispatch(EventDisconnect, ReasonClientDisconnect)
	}
}

func (t *WebSocket) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected
}

func (t *WebSocket) Emit(event string, payload any, ack Ack) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	var id *uint64
	if ack != nil {
		n := t.ackID.Add(1)
		id = &n
		t.acks.Store(n, ack)
	}

	packet, err := NewEventPacket(event, payload, id)
	if err == nil {
		err = t.write(conn, packet)
	}
	if err != nil && id != nil {
		t.acks.Delete(*id)
	}
	return err
}

func (t *WebSocket) write(conn *websocket.Conn, packet *Packet) error {
	data, err := packet.Encode()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	t.logger.Debug("sending frame", zap.ByteString("data", data))
	return conn.WriteMessage(websocket.TextMessage, data)
}
