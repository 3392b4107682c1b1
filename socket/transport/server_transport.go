package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServerTransport is the server side of one accepted connection.
type ServerTransport interface {
	Read() (*Packet, error)
	Write(*Packet) error
	Close() error
	ID() string
}

// PeerConfig tunes a WebSocketPeer. Zero timeouts disable the deadline.
type PeerConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	QueueSize    int
}

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  90 * time.Second,
		QueueSize:    100,
	}
}

// WebSocketPeer is a ServerTransport over an upgraded gorilla connection.
// Writes are queued and sent by a single goroutine; a full queue means the
// client is not keeping up and the connection is closed.
type WebSocketPeer struct {
	id     string
	ws     *websocket.Conn
	cfg    PeerConfig
	logger *zap.Logger

	queue   chan []byte
	quit    chan struct{}
	drained chan struct{}

	mu        sync.Mutex
	shut      bool
	closeOnce sync.Once
	closeErr  error
}

func NewWebSocketPeer(id string, ws *websocket.Conn, cfg PeerConfig, logger *zap.Logger) *WebSocketPeer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultPeerConfig().QueueSize
	}

	p := &WebSocketPeer{
		id:      id,
		ws:      ws,
		cfg:     cfg,
		logger:  logger.With(zap.String("peer", id)),
		queue:   make(chan []byte, cfg.QueueSize),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go p.sendLoop()

	return p
}

func (p *WebSocketPeer) ID() string {
	return p.id
}

func (p *WebSocketPeer) sendLoop() {
	defer close(p.drained)

	for {
		select {
		case frame := <-p.queue:
			if err := p.send(frame); err != nil {
				p.logger.Debug("send failed", zap.Error(err))
				go p.Close()
				return
			}
		case <-p.quit:
			// Frames queued before Close, such as a final disconnect
			// packet, still go out.
			for {
				select {
				case frame := <-p.queue:
					if p.send(frame) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *WebSocketPeer) send(frame []byte) error {
	if p.cfg.WriteTimeout > 0 {
		_ = p.ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	}
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}

// Read returns the next well-formed packet. Malformed frames are skipped.
func (p *WebSocketPeer) Read() (*Packet, error) {
	for {
		if p.cfg.ReadTimeout > 0 {
			_ = p.ws.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
		}

		_, frame, err := p.ws.ReadMessage()
		if err != nil {
			p.Close()
			return nil, err
		}

		packet, err := DecodePacket(frame)
		if err != nil {
			p.logger.Debug("skipping frame", zap.Error(err))
			continue
		}
		return packet, nil
	}
}

// Write queues packet. It fails with ErrNotConnected once the peer is closed
// or when the queue overflows.
func (p *WebSocketPeer) Write(packet *Packet) error {
	frame, err := packet.Encode()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shut {
		return ErrNotConnected
	}

	select {
	case p.queue <- frame:
		return nil
	default:
		p.logger.Warn("send queue full, dropping peer", zap.Int("queue", p.cfg.QueueSize))
		go p.Close()
		return ErrNotConnected
	}
}

// Close stops accepting writes, flushes what is queued, sends a close frame
// and releases the socket. Repeated calls return the first result.
func (p *WebSocketPeer) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.shut = true
		p.mu.Unlock()

		close(p.quit)
		<-p.drained

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		p.closeErr = p.ws.Close()
	})
	return p.closeErr
}

// Upgrader accepts any origin; deployments put the relay behind their own
// origin policy.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}
