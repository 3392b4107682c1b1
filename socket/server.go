package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/debug"
	"github.com/kleeedolinux/socketlink/socket/transport"
)

// Server accepts WebSocket clients, dispatches their events to handlers and
// tracks room membership.
type Server struct {
	mu       sync.RWMutex
	conns    map[string]*ServerConn
	handlers map[string][]HandlerFunc

	rooms *RoomManager

	maxConcurrency       int
	concurrencySemaphore chan struct{}
	compressionEnabled   bool
	bufferSize           int
	readTimeout          time.Duration
	logger               *zap.Logger
}

type ServerOption func(*Server)

// WithMaxConcurrency caps the number of simultaneously open connections.
func WithMaxConcurrency(maxConcurrent int) ServerOption {
	return func(s *Server) {
		s.maxConcurrency = maxConcurrent
		s.concurrencySemaphore = make(chan struct{}, maxConcurrent)
	}
}

func WithCompression(enabled bool) ServerOption {
	return func(s *Server) {
		s.compressionEnabled = enabled
	}
}

func WithBufferSize(size int) ServerOption {
	return func(s *Server) {
		s.bufferSize = size
	}
}

// WithReadTimeout closes connections that stay silent for d. The client
// heartbeat keeps healthy connections alive.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout = d
	}
}

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		conns:          make(map[string]*ServerConn),
		handlers:       make(map[string][]HandlerFunc),
		rooms:          NewRoomManager(),
		maxConcurrency: 100,
		bufferSize:     1024,
		readTimeout:    transport.DefaultPeerConfig().ReadTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = debug.Logger()
	}
	s.logger = s.logger.Named("server")

	if s.concurrencySemaphore == nil && s.maxConcurrency > 0 {
		s.concurrencySemaphore = make(chan struct{}, s.maxConcurrency)
	}

	return s
}

// HandleHTTP upgrades the request and serves the connection until it closes.
func (s *Server) HandleHTTP(w http.ResponseWriter, r *http.Request) {
	if s.concurrencySemaphore != nil {
		select {
		case s.concurrencySemaphore <- struct{}{}:
			defer func() {
				<-s.concurrencySemaphore
			}()
		default:
			http.Error(w, "Too many connections", http.StatusServiceUnavailable)
			return
		}
	}

	upgrader := transport.Upgrader
	if s.compressionEnabled {
		upgrader.EnableCompression = true
	}
	upgrader.ReadBufferSize = s.bufferSize
	upgrader.WriteBufferSize = s.bufferSize

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()

	cfg := transport.DefaultPeerConfig()
	cfg.ReadTimeout = s.readTimeout

	c := newServerConn(id, transport.NewWebSocketPeer(id, ws, cfg, s.logger), s)
	s.addConn(c)

	c.receiveLoop()
}

func (s *Server) addConn(c *ServerConn) {
	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()

	s.logger.Debug("connection added", zap.String("conn", c.ID()))

	s.dispatch(c, EventConnect, nil, func(...any) {})
}

// removeConn runs the disconnect handlers while the connection still holds
// its room memberships, then drops them.
func (s *Server) removeConn(c *ServerConn, reason string) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()

	s.logger.Debug("connection removed", zap.String("conn", c.ID()), zap.String("reason", reason))

	raw, _ := json.Marshal(reason)
	s.dispatch(c, EventDisconnect, []json.RawMessage{raw}, func(...any) {})

	s.rooms.LeaveAll(c.ID())
}

// HandleFunc registers handler for event. EventConnect and EventDisconnect
// handlers observe the connection lifecycle.
func (s *Server) HandleFunc(event string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[event] = append(s.handlers[event], handler)
}

// HandleDefault registers a handler for events without their own handlers.
func (s *Server) HandleDefault(handler HandlerFunc) {
	s.HandleFunc("*", handler)
}

func (s *Server) dispatch(c *ServerConn, event string, args []json.RawMessage, ack transport.Ack) {
	s.mu.RLock()
	handlers := s.handlers[event]
	if len(handlers) == 0 && event != EventConnect && event != EventDisconnect {
		handlers = s.handlers["*"]
	}
	s.mu.RUnlock()

	s.logger.Debug("dispatching event", zap.String("conn", c.ID()), zap.String("event", event), zap.Int("handlers", len(handlers)))

	for _, handler := range handlers {
		handler(c, args, ack)
	}
}

func (s *Server) Broadcast(event string, payload any) {
	for _, c := range s.Conns() {
		if err := c.Emit(event, payload); err != nil {
			s.logger.Debug("broadcast failed", zap.String("conn", c.ID()), zap.Error(err))
		}
	}
}

func (s *Server) BroadcastToRoom(room string, event string, payload any) {
	s.rooms.Broadcast(room, event, payload, "")
}

// BroadcastToRoomExcept skips the connection with id except.
func (s *Server) BroadcastToRoomExcept(room string, except string, event string, payload any) {
	s.rooms.Broadcast(room, event, payload, except)
}

func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conns)
}

func (s *Server) Conns() []*ServerConn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := make([]*ServerConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) GetConn(id string) (*ServerConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.conns[id]
	return c, exists
}

// Shutdown ends every session with "io server disconnect".
func (s *Server) Shutdown(ctx context.Context) error {
	conns := s.Conns()
	s.logger.Info("shutting down", zap.Int("connections", len(conns)))

	for _, c := range conns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Close(); err != nil {
			s.logger.Warn("error closing connection", zap.String("conn", c.ID()), zap.Error(err))
		}
	}

	return nil
}

func (s *Server) Join(connID string, room string) bool {
	c, exists := s.GetConn(connID)
	if exists {
		s.rooms.Join(room, c)
	}
	return exists
}

func (s *Server) Leave(connID string, room string) bool {
	return s.rooms.Leave(room, connID)
}

func (s *Server) RoomsOf(connID string) []string {
	return s.rooms.RoomsOf(connID)
}

func (s *Server) Rooms() *RoomManager {
	return s.rooms
}

func (s *Server) In(room string) []*ServerConn {
	r, exists := s.rooms.GetRoom(room)
	if !exists {
		return nil
	}
	return r.Conns()
}
