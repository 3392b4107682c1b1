package socket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/socket/transport"
)

// HandlerFunc handles one inbound event on the relay. ack is never nil; it is
// a no-op when the client did not ask for an acknowledgment.
type HandlerFunc func(c *ServerConn, args []json.RawMessage, ack transport.Ack)

// ServerConn is one client connection accepted by a Server.
type ServerConn struct {
	id        string
	transport transport.ServerTransport
	server    *Server
	logger    *zap.Logger

	mu        sync.RWMutex
	user      *User
	connected bool
}

func newServerConn(id string, t transport.ServerTransport, srv *Server) *ServerConn {
	return &ServerConn{
		id:        id,
		transport: t,
		server:    srv,
		logger:    srv.logger.With(zap.String("conn", id)),
		connected: true,
	}
}

func (c *ServerConn) ID() string {
	return c.id
}

// User returns the user announced on join-room, or nil.
func (c *ServerConn) User() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

func (c *ServerConn) SetUser(u User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.user = &u
}

func (c *ServerConn) setStatus(status string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.user == nil {
		return User{}, false
	}
	c.user.Status = status
	return *c.user, true
}

func (c *ServerConn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

// Emit queues event for the client.
func (c *ServerConn) Emit(event string, payload any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	packet, err := transport.NewEventPacket(event, payload, nil)
	if err != nil {
		return err
	}

	if err := c.transport.Write(packet); err != nil {
		c.logger.Debug("write failed", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

// receiveLoop dispatches frames until the connection fails. Handlers run
// sequentially so a client's events are processed in the order sent.
func (c *ServerConn) receiveLoop() {
	c.logger.Debug("starting receive loop")

	for {
		packet, err := c.transport.Read()
		if err != nil {
			c.logger.Debug("read error", zap.Error(err))
			c.shutdown(transport.ReasonTransportClose)
			return
		}

		switch packet.Type {
		case transport.PacketEvent:
			event, args, err := packet.Event()
			if err != nil {
				c.logger.Debug("dropping malformed event", zap.Error(err))
				c.Emit(EventError, ErrorPayload{Message: ErrInvalidMessage.Error()})
				continue
			}
			c.server.dispatch(c, event, args, c.ackFunc(packet.ID))
		case transport.PacketDisconnect:
			c.logger.Debug("client closed the session", zap.String("reason", packet.Reason()))
			c.shutdown(transport.ReasonClientDisconnect)
			return
		}
	}
}

func (c *ServerConn) ackFunc(id *uint64) transport.Ack {
	if id == nil {
		return func(...any) {}
	}

	n := *id
	var once sync.Once
	return func(args ...any) {
		once.Do(func() {
			reply, err := transport.NewAckPacket(n, args...)
			if err != nil {
				c.logger.Warn("cannot encode ack", zap.Error(err))
				return
			}
			if err := c.transport.Write(reply); err != nil {
				c.logger.Debug("ack write failed", zap.Error(err))
			}
		})
	}
}

// shutdown marks the connection closed and notifies the server once.
func (c *ServerConn) shutdown(reason string) bool {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false
	}
	c.connected = false
	c.mu.Unlock()

	c.server.removeConn(c, reason)
	c.transport.Close()
	return true
}

// Close ends the session from the server side. The client observes
// "io server disconnect" and does not reconnect.
func (c *ServerConn) Close() error {
	if c.IsConnected() {
		if err := c.transport.Write(transport.NewDisconnectPacket(transport.ReasonServerDisconnect)); err != nil {
			c.logger.Debug("error sending disconnect frame", zap.Error(err))
		}
	}
	c.shutdown(transport.ReasonServerDisconnect)
	return nil
}
