package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/socket/transport"
)

var errRoomRequired = errors.New("room is required")

// NewRelay returns a Server that implements the chat room contract spoken by
// Service and session.Session.
func NewRelay(opts ...ServerOption) *Server {
	s := NewServer(opts...)

	s.HandleFunc(EventJoinRoom, s.handleJoinRoom)
	s.HandleFunc(EventLeaveRoom, s.handleLeaveRoom)
	s.HandleFunc(EventSendMessage, s.handleSendMessage)
	s.HandleFunc(EventUpdateStatus, s.handleUpdateStatus)
	s.HandleFunc(EventPing, func(c *ServerConn, _ []json.RawMessage, ack transport.Ack) {
		c.Emit(EventPong, nil)
		ack()
	})
	s.HandleFunc(EventDisconnect, s.handleGone)
	s.HandleDefault(func(c *ServerConn, args []json.RawMessage, ack transport.Ack) {
		c.logger.Debug("unhandled event")
	})

	return s
}

func decodeArg(args []json.RawMessage, v any) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}
	if err := json.Unmarshal(args[0], v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (s *Server) reject(c *ServerConn, ack transport.Ack, err error) {
	payload := ErrorPayload{Message: err.Error()}
	c.Emit(EventError, payload)
	ack(payload)
}

func (s *Server) handleJoinRoom(c *ServerConn, args []json.RawMessage, ack transport.Ack) {
	var req RoomRequest
	if err := decodeArg(args, &req); err != nil {
		s.reject(c, ack, err)
		return
	}
	if req.Room == "" {
		s.reject(c, ack, errRoomRequired)
		return
	}

	if req.User != nil {
		c.SetUser(*req.User)
	}
	s.Join(c.ID(), req.Room)

	state := RoomState{Room: req.Room, Users: s.rooms.Users(req.Room)}
	s.logger.Info("joined room", zap.String("conn", c.ID()), zap.String("room", req.Room), zap.Int("users", len(state.Users)))

	ack(state)
	c.Emit(EventRoomJoined, state)
	c.Emit(EventUsersList, state)

	if u := c.User(); u != nil {
		s.BroadcastToRoomExcept(req.Room, c.ID(), EventUserJoined, RoomUser{Room: req.Room, User: *u})
	}
}

func (s *Server) handleLeaveRoom(c *ServerConn, args []json.RawMessage, ack transport.Ack) {
	var req RoomRequest
	if err := decodeArg(args, &req); err != nil {
		s.reject(c, ack, err)
		return
	}

	if !s.Leave(c.ID(), req.Room) {
		s.reject(c, ack, fmt.Errorf("not a member of room %q", req.Room))
		return
	}

	s.logger.Info("left room", zap.String("conn", c.ID()), zap.String("room", req.Room))

	left := RoomRequest{Room: req.Room}
	ack(left)
	c.Emit(EventRoomLeft, left)

	if u := c.User(); u != nil {
		s.BroadcastToRoom(req.Room, EventUserLeft, RoomUser{Room: req.Room, User: *u})
	}
}

func (s *Server) handleSendMessage(c *ServerConn, args []json.RawMessage, ack transport.Ack) {
	var msg ChatMessage
	if err := decodeArg(args, &msg); err != nil {
		s.reject(c, ack, err)
		return
	}

	rooms := s.RoomsOf(c.ID())
	if msg.Room == "" && len(rooms) == 1 {
		msg.Room = rooms[0]
	}
	if !slices.Contains(rooms, msg.Room) {
		s.reject(c, ack, fmt.Errorf("not a member of room %q", msg.Room))
		return
	}

	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	if u := c.User(); u != nil && msg.User.ID == "" {
		msg.User = *u
	}

	ack(msg)
	s.BroadcastToRoom(msg.Room, EventMessage, msg)
}

func (s *Server) handleUpdateStatus(c *ServerConn, args []json.RawMessage, ack transport.Ack) {
	var update StatusUpdate
	if err := decodeArg(args, &update); err != nil {
		s.reject(c, ack, err)
		return
	}

	if u, ok := c.setStatus(update.Status); ok && update.UserID == "" {
		update.UserID = u.ID
	}

	ack(update)
	for _, room := range s.RoomsOf(c.ID()) {
		s.BroadcastToRoom(room, EventUserStatusChanged, update)
	}
}

// handleGone tells the remaining members of each room that the user left.
func (s *Server) handleGone(c *ServerConn, _ []json.RawMessage, _ transport.Ack) {
	u := c.User()
	if u == nil {
		return
	}

	for _, room := range s.RoomsOf(c.ID()) {
		s.BroadcastToRoomExcept(room, c.ID(), EventUserLeft, RoomUser{Room: room, User: *u})
	}
}
