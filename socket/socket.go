package socket

import (
	"errors"
	"time"

	"github.com/kleeedolinux/socketlink/socket/transport"
)

// Outbound events.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventSendMessage  = "send-message"
	EventUpdateStatus = "update-status"
	EventPing         = "ping"
)

// Inbound lifecycle events.
const (
	EventConnect          = transport.EventConnect
	EventConnectError     = transport.EventConnectError
	EventDisconnect       = transport.EventDisconnect
	EventReconnectAttempt = transport.EventReconnectAttempt
	EventReconnect        = transport.EventReconnect
	EventReconnectFailed  = transport.EventReconnectFailed
	EventPong             = "pong"
)

// Inbound application events.
const (
	EventMessage           = "message"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventUserStatusChanged = "user-status-changed"
	EventRoomJoined        = "room-joined"
	EventRoomLeft          = "room-left"
	EventUsersList         = "users-list"
	EventError             = "error"
)

type (
	ListenerID = transport.ListenerID
	Listener   = transport.Listener
)

// RoomRequest is the payload of join-room and leave-room.
type RoomRequest struct {
	Room string `json:"room"`
	User *User  `json:"user,omitempty"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// StatusUpdate is the payload of update-status.
type StatusUpdate struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ChatMessage is the payload of send-message and message. The relay fills in
// ID and Timestamp.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	Room      string    `json:"room"`
	User      User      `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// RoomState is the payload of room-joined, users-list and the join-room ack.
type RoomState struct {
	Room  string `json:"room"`
	Users []User `json:"users"`
}

// RoomUser is the payload of user-joined and user-left.
type RoomUser struct {
	Room string `json:"room"`
	User User   `json:"user"`
}

// ErrorPayload is the payload of the error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindNotConnected
	KindTransport
	KindServerDisconnected
	KindMaxAttemptsReached
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotConnected:
		return "not_connected"
	case KindTransport:
		return "transport"
	case KindServerDisconnected:
		return "server_disconnected"
	case KindMaxAttemptsReached:
		return "max_attempts_reached"
	default:
		return "unknown"
	}
}

// Error is returned by every asynchronous Service operation. Msg is short and
// stable; transport errors carry the underlying message verbatim.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target without a message
// matches any error of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Msg: err.Error(), Err: err}
}

// KindOf classifies err, returning KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	ErrConnectionTimeout    = &Error{Kind: KindTimeout, Msg: "Connection timeout"}
	ErrAckTimeout           = &Error{Kind: KindTimeout, Msg: "Acknowledgment timeout"}
	ErrNotConnected         = &Error{Kind: KindNotConnected, Msg: "Socket not connected"}
	ErrServerDisconnected   = &Error{Kind: KindServerDisconnected, Msg: "Server disconnected"}
	ErrMaxReconnectAttempts = &Error{Kind: KindMaxAttemptsReached, Msg: "Max reconnection attempts reached"}

	ErrDestroyed      = errors.New("socket service destroyed")
	ErrInvalidMessage = errors.New("invalid message format")
)
