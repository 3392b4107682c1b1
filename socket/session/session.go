// Package session turns the application events of a socket.Service into
// observable chat state: message history, room roster, current room and
// current user.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/debug"
	"github.com/kleeedolinux/socketlink/socket"
)

// DefaultPollInterval is how often the Service status is sampled.
const DefaultPollInterval = time.Second

var errNoPayload = errors.New("event without payload")

// State is a point-in-time copy of everything a Session tracks.
type State struct {
	Messages    []socket.ChatMessage `json:"messages"`
	Users       []socket.User        `json:"users"`
	CurrentRoom string               `json:"currentRoom"`
	CurrentUser *socket.User         `json:"currentUser,omitempty"`
	Status      socket.Status        `json:"status"`
	LastError   string               `json:"lastError,omitempty"`
}

type subscription struct {
	event string
	id    socket.ListenerID
}

type Session struct {
	svc          *socket.Service
	clock        clockwork.Clock
	logger       *zap.Logger
	pollInterval time.Duration

	mu        sync.RWMutex
	history   history
	roster    *roster
	room      string
	user      *socket.User
	status    socket.Status
	lastError string

	subs []subscription

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Session)

func WithClock(c clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		s.pollInterval = d
	}
}

// New subscribes to the application events of svc and starts sampling its
// status. Close releases both.
func New(svc *socket.Service, opts ...Option) *Session {
	s := &Session{
		svc:          svc,
		pollInterval: DefaultPollInterval,
		roster:       newRoster(),
		observers:    make(map[int]func()),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
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
	s.logger = s.logger.Named("session")

	s.status = svc.Status()
	s.subscribe()

	ticker := s.clock.NewTicker(s.pollInterval)
	go s.poll(ticker)

	return s
}

func (s *Session) subscribe() {
	on := func(event string, fn func(args []any)) {
		id := s.svc.On(event, func(args ...any) {
			fn(args)
		})
		s.subs = append(s.subs, subscription{event: event, id: id})
	}

	on(socket.EventMessage, s.onMessage)
	on(socket.EventUserJoined, s.onUserJoined)
	on(socket.EventUserLeft, s.onUserLeft)
	on(socket.EventUserStatusChanged, s.onUserStatusChanged)
	on(socket.EventRoomJoined, s.onRoomJoined)
	on(socket.EventRoomLeft, s.onRoomLeft)
	on(socket.EventUsersList, s.onUsersList)
	on(socket.EventError, s.onError)
}

// Close unsubscribes every listener and stops status sampling. The Service
// itself is left as is.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, sub := range s.subs {
			s.svc.Off(sub.event, sub.id)
		}
		s.subs = nil

		close(s.stop)
		<-s.done
	})
}

func (s *Session) poll(ticker clockwork.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.Chan():
			s.refreshStatus()
		}
	}
}

func (s *Session) refreshStatus() {
	st := s.svc.Status()

	s.mu.Lock()
	changed := st != s.status
	s.status = st
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// OnChange registers fn to run after every state change and returns a func
// that removes it.
func (s *Session) OnChange(fn func()) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) notify() {
	s.obsMu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// change applies fn under the state lock and notifies observers.
func (s *Session) change(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()

	s.notify()
}

func (s *Session) Connect(ctx context.Context) error {
	err := s.svc.Connect(ctx)
	s.refreshStatus()
	return err
}

func (s *Session) Disconnect() {
	s.svc.Disconnect()
	s.refreshStatus()
}

func (s *Session) SetCurrentUser(u socket.User) {
	s.change(func() {
		s.user = &u
	})
}

// SendMessage sends text to the current room. It does nothing while
// disconnected or before a current user is set.
func (s *Session) SendMessage(text string) {
	s.mu.RLock()
	user, room := s.user, s.room
	s.mu.RUnlock()

	if user == nil || !s.svc.IsConnected() {
		s.logger.Debug("message dropped", zap.Bool("hasUser", user != nil))
		return
	}

	s.svc.SendMessage(socket.ChatMessage{Room: room, User: *user, Text: text})
}

// JoinRoom joins room, announcing the current user when one is set. Moving
// to a different room clears the history and roster.
func (s *Session) JoinRoom(ctx context.Context, room string) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	var (
		res any
		err error
	)
	if user != nil {
		res, err = s.svc.JoinRoomAs(ctx, room, *user)
	} else {
		res, err = s.svc.JoinRoom(ctx, room)
	}
	if err != nil {
		s.logger.Warn("join room failed", zap.String("room", room), zap.Error(err))
		return err
	}

	var state socket.RoomState
	hasState := decode([]any{res}, &state) == nil && state.Room == room

	s.change(func() {
		s.enterLocked(room)
		if hasState {
			s.roster.replace(state.Users)
		}
	})
	return nil
}

// LeaveRoom leaves room, or the current room when room is empty.
func (s *Session) LeaveRoom(ctx context.Context, room string) error {
	if room == "" {
		room = s.CurrentRoom()
	}

	if _, err := s.svc.LeaveRoom(ctx, room); err != nil {
		s.logger.Warn("leave room failed", zap.String("room", room), zap.Error(err))
		return err
	}

	s.change(func() {
		s.leaveLocked(room)
	})
	return nil
}

// UpdateStatus changes the current user's status and announces it. It
// reports false when no user is set or the announcement was not sent.
func (s *Session) UpdateStatus(status string) bool {
	var id string
	s.change(func() {
		if s.user == nil {
			return
		}
		s.user.Status = status
		id = s.user.ID
		s.roster.setStatus(id, status)
	})

	if id == "" {
		return false
	}
	return s.svc.UpdateStatus(id, status)
}

func (s *Session) enterLocked(room string) {
	if s.room != room {
		s.history.clear()
		s.roster.clear()
	}
	s.room = room
}

func (s *Session) leaveLocked(room string) {
	if s.room != room {
		return
	}
	s.room = ""
	s.roster.clear()
}

func (s *Session) onMessage(args []any) {
	var msg socket.ChatMessage
	if err := decode(args, &msg); err != nil {
		s.logger.Warn("bad message payload", zap.Error(err))
		return
	}

	s.change(func() {
		s.history.push(msg)
	})
}

func (s *Session) onUserJoined(args []any) {
	var ev socket.RoomUser
	if err := decode(args, &ev); err != nil {
		s.logger.Warn("bad user-joined payload", zap.Error(err))
		return
	}

	s.change(func() {
		s.roster.upsert(ev.User)
	})
}

func (s *Session) onUserLeft(args []any) {
	var ev socket.RoomUser
	if err := decode(args, &ev); err != nil {
		s.logger.Warn("bad user-left payload", zap.Error(err))
		return
	}

	s.change(func() {
		s.roster.remove(ev.User.ID)
	})
}

func (s *Session) onUserStatusChanged(args []any) {
	var ev socket.StatusUpdate
	if err := decode(args, &ev); err != nil {
		s.logger.Warn("bad user-status-changed payload", zap.Error(err))
		return
	}

	s.change(func() {
		s.roster.setStatus(ev.UserID, ev.Status)
		if s.user != nil && s.user.ID == ev.UserID {
			s.user.Status = ev.Status
		}
	})
}

func (s *Session) onRoomJoined(args []any) {
	var ev socket.RoomState
	if err := decode(args, &ev); err != nil {
		s.logger.Warn("bad room-joined payload", zap.Error(err))
		return
	}

	s.change(func() {
		s.enterLocked(ev.Room)
		s.roster.replace(ev.Users)
	})
}

func (s *Session) onRoomLeft(args []any) {
	var ev socket.RoomRequest
	if err := decode(args, &ev); err != nil {
		s.logger.Warn("bad room-left payload", zap.Error(err))
		return
	}

	s.change(func() {
		s.leaveLocked(ev.Room)
	})
}

func (s *Session) onUsersList(args []any) {
	var ev socket.RoomState
	if err := decode(args, &ev); err != nil {
		s.logger.Warn("bad users-list payload", zap.Error(err))
		return
	}

	s.change(func() {
		if ev.Room == "" || ev.Room == s.room {
			s.roster.replace(ev.Users)
		}
	})
}

func (s *Session) onError(args []any) {
	var ev socket.ErrorPayload
	if err := decode(args, &ev); err != nil {
		ev.Message = fmt.Sprint(args...)
	}

	s.logger.Warn("server error", zap.String("message", ev.Message))
	s.change(func() {
		s.lastError = ev.Message
	})
}

// Messages returns the history oldest first.
func (s *Session) Messages() []socket.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.history.items()
}

// Users returns the roster in join order.
func (s *Session) Users() []socket.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roster.list()
}

func (s *Session) CurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.room
}

func (s *Session) CurrentUser() *socket.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Status returns the last sampled Service status.
func (s *Session) Status() socket.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastError
}

func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		Messages:    s.history.items(),
		Users:       s.roster.list(),
		CurrentRoom: s.room,
		Status:      s.status,
		LastError:   s.lastError,
	}
	if s.user != nil {
		u := *s.user
		st.CurrentUser = &u
	}
	return st
}

// decode reads the first event argument into v. Arguments arrive as raw JSON
// from the wire, or as Go values from in-process transports.
func decode(args []any, v any) error {
	if len(args) == 0 || args[0] == nil {
		return errNoPayload
	}

	var raw []byte
	switch a := args[0].(type) {
	case json.RawMessage:
		raw = a
	case []byte:
		raw = a
	default:
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to re-encode payload: %w", err)
		}
		raw = b
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
