package socket

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

const defaultBroadcastWorkers = 10

type Room struct {
	name  string
	conns map[string]*ServerConn
	mu    sync.RWMutex
}

func NewRoom(name string) *Room {
	return &Room{
		name:  name,
		conns: make(map[string]*ServerConn),
	}
}

func (r *Room) Add(c *ServerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

func (r *Room) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Room) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.conns[id]
	return exists
}

func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Room) Name() string {
	return r.name
}

// Conns returns the members ordered by connection id.
func (r *Room) Conns() []*ServerConn {
	r.mu.RLock()
	conns := make([]*ServerConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ID() < conns[j].ID()
	})
	return conns
}

// Users returns the users announced by the members. Members that joined
// without a user are left out.
func (r *Room) Users() []User {
	users := []User{}
	for _, c := range r.Conns() {
		if u := c.User(); u != nil {
			users = append(users, *u)
		}
	}
	return users
}

// Broadcast sends event to every member except the connection with id
// except, fanning the writes out over at most workerLimit goroutines.
func (r *Room) Broadcast(event string, payload any, except string, workerLimit int) {
	var targets []*ServerConn
	for _, c := range r.Conns() {
		if c.ID() != except {
			targets = append(targets, c)
		}
	}

	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	workerCount := min(len(targets), workerLimit)
	jobs := make(chan *ServerConn, len(targets))

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if err := c.Emit(event, payload); err != nil {
					c.logger.Debug("room broadcast failed", zap.String("room", r.name), zap.String("event", event), zap.Error(err))
				}
			}
		}()
	}

	for _, c := range targets {
		jobs <- c
	}
	close(jobs)

	wg.Wait()
}

type RoomManager struct {
	rooms map[string]*Room
	mu    sync.RWMutex
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
	}
}

func (rm *RoomManager) GetRoom(name string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, exists := rm.rooms[name]
	return room, exists
}

func (rm *RoomManager) getOrCreate(name string) *Room {
	rm.mu.RLock()
	room, exists := rm.rooms[name]
	rm.mu.RUnlock()

	if !exists {
		rm.mu.Lock()
		if room, exists = rm.rooms[name]; !exists {
			room = NewRoom(name)
			rm.rooms[name] = room
		}
		rm.mu.Unlock()
	}

	return room
}

func (rm *RoomManager) Rooms() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	rooms := make([]string, 0, len(rm.rooms))
	for name := range rm.rooms {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)

	return rooms
}

func (rm *RoomManager) Join(name string, c *ServerConn) {
	rm.getOrCreate(name).Add(c)
}

// Leave removes the connection from the room and drops the room once empty.
// It reports whether the connection was a member.
func (rm *RoomManager) Leave(name string, connID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, exists := rm.rooms[name]
	if !exists || !room.Has(connID) {
		return false
	}

	room.Remove(connID)
	if room.Count() == 0 {
		delete(rm.rooms, name)
	}
	return true
}

// LeaveAll removes the connection from every room and returns the rooms it
// was in.
func (rm *RoomManager) LeaveAll(connID string) []string {
	var left []string
	for _, name := range rm.RoomsOf(connID) {
		if rm.Leave(name, connID) {
			left = append(left, name)
		}
	}
	return left
}

func (rm *RoomManager) RoomsOf(connID string) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var rooms []string
	for name, room := range rm.rooms {
		if room.Has(connID) {
			rooms = append(rooms, name)
		}
	}
	sort.Strings(rooms)

	return rooms
}

func (rm *RoomManager) Users(name string) []User {
	room, exists := rm.GetRoom(name)
	if !exists {
		return []User{}
	}
	return room.Users()
}

func (rm *RoomManager) Broadcast(name string, event string, payload any, except string) {
	room, exists := rm.GetRoom(name)
	if exists {
		room.Broadcast(event, payload, except, defaultBroadcastWorkers)
	}
}
