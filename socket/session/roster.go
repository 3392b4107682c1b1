package session

import "github.com/kleeedolinux/socketlink/socket"

// roster is the set of users in the current room, kept in join order.
type roster struct {
	users map[string]socket.User
	order []string
}

func newRoster() *roster {
	return &roster{users: make(map[string]socket.User)}
}

func (r *roster) upsert(u socket.User) {
	if u.ID == "" {
		return
	}
	if _, ok := r.users[u.ID]; !ok {
		r.order = append(r.order, u.ID)
	}
	r.users[u.ID] = u
}

func (r *roster) remove(id string) bool {
	if _, ok := r.users[id]; !ok {
		return false
	}
	delete(r.users, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *roster) setStatus(id, status string) bool {
	u, ok := r.users[id]
	if !ok {
		return false
	}
	u.Status = status
	r.users[id] = u
	return true
}

func (r *roster) replace(users []socket.User) {
	r.clear()
	for _, u := range users {
		r.upsert(u)
	}
}

func (r *roster) clear() {
	r.users = make(map[string]socket.User)
	r.order = nil
}

func (r *roster) list() []socket.User {
	out := make([]socket.User, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.users[id])
	}
	return out
}
