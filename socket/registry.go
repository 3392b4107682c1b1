package socket

// registry is the durable record of application subscriptions. Transport
// listener tables are rebuilt from it whenever a transport is created or
// (re)connects. It is guarded by the owning Service's mutex.
type registry struct {
	events map[string][]registryEntry
}

type registryEntry struct {
	id ListenerID
	fn Listener
}

func newRegistry() *registry {
	return &registry{events: make(map[string][]registryEntry)}
}

func (r *registry) add(event string, id ListenerID, fn Listener) {
	r.events[event] = append(r.events[event], registryEntry{id: id, fn: fn})
}

func (r *registry) remove(event string, id ListenerID) bool {
	entries := r.events[event]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(r.events, event)
		} else {
			r.events[event] = entries
		}
		return true
	}
	return false
}

// clear drops every listener of event and returns their ids.
func (r *registry) clear(event string) []ListenerID {
	entries := r.events[event]
	delete(r.events, event)

	ids := make([]ListenerID, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

func (r *registry) reset() {
	r.events = make(map[string][]registryEntry)
}

func (r *registry) count(event string) int {
	return len(r.events[event])
}

func (r *registry) size() int {
	n := 0
	for _, entries := range r.events {
		n += len(entries)
	}
	return n
}

func (r *registry) each(fn func(event string, id ListenerID, l Listener)) {
	for event, entries := range r.events {
		for _, e := range entries {
			fn(event, e.id, e.fn)
		}
	}
}
