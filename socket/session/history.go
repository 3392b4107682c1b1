package session

import "github.com/kleeedolinux/socketlink/socket"

// MaxMessages bounds the message history of a Session.
const MaxMessages = 100

// history is a fixed-size ring of the most recent messages.
type history struct {
	buf   [MaxMessages]socket.ChatMessage
	start int
	n     int
}

func (h *history) push(m socket.ChatMessage) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = m
		h.n++
		return
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % len(h.buf)
}

// items returns the messages oldest first.
func (h *history) items() []socket.ChatMessage {
	out := make([]socket.ChatMessage, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *history) len() int {
	return h.n
}

func (h *history) clear() {
	*h = history{}
}
