package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newPeer serves handle on a test server and returns its ws:// URL.
func newPeer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readPacket(t *testing.T, conn *websocket.Conn) *Packet {
	t.Helper()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	p, err := DecodePacket(data)
	require.NoError(t, err)
	return p
}

func writePacket(t *testing.T, conn *websocket.Conn, p *Packet) {
	t.Helper()

	data, err := p.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func newTestWebSocket(url string) *WebSocket {
	return NewWebSocket(url, Options{Timeout: 2 * time.Second, Logger: zap.NewNop()})
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting")
		var zero T
		return zero
	}
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWebSocketConnectAndClientDisconnect(t *testing.T) {
	gotReason := make(chan string, 1)
	url := newPeer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if p, err := DecodePacket(data); err == nil && p.Type == PacketDisconnect {
				gotReason <- p.Reason()
			}
		}
	})

	ws := newTestWebSocket(url)
	connected := make(chan struct{}, 1)
	reasons := make(chan string, 1)
	ws.On(EventConnect, 1, func(...any) { connected <- struct{}{} })
	ws.On(EventDisconnect, 2, func(args ...any) { reasons <- args[0].(string) })

	ws.Connect()
	waitFor(t, connected)
	assert.True(t, ws.Connected())

	ws.Disconnect()

	assert.Equal(t, ReasonClientDisconnect, waitFor(t, reasons))
	assert.Equal(t, ReasonClientDisconnect, waitFor(t, gotReason))
	assert.False(t, ws.Connected())
}

func TestWebSocketEmitWithAck(t *testing.T) {
	url := newPeer(t, func(conn *websocket.Conn) {
		p := readPacket(t, conn)
		event, args, err := p.Event()
		if err != nil || p.ID == nil {
			return
		}

		var req map[string]string
		_ = json.Unmarshal(args[0], &req)
		reply, _ := NewAckPacket(*p.ID, map[string]string{"event": event, "room": req["room"]})
		writePacket(t, conn, reply)
		drain(conn)
	})

	ws := newTestWebSocket(url)
	connected := make(chan struct{}, 1)
	ws.On(EventConnect, 1, func(...any) { connected <- struct{}{} })
	ws.Connect()
	waitFor(t, connected)
	defer ws.Disconnect()

	acked := make(chan []any, 1)
	require.NoError(t, ws.Emit("join-room", map[string]string{"room": "lobby"}, func(args ...any) {
		acked <- args
	}))

	args := waitFor(t, acked)
	require.Len(t, args, 1)
	raw, ok := args[0].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"event":"join-room","room":"lobby"}`, string(raw))
}

func TestWebSocketInboundEventWithAck(t *testing.T) {
	replies := make(chan *Packet, 1)
	url := newPeer(t, func(conn *websocket.Conn) {
		id := uint64(5)
		p, _ := NewEventPacket("greet", map[string]string{"name": "ada"}, &id)
		writePacket(t, conn, p)
		replies <- readPacket(t, conn)
		drain(conn)
	})

	ws := newTestWebSocket(url)
	ws.On("greet", 1, func(args ...any) {
		require.Len(t, args, 2)
		ack, ok := args[1].(Ack)
		require.True(t, ok)
		ack("hello ada")
	})
	ws.Connect()
	defer ws.Disconnect()

	reply := waitFor(t, replies)
	assert.Equal(t, PacketAck, reply.Type)
	require.NotNil(t, reply.ID)
	assert.Equal(t, uint64(5), *reply.ID)
	assert.JSONEq(t, `"hello ada"`, string(reply.Data[0]))
}

func TestWebSocketServerDisconnect(t *testing.T) {
	url := newPeer(t, func(conn *websocket.Conn) {
		writePacket(t, conn, NewDisconnectPacket(ReasonServerDisconnect))
		drain(conn)
	})

	ws := newTestWebSocket(url)
	reasons := make(chan string, 1)
	ws.On(EventDisconnect, 1, func(args ...any) { reasons <- args[0].(string) })
	ws.Connect()

	assert.Equal(t, ReasonServerDisconnect, waitFor(t, reasons))
	assert.False(t, ws.Connected())
}

func TestWebSocketTransportClose(t *testing.T) {
	url := newPeer(t, func(conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
	})

	ws := newTestWebSocket(url)
	reasons := make(chan string, 1)
	ws.On(EventDisconnect, 1, func(args ...any) { reasons <- args[0].(string) })
	ws.Connect()

	assert.Equal(t, ReasonTransportClose, waitFor(t, reasons))
}

func TestWebSocketConnectError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ws := newTestWebSocket(url)
	failures := make(chan error, 1)
	ws.On(EventConnectError, 1, func(args ...any) { failures <- args[0].(error) })
	ws.Connect()

	err := waitFor(t, failures)
	assert.Error(t, err)
	assert.False(t, ws.Connected())
}

func TestWebSocketEmitWhenClosed(t *testing.T) {
	ws := newTestWebSocket("ws://127.0.0.1:0/socket")

	err := ws.Emit("ping", nil, nil)
	assert.True(t, errors.Is(err, ErrNotConnected))
}
