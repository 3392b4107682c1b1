package transport

import (
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

// newPeerPair returns a WebSocketPeer and the client end of its connection.
func newPeerPair(t *testing.T) (*WebSocketPeer, *websocket.Conn) {
	t.Helper()

	peers := make(chan *WebSocketPeer, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		peers <- NewWebSocketPeer("p1", ws, DefaultPeerConfig(), zap.NewNop())
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case p := <-peers:
		t.Cleanup(func() { p.Close() })
		return p, client
	case <-time.After(2 * time.Second):
		t.Fatal("peer not accepted")
		return nil, nil
	}
}

func TestPeerReadsPacketsAndSkipsGarbage(t *testing.T) {
	peer, client := newPeerPair(t)
	assert.Equal(t, "p1", peer.ID())

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("not a packet")))
	p, err := NewEventPacket("ping", nil, nil)
	require.NoError(t, err)
	data, err := p.Encode()
	require.NoError(t, err)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, data))

	got, err := peer.Read()
	require.NoError(t, err)
	event, _, err := got.Event()
	require.NoError(t, err)
	assert.Equal(t, "ping", event)
}

func TestPeerFlushesQueuedFramesOnClose(t *testing.T) {
	peer, client := newPeerPair(t)

	p, err := NewEventPacket("message", map[string]string{"text": "bye"}, nil)
	require.NoError(t, err)
	require.NoError(t, peer.Write(p))
	require.NoError(t, peer.Write(NewDisconnectPacket(ReasonServerDisconnect)))
	require.NoError(t, peer.Close())

	first := readPacket(t, client)
	assert.Equal(t, PacketEvent, first.Type)
	second := readPacket(t, client)
	assert.Equal(t, ReasonServerDisconnect, second.Reason())

	_, _, err = client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.ErrorIs(t, peer.Write(NewDisconnectPacket(ReasonServerDisconnect)), ErrNotConnected)
	assert.NoError(t, peer.Close())
}
