package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRelay(t *testing.T) (*Server, string) {
	t.Helper()

	relay := NewRelay(WithServerLogger(zap.NewNop()))
	srv := httptest.NewServer(http.HandlerFunc(relay.HandleHTTP))
	t.Cleanup(srv.Close)

	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newRelayClient(t *testing.T, url string) *Service {
	t.Helper()

	svc := NewService(url,
		WithLogger(zap.NewNop()),
		WithHeartbeatInterval(0),
		WithReconnection(false),
	)
	t.Cleanup(svc.Destroy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Connect(ctx))

	return svc
}

// collect forwards the first payload of every event delivery to a channel.
func collect(svc *Service, event string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 16)
	svc.On(event, func(args ...any) {
		if len(args) == 0 {
			ch <- nil
			return
		}
		raw, _ := args[0].(json.RawMessage)
		ch <- raw
	})
	return ch
}

func next[T any](t *testing.T, ch <-chan json.RawMessage) T {
	t.Helper()

	var v T
	select {
	case raw := <-ch:
		require.NoError(t, json.Unmarshal(raw, &v))
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
	return v
}

func decodeResult[T any](t *testing.T, res any) T {
	t.Helper()

	raw, ok := res.(json.RawMessage)
	require.True(t, ok, "unexpected ack type %T", res)

	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRelayRoomRoundTrip(t *testing.T) {
	relay, url := newTestRelay(t)
	ctx := context.Background()

	alice := newRelayClient(t, url)
	joined := collect(alice, EventUserJoined)
	left := collect(alice, EventUserLeft)
	messages := collect(alice, EventMessage)
	roomJoined := collect(alice, EventRoomJoined)

	res, err := alice.JoinRoomAs(ctx, "lobby", User{ID: "a", Name: "Alice"})
	require.NoError(t, err)
	state := decodeResult[RoomState](t, res)
	assert.Equal(t, "lobby", state.Room)
	assert.Equal(t, []User{{ID: "a", Name: "Alice"}}, state.Users)
	assert.Equal(t, "lobby", next[RoomState](t, roomJoined).Room)

	bob := newRelayClient(t, url)
	res, err = bob.JoinRoomAs(ctx, "lobby", User{ID: "b", Name: "Bob"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, userIDs(decodeResult[RoomState](t, res).Users))

	ev := next[RoomUser](t, joined)
	assert.Equal(t, RoomUser{Room: "lobby", User: User{ID: "b", Name: "Bob"}}, ev)

	assert.True(t, bob.SendMessage(ChatMessage{Room: "lobby", Text: "hi"}))
	msg := next[ChatMessage](t, messages)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "b", msg.User.ID)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	_, err = bob.LeaveRoom(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, "b", next[RoomUser](t, left).User.ID)
	assert.Equal(t, []User{{ID: "a", Name: "Alice"}}, relay.Rooms().Users("lobby"))
}

func TestRelayStatusAndPing(t *testing.T) {
	_, url := newTestRelay(t)
	ctx := context.Background()

	alice := newRelayClient(t, url)
	bob := newRelayClient(t, url)
	changes := collect(alice, EventUserStatusChanged)
	pongs := collect(bob, EventPong)

	_, err := alice.JoinRoomAs(ctx, "lobby", User{ID: "a", Name: "Alice"})
	require.NoError(t, err)
	_, err = bob.JoinRoomAs(ctx, "lobby", User{ID: "b", Name: "Bob"})
	require.NoError(t, err)

	assert.True(t, bob.UpdateStatus("b", "away"))
	assert.Equal(t, StatusUpdate{UserID: "b", Status: "away"}, next[StatusUpdate](t, changes))

	assert.True(t, bob.Emit(EventPing, nil))
	select {
	case <-pongs:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
}

func TestRelayRejectsLeavingUnknownRoom(t *testing.T) {
	_, url := newTestRelay(t)

	alice := newRelayClient(t, url)
	errs := collect(alice, EventError)

	res, err := alice.LeaveRoom(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Contains(t, decodeResult[ErrorPayload](t, res).Message, "nowhere")
	assert.Contains(t, next[ErrorPayload](t, errs).Message, "nowhere")
}

func TestRelayAnnouncesDepartureOnDisconnect(t *testing.T) {
	relay, url := newTestRelay(t)
	ctx := context.Background()

	alice := newRelayClient(t, url)
	left := collect(alice, EventUserLeft)
	_, err := alice.JoinRoomAs(ctx, "lobby", User{ID: "a"})
	require.NoError(t, err)

	carol := newRelayClient(t, url)
	_, err = carol.JoinRoomAs(ctx, "lobby", User{ID: "c"})
	require.NoError(t, err)
	require.Equal(t, 2, relay.Count())

	carol.Disconnect()

	assert.Equal(t, "c", next[RoomUser](t, left).User.ID)
	assert.Eventually(t, func() bool { return relay.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"lobby"}, relay.RoomsOf(relay.Conns()[0].ID()))
}

func TestRelayShutdownIsTerminalForClients(t *testing.T) {
	relay, url := newTestRelay(t)

	alice := newRelayClient(t, url)

	require.NoError(t, relay.Shutdown(context.Background()))

	assert.Eventually(t, func() bool {
		return alice.Status().Error == ErrServerDisconnected.Msg
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, alice.IsConnected())
	assert.Zero(t, relay.Count())
}

func userIDs(users []User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
