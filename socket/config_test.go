package socket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsMatchDefaultOptions(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:3001/socket", cfg.URL)
	assert.Equal(t, DefaultOptions(), cfg.Options)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SOCKET_URL", "ws://chat.example.com/socket")
	t.Setenv("SOCKET_RECONNECTION", "false")
	t.Setenv("SOCKET_RECONNECTION_ATTEMPTS", "9")
	t.Setenv("SOCKET_TIMEOUT", "3s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ws://chat.example.com/socket", cfg.URL)
	assert.False(t, cfg.Options.Reconnection)
	assert.Equal(t, 9, cfg.Options.ReconnectionAttempts)
	assert.Equal(t, 3*time.Second, cfg.Options.Timeout)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("SOCKET_TIMEOUT", "soon")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func ref[T any](v T) *T {
	return &v
}

func TestWithOptionsMergesOverDefaults(t *testing.T) {
	svc := NewService(testURL,
		WithOptions(PartialOptions{ReconnectionAttempts: ref(2)}),
		WithTimeout(7*time.Second),
	)
	defer svc.Destroy()

	opts := svc.Options()
	assert.Equal(t, 2, opts.ReconnectionAttempts)
	assert.Equal(t, 7*time.Second, opts.Timeout)
	assert.True(t, opts.Reconnection)
	assert.Equal(t, time.Second, opts.ReconnectionDelay)
	assert.Equal(t, 5*time.Second, opts.ReconnectionDelayMax)
	assert.Equal(t, 30*time.Second, opts.HeartbeatInterval)
	assert.False(t, opts.AutoConnect)
	assert.False(t, opts.ForceNew)
}

func TestWithOptionsHonoursExplicitZeroValues(t *testing.T) {
	svc := NewService(testURL, WithOptions(PartialOptions{
		Reconnection:         ref(false),
		ReconnectionAttempts: ref(0),
		HeartbeatInterval:    ref(time.Duration(0)),
	}))
	defer svc.Destroy()

	opts := svc.Options()
	assert.False(t, opts.Reconnection)
	assert.Zero(t, opts.ReconnectionAttempts)
	assert.Zero(t, opts.HeartbeatInterval)
	assert.Equal(t, 20*time.Second, opts.Timeout)
}

func TestPartialRoundTripsFullOptions(t *testing.T) {
	full := Options{
		AutoConnect:          true,
		ReconnectionAttempts: 1,
		ReconnectionDelay:    time.Millisecond,
		Timeout:              time.Second,
		ForceNew:             true,
	}

	assert.Equal(t, full, DefaultOptions().merge(full.Partial()))
}

func TestRegistry(t *testing.T) {
	r := newRegistry()
	noop := func(...any) {}

	r.add("message", 1, noop)
	r.add("message", 2, noop)
	r.add("error", 3, noop)
	assert.Equal(t, 3, r.size())

	assert.True(t, r.remove("message", 1))
	assert.False(t, r.remove("message", 1))
	assert.Equal(t, 1, r.count("message"))

	assert.Equal(t, []ListenerID{2}, r.clear("message"))
	assert.Zero(t, r.count("message"))

	r.reset()
	assert.Zero(t, r.size())
}
