package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/socket"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{key: "client.url", value: "ws://relay:3001/socket", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, "ws://relay:3001/socket", cfg.Client.URL)
		}},
		{key: "client.timeout", value: "3s", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, "3s", cfg.Client.Timeout)
		}},
		{key: "client.reconnection_attempts", value: "9", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, 9, cfg.Client.ReconnectionAttempts)
		}},
		{key: "server.max_connections", value: "50", check: func(t *testing.T, cfg *Config) {
			assert.Equal(t, 50, cfg.Server.MaxConnections)
		}},
		{key: "log.production", value: "true", check: func(t *testing.T, cfg *Config) {
			assert.True(t, cfg.Log.Production)
		}},
		{key: "client.timeout", value: "soon", wantErr: "invalid duration"},
		{key: "server.max_connections", value: "many", wantErr: "invalid number"},
		{key: "client.color", value: "blue", wantErr: "unknown field"},
		{key: "theme.color", value: "blue", wantErr: "unknown config section"},
		{key: "url", value: "x", wantErr: "dot notation"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := &Config{}
			err := setConfigValue(cfg, tt.key, tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "config.toml")
	t.Cleanup(func() { cfgFile = "" })

	empty, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, empty)

	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "client.url", "ws://relay:4000/socket"))
	require.NoError(t, setConfigValue(cfg, "client.room", "lobby"))
	require.NoError(t, setConfigValue(cfg, "log.level", "warn"))
	require.NoError(t, saveConfig(cfg))

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestClientConfigOverridesEnvironment(t *testing.T) {
	t.Setenv("SOCKET_URL", "ws://from-env/socket")
	t.Setenv("SOCKET_TIMEOUT", "7s")

	sc, err := clientConfig(&Config{})
	require.NoError(t, err)
	assert.Equal(t, "ws://from-env/socket", sc.URL)
	assert.Equal(t, 7*time.Second, sc.Options.Timeout)

	sc, err = clientConfig(&Config{Client: ConfigClient{
		URL:                  "ws://from-file/socket",
		Timeout:              "2s",
		ReconnectionAttempts: 3,
	}})
	require.NoError(t, err)
	assert.Equal(t, "ws://from-file/socket", sc.URL)
	assert.Equal(t, 2*time.Second, sc.Options.Timeout)
	assert.Equal(t, 3, sc.Options.ReconnectionAttempts)

	_, err = clientConfig(&Config{Client: ConfigClient{Timeout: "later"}})
	assert.Error(t, err)
}

func TestRouterServesRelayAndHealth(t *testing.T) {
	logger = zap.NewNop()
	relay := socket.NewRelay(socket.WithServerLogger(logger))
	srv := httptest.NewServer(newRouter(relay))
	t.Cleanup(srv.Close)

	svc := socket.NewService("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket",
		socket.WithLogger(logger),
		socket.WithHeartbeatInterval(0),
		socket.WithReconnection(false),
	)
	t.Cleanup(svc.Destroy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Connect(ctx))
	_, err := svc.JoinRoomAs(ctx, "lobby", socket.User{ID: "u1", Name: "Ada"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status      string   `json:"status"`
		Connections int      `json:"connections"`
		Rooms       []string `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Connections)
	assert.Equal(t, []string{"lobby"}, health.Rooms)
}

func TestValueOrDefault(t *testing.T) {
	assert.Equal(t, ":3001", valueOrDefault("", ":3001"))
	assert.Equal(t, ":8080", valueOrDefault(":8080", ":3001"))
}
