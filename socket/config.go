package socket

import (
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/socket/transport"
)

const (
	DefaultAckTimeout    = 5 * time.Second
	ReconnectSettleDelay = 1 * time.Second
)

// Options mirrors the connection options a Service recognises.
type Options struct {
	AutoConnect          bool          `env:"SOCKET_AUTO_CONNECT" envDefault:"false"`
	Reconnection         bool          `env:"SOCKET_RECONNECTION" envDefault:"true"`
	ReconnectionAttempts int           `env:"SOCKET_RECONNECTION_ATTEMPTS" envDefault:"5"`
	ReconnectionDelay    time.Duration `env:"SOCKET_RECONNECTION_DELAY" envDefault:"1s"`
	ReconnectionDelayMax time.Duration `env:"SOCKET_RECONNECTION_DELAY_MAX" envDefault:"5s"`
	Timeout              time.Duration `env:"SOCKET_TIMEOUT" envDefault:"20s"`
	HeartbeatInterval    time.Duration `env:"SOCKET_HEARTBEAT_INTERVAL" envDefault:"30s"`
	ForceNew             bool          `env:"SOCKET_FORCE_NEW" envDefault:"false"`
}

type Config struct {
	URL     string `env:"SOCKET_URL" envDefault:"ws://localhost:3001/socket"`
	Options Options
}

func DefaultOptions() Options {
	return Options{
		Reconnection:         true,
		ReconnectionAttempts: 5,
		ReconnectionDelay:    1 * time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		Timeout:              20 * time.Second,
		HeartbeatInterval:    30 * time.Second,
	}
}

// LoadConfig reads the SOCKET_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load socket config: %w", err)
	}
	return cfg, nil
}

// PartialOptions is a sparse Options. Nil fields keep the value already in
// effect, which lets callers set a false flag or a zero count explicitly.
type PartialOptions struct {
	AutoConnect          *bool
	Reconnection         *bool
	ReconnectionAttempts *int
	ReconnectionDelay    *time.Duration
	ReconnectionDelayMax *time.Duration
	Timeout              *time.Duration
	HeartbeatInterval    *time.Duration
	ForceNew             *bool
}

// Partial returns o with every field set.
func (o Options) Partial() PartialOptions {
	return PartialOptions{
		AutoConnect:          &o.AutoConnect,
		Reconnection:         &o.Reconnection,
		ReconnectionAttempts: &o.ReconnectionAttempts,
		ReconnectionDelay:    &o.ReconnectionDelay,
		ReconnectionDelayMax: &o.ReconnectionDelayMax,
		Timeout:              &o.Timeout,
		HeartbeatInterval:    &o.HeartbeatInterval,
		ForceNew:             &o.ForceNew,
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// merge overlays the set fields of p on base.
func (base Options) merge(p PartialOptions) Options {
	setIf(&base.AutoConnect, p.AutoConnect)
	setIf(&base.Reconnection, p.Reconnection)
	setIf(&base.ReconnectionAttempts, p.ReconnectionAttempts)
	setIf(&base.ReconnectionDelay, p.ReconnectionDelay)
	setIf(&base.ReconnectionDelayMax, p.ReconnectionDelayMax)
	setIf(&base.Timeout, p.Timeout)
	setIf(&base.HeartbeatInterval, p.HeartbeatInterval)
	setIf(&base.ForceNew, p.ForceNew)
	return base
}

type Option func(*Service)

// WithOptions shallow-merges p over the options in effect. Unset fields keep
// their defaults.
func WithOptions(p PartialOptions) Option {
	return func(s *Service) {
		s.opts = s.opts.merge(p)
	}
}

func WithAutoConnect(enabled bool) Option {
	return func(s *Service) {
		s.opts.AutoConnect = enabled
	}
}

func WithReconnection(enabled bool) Option {
	return func(s *Service) {
		s.opts.Reconnection = enabled
	}
}

func WithReconnectionAttempts(attempts int) Option {
	return func(s *Service) {
		s.opts.ReconnectionAttempts = attempts
	}
}

func WithReconnectionDelay(d time.Duration) Option {
	return func(s *Service) {
		s.opts.ReconnectionDelay = d
	}
}

func WithReconnectionDelayMax(d time.Duration) Option {
	return func(s *Service) {
		s.opts.ReconnectionDelayMax = d
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.opts.Timeout = d
	}
}

// WithHeartbeatInterval sets the ping interval. Zero disables the heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Service) {
		s.opts.HeartbeatInterval = d
	}
}

func WithForceNew(enabled bool) Option {
	return func(s *Service) {
		s.opts.ForceNew = enabled
	}
}

func WithHeader(h http.Header) Option {
	return func(s *Service) {
		s.header = h
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func WithTransportFactory(f transport.Factory) Option {
	return func(s *Service) {
		s.factory = f
	}
}
