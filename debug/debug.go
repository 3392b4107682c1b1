package debug

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	once   sync.Once
	logger *zap.Logger
)

func init() {
	debugEnv, exists := os.LookupEnv("SOCKETLINK_DEBUG")
	if exists {
		if val, err := strconv.ParseBool(debugEnv); err == nil && val {
			Enable()
		}
	}
}

// Logger returns the process-wide logger shared by components that were not
// given one explicitly.
func Logger() *zap.Logger {
	once.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = level
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		l, err := cfg.Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "debug: falling back to no-op logger: %v\n", err)
			l = zap.NewNop()
		}
		logger = l.Named("socketlink")
	})
	return logger
}

func Enable() {
	level.SetLevel(zapcore.DebugLevel)
}

func Disable() {
	level.SetLevel(zapcore.InfoLevel)
}

func Enabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// New builds a standalone logger for binaries. level is one of zap's level
// names; an unknown level falls back to info. production selects JSON output.
func New(lvl string, production bool) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(lvl)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using info: %v\n", lvl, err)
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zap logger: %w", err)
	}
	return l, nil
}
