package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestEnableToggle(t *testing.T) {
	was := Enabled()
	t.Cleanup(func() {
		if was {
			Enable()
		} else {
			Disable()
		}
	})

	Enable()
	assert.True(t, Enabled())
	assert.True(t, Logger().Core().Enabled(zapcore.DebugLevel))

	Disable()
	assert.False(t, Enabled())
	assert.False(t, Logger().Core().Enabled(zapcore.DebugLevel))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		production bool
		want       zapcore.Level
	}{
		{name: "debug development", level: "debug", want: zapcore.DebugLevel},
		{name: "warn production", level: "warn", production: true, want: zapcore.WarnLevel},
		{name: "unknown falls back", level: "chatty", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.level, tt.production)
			require.NoError(t, err)

			assert.True(t, l.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.want-1))
			}
		})
	}
}
