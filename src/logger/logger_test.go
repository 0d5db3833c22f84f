package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct{ level string }

func (f fakeConfig) GetLogLevel() string { return f.level }

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetOutput(buf)
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() {
		SetOutput(zerolog.ConsoleWriter{Out: &bytes.Buffer{}})
		zerolog.SetGlobalLevel(prev)
	})
	return buf
}

func Test_ParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"Warning", zerolog.WarnLevel, false},
		{"ERROR", zerolog.ErrorLevel, false},
		{"CRITICAL", zerolog.FatalLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lvl, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, lvl)
		})
	}
}

func Test_LoggerFiltersByLevel(t *testing.T) {
	buf := captureOutput(t)

	log := NewLogger(fakeConfig{level: "WARNING"}, "reconciler")
	log.Info("hidden %d", 1)
	log.Warning("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, `"component":"reconciler"`)
}

func Test_LoggerWithAddsField(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")

	log := NewLogger(nil, "controller").With("asset_class", "crypto")
	log.Debug("state %s", "RUNNING")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"asset_class":"crypto"`)
	assert.Contains(t, out, "state RUNNING")
	assert.Equal(t, "controller", log.Name())
}

func Test_SetVerbosity(t *testing.T) {
	captureOutput(t)

	SetVerbosity(0)
	assert.Equal(t, zerolog.FatalLevel, zerolog.GlobalLevel())
	SetVerbosity(1)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	SetVerbosity(2)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	SetVerbosity(3)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
