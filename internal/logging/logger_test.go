package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel) *Logger {
	return NewLogger(&Config{
		Level:   level,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}, Sync: true}},
		{name: "text format", config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, NewLogger(tt.config))
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	deviceLogger := logger.WithDevice(42)
	deviceLogger.Info("test message")
	assert.Contains(t, buf.String(), "device_id=42")

	buf.Reset()
	deviceLogger.WithClass(19).WithQueue(1234).Info("queue message")
	out := buf.String()
	assert.Contains(t, out, "device_id=42")
	assert.Contains(t, out, "class=19")
	assert.Contains(t, out, "queue_key=1234")
}

func TestLoggerWithRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.WithRequest(2048, "READ").Debug("processing request")
	out := buf.String()
	assert.Contains(t, out, "sector=2048")
	assert.Contains(t, out, "op=READ")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.WithError(errors.New("test error")).Error("operation failed")
	assert.Contains(t, buf.String(), "test error")
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelWarn)

	logger.Info("hidden")
	logger.Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	logger.Warn("shown", "key", "value")
	assert.Contains(t, buf.String(), "key=value")
}

func TestSchedulerEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.GraceArmed("WAIT_NORM", 100*time.Millisecond)
	assert.Contains(t, buf.String(), "grace period armed")
	assert.Contains(t, buf.String(), "flag=WAIT_NORM")

	buf.Reset()
	logger.WithClass(18).Dispatched(3, 24)
	out := buf.String()
	assert.Contains(t, out, "class dispatched")
	assert.Contains(t, out, "class=18")
	assert.Contains(t, out, "requests=3")
	assert.Contains(t, out, "sectors=24")

	buf.Reset()
	logger.WithQueue(7).ClassPromoted(2, 18)
	out = buf.String()
	assert.Contains(t, out, "queue class promoted")
	assert.Contains(t, out, "queue_key=7")
	assert.Contains(t, out, "from=2")
	assert.Contains(t, out, "to=18")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(newTestLogger(&buf, LevelDebug))
	defer SetDefault(prev)

	Debug("debug message", "key", "value")
	out := buf.String()
	assert.Contains(t, out, "debug message")
	assert.Contains(t, out, "key=value")

	buf.Reset()
	Warn("warning message")
	assert.Contains(t, buf.String(), "warning message")

	buf.Reset()
	Error("error message")
	assert.Contains(t, buf.String(), "error message")
}

func TestAsyncWriterClose(t *testing.T) {
	var buf bytes.Buffer
	aw := newAsyncWriter(&buf, 4)

	n, err := aw.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, aw.Close())
	assert.Equal(t, "hello", buf.String())

	_, err = aw.Write([]byte("late"))
	assert.Error(t, err)
}
