package secureclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogger_CloseErrorIsWarning(t *testing.T) {
	var out bytes.Buffer
	events := NewEventLogger(slog.New(slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn})))

	events.LogCloseError(context.Background(), "req-1", errors.New("use of closed network connection"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "session_close", record["event"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "secureclient", record["component"])
}
