package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func TestRedactingHandler(t *testing.T) {
	tests := []struct {
		name     string
		attrs    []slog.Attr
		expected map[string]any
	}{
		{
			name: "sensitive keys are redacted",
			attrs: []slog.Attr{
				slog.String("password", "secret123"),
				slog.String("api_token", "abcdef"),
				slog.String("username", "admin"),
			},
			expected: map[string]any{
				"password":  Redacted,
				"api_token": Redacted,
				"username":  "admin",
			},
		},
		{
			name: "case insensitive matching",
			attrs: []slog.Attr{
				slog.String("KerberosTicket", "krb"),
				slog.String("SAML_Assertion", "<xml/>"),
			},
			expected: map[string]any{
				"KerberosTicket": Redacted,
				"SAML_Assertion": Redacted,
			},
		},
		{
			name: "byte payloads are redacted under any key",
			attrs: []slog.Attr{
				slog.Any("body", []byte("HTTP/1.1 200 OK")),
				slog.Int("bytes", 15),
			},
			expected: map[string]any{
				"body":  Redacted,
				"bytes": float64(15),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&out, nil)))
			logger.LogAttrs(t.Context(), slog.LevelInfo, "test", tt.attrs...)

			records := decodeLines(t, &out)
			require.Len(t, records, 1)
			for key, want := range tt.expected {
				assert.Equal(t, want, records[0][key], key)
			}
		})
	}
}

func TestRedactingHandler_GroupsAndWithAttrs(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&out, nil))).
		With("client_secret", "s3cr3t")

	logger.Info("grouped", slog.Group("credentials",
		slog.String("password", "hidden"),
		slog.String("user", "visible"),
	))

	records := decodeLines(t, &out)
	require.Len(t, records, 1)
	assert.Equal(t, Redacted, records[0]["client_secret"])

	group, ok := records[0]["credentials"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Redacted, group["password"])
	assert.Equal(t, "visible", group["user"])
}

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Output: &out})

	logger.Info("dropped")
	logger.Warn("kept", "token", "abc")

	records := decodeLines(t, &out)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0]["msg"])
	assert.Equal(t, Redacted, records[0]["token"])
}

func TestNewLogger_Pretty(t *testing.T) {
	var out bytes.Buffer
	NewLogger(Config{Level: "debug", Pretty: true, Output: &out}).Debug("hello", "k", "v")
	assert.Contains(t, out.String(), "msg=hello")
	assert.Contains(t, out.String(), "k=v")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
