package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Time: time.Now(), Message: "m"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	tests := []struct {
		name    string
		field   zap.Field
		leak    string
		present string
	}{
		{"sensitive key", zap.String("api_key", "abc123"), "abc123", `"api_key":"[REDACTED]"`},
		{"case insensitive key", zap.String("Authorization", "Basic xyz"), "xyz", `"Authorization":"[REDACTED]"`},
		{"bearer pattern", zap.String("header", "Bearer eyJhbGciOi"), "eyJhbGciOi", "[REDACTED:pattern]"},
		{"openai key pattern", zap.String("msg", "using sk-abcdefghijklmnop1234"), "sk-abcdefghijklmnop1234", "[REDACTED:pattern]"},
		{"plain field kept", zap.String("query", "what is a linked list"), "", "what is a linked list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encode(t, enc, tt.field)
			if tt.leak != "" {
				assert.NotContains(t, out, tt.leak)
			}
			assert.Contains(t, out, tt.present)
		})
	}
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	clone := enc.Clone()
	clone.AddString("token", "t0ken")
	out := encode(t, clone)

	assert.NotContains(t, out, "t0ken")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: false})
	require.NoError(t, err)

	assert.Contains(t, encode(t, enc, zap.String("api_key", "abc123")), "abc123")
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("provider_key", config.Secret("sk-1234"))
	assert.Equal(t, "[REDACTED:7]", f.String)
}
