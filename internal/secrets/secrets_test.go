package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAllowlist(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		allow, err := LoadAllowlist("")
		require.NoError(t, err)
		assert.Empty(t, allow.Regexes)
	})

	t.Run("missing file", func(t *testing.T) {
		allow, err := LoadAllowlist(filepath.Join(t.TempDir(), "nope.toml"))
		require.NoError(t, err)
		assert.Empty(t, allow.Regexes)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allow.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[allowlist]
regexes = ['''sk-course-[a-z]+''']
stopwords = ["changeme"]
`), 0o600))

		allow, err := LoadAllowlist(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"sk-course-[a-z]+"}, allow.Regexes)
		assert.Equal(t, []string{"changeme"}, allow.StopWords)
	})

	t.Run("invalid toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allow.toml")
		require.NoError(t, os.WriteFile(path, []byte("[allowlist\nregexes = "), 0o600))

		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidTOML)
	})

	t.Run("invalid regex", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "allow.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[allowlist]
regexes = ['''([a-z''']
`), 0o600))

		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidRegex)
	})
}

func TestNewRedactor_InvalidRegex(t *testing.T) {
	_, err := NewRedactor(&Allowlist{Regexes: []string{"(unclosed"}})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestRedactor_PlainTextUnchanged(t *testing.T) {
	r, err := NewRedactor(nil)
	require.NoError(t, err)

	text := "Why does my linked list lose its tail after I delete the last node?"
	out, n := r.Redact(text)
	assert.Equal(t, text, out)
	assert.Zero(t, n)

	out, n = r.Redact("   ")
	assert.Equal(t, "   ", out)
	assert.Zero(t, n)
}

func TestReplace(t *testing.T) {
	out := replace("key=abc123 and abc123xyz", []match{
		{rule: "short", secret: "abc123"},
		{rule: "long", secret: "abc123xyz"},
		{rule: "empty", secret: ""},
	})
	assert.Equal(t, "key=[REDACTED:short] and [REDACTED:long]", out)
}

func TestMarker(t *testing.T) {
	assert.Equal(t, "[REDACTED:github-pat]", Marker("github-pat"))
}
