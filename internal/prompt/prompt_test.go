package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/tutord/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  You are a TA for CS 15.\n"), 0o600))

	f, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "You are a TA for CS 15.", f.Current())
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o600))

	logger := logging.NewTestLogger()
	for _, path := range []string{"", filepath.Join(dir, "missing.txt"), empty} {
		f, err := Load(path, logger.Logger)
		require.NoError(t, err)
		assert.Equal(t, Default, f.Current(), path)
	}
	logger.AssertLogged(t, zapcore.WarnLevel, "not found")
}

func TestStatic(t *testing.T) {
	var s Source = Static("fixed")
	assert.Equal(t, "fixed", s.Current())
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	f, err := Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx, ready) }()
	<-ready

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	assert.Eventually(t, func() bool { return f.Current() == "second" }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, f.Reloads(), int64(1))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system_prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	f, err := Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() { _ = f.Watch(ctx, ready) }()
	<-ready

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "first", f.Current())
	assert.Equal(t, int64(0), f.Reloads())
}

func TestWatch_RequiresPath(t *testing.T) {
	f, err := Load("", nil)
	require.NoError(t, err)
	assert.Error(t, f.Watch(context.Background(), nil))
}
