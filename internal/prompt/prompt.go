// Package prompt holds the tutor system prompt.
//
// The prompt is read from a file, falling back to a built-in default when the
// file is missing or empty. With Watch, the file is re-read whenever it
// changes on disk so the prompt can be edited without a restart.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/tutord/internal/logging"
	"go.uber.org/zap"
)

// Default is used when no prompt file is configured or readable.
const Default = "You are a friendly and brief Teaching Assistant (TA) for a Data Structures course."

// maxPromptSize bounds the prompt file.
const maxPromptSize = 256 * 1024

// Source provides the current system prompt.
type Source interface {
	Current() string
}

// Static is a fixed prompt.
type Static string

// Current implements Source.
func (s Static) Current() string { return string(s) }

// File is a prompt backed by a file on disk.
type File struct {
	path    string
	current atomic.Pointer[string]
	logger  *logging.Logger
	reloads atomic.Int64
}

// Load reads the prompt at path. An empty path, a missing file or an empty
// file yields Default. Other read errors are returned.
func Load(path string, logger *logging.Logger) (*File, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &File{path: path, logger: logger.Named("prompt")}
	text, err := f.read()
	if err != nil {
		return nil, err
	}
	f.current.Store(&text)
	return f, nil
}

// Current implements Source.
func (f *File) Current() string {
	return *f.current.Load()
}

// Reloads returns how many times the prompt was re-read after a change.
func (f *File) Reloads() int64 {
	return f.reloads.Load()
}

func (f *File) read() (string, error) {
	if f.path == "" {
		return Default, nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.logger.Warn(context.Background(), "system prompt file not found, using default", zap.String("path", f.path))
		return Default, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading system prompt %s: %w", f.path, err)
	}
	if len(data) > maxPromptSize {
		return "", fmt.Errorf("system prompt %s too large: %d bytes (max %d)", f.path, len(data), maxPromptSize)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Default, nil
	}
	return text, nil
}

// Watch re-reads the prompt whenever the file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are handled. A failed reload keeps the previous prompt. ready, if non-nil,
// is closed once the watch is registered.
func (f *File) Watch(ctx context.Context, ready chan<- struct{}) error {
	if f.path == "" {
		return errors.New("prompt: no file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(f.path)
	if err != nil {
		return fmt.Errorf("resolving prompt path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			f.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn(ctx, "prompt watcher error", zap.Error(err))
		}
	}
}

func (f *File) reload(ctx context.Context) {
	text, err := f.read()
	if err != nil {
		f.logger.Warn(ctx, "system prompt reload failed, keeping previous", zap.Error(err))
		return
	}
	if prev := f.current.Load(); prev != nil && *prev == text {
		return
	}
	f.current.Store(&text)
	f.reloads.Add(1)
	f.logger.Info(ctx, "system prompt reloaded", zap.String("path", f.path), zap.Int("chars", len(text)))
}
