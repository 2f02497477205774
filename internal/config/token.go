package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"nest-bridge/internal/logger"
)

// StaticToken is a TokenSource for a token supplied directly on the command
// line. It never changes for the lifetime of the run.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// FileTokenSource reads the bearer token from a file and reloads it when the
// file changes, so a token refreshed by an external helper is picked up
// without restarting the bridge. The watch covers the parent directory
// because most writers replace the file rather than rewriting it in place.
type FileTokenSource struct {
	path    string
	watcher *fsnotify.Watcher
	log     *logger.Logger

	mu    sync.RWMutex
	token string
}

func NewFileTokenSource(path string, l *logger.Logger) (*FileTokenSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f := &FileTokenSource{path: abs, log: l}
	if err := f.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create token watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch token directory: %w", err)
	}
	f.watcher = watcher
	go f.watch()
	return f, nil
}

func (f *FileTokenSource) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file %s is empty", f.path)
	}
	f.mu.Lock()
	changed := token != f.token
	f.token = token
	f.mu.Unlock()
	if changed && f.log != nil {
		f.log.Info("Loaded access token from %s", f.path)
	}
	return nil
}

func (f *FileTokenSource) watch() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Name != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				// Keep serving the last good token.
				f.log.Warn("Token reload failed: %v", err)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("Token watcher error: %v", err)
		}
	}
}

// Token returns the most recently loaded token.
func (f *FileTokenSource) Token() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

// Close stops watching the token file.
func (f *FileTokenSource) Close() error {
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}
