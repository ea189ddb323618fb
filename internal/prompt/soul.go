// Package prompt loads the bot's persona (SOUL.md) and skill cards and turns
// them into the instruction text handed to codex.
package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSoul is used when the soul file does not exist.
const DefaultSoul = "# SOUL.md - Default Soul\n\nBe helpful, concise, and accurate."

// Soul serves the soul file contents from a cache that a filesystem watcher
// invalidates when the file changes.
type Soul struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	text   string
	loaded bool
	gen    uint64 // bumped on every invalidation

	watcher *fsnotify.Watcher
	doneCh  chan struct{}
}

// NewSoul creates a Soul for path. Call Watch to enable change tracking;
// without it every Text call re-reads the file.
func NewSoul(path string, logger *zap.Logger) *Soul {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Soul{path: path, logger: logger}
}

// LoadSoul reads and trims the soul file, falling back to DefaultSoul when
// the file is missing.
func LoadSoul(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSoul, nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Text returns the current soul text. Read errors other than a missing file
// are logged and the default soul is returned.
func (s *Soul) Text() string {
	s.mu.RLock()
	if s.loaded {
		text := s.text
		s.mu.RUnlock()
		return text
	}
	watching, gen := s.watcher != nil, s.gen
	s.mu.RUnlock()

	text, err := LoadSoul(s.path)
	if err != nil {
		s.logger.Warn("prompt: read soul, using default", zap.String("path", s.path), zap.Error(err))
		text = DefaultSoul
	}
	if watching {
		s.mu.Lock()
		if s.gen == gen {
			s.text, s.loaded = text, true
		}
		s.mu.Unlock()
	}
	return text
}

// Excerpt returns at most n characters of the soul text.
func (s *Soul) Excerpt(n int) string {
	return truncateRunes(s.Text(), n)
}

// Watch starts watching the soul file's directory. Events touching the file
// drop the cache so the next Text call re-reads it. Watching stops when ctx
// is cancelled or Close is called.
func (s *Soul) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx, w)
	s.logger.Debug("prompt: watching soul", zap.String("path", s.path))
	return nil
}

func (s *Soul) run(ctx context.Context, w *fsnotify.Watcher) {
	defer close(s.doneCh)
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.watcher == w {
				s.watcher = nil
				s.loaded = false
			}
			s.mu.Unlock()
			w.Close()
			return
		case evt, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.invalidate()
			s.logger.Info("prompt: soul changed", zap.String("path", s.path), zap.String("op", evt.Op.String()))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("prompt: soul watcher", zap.Error(err))
		}
	}
}

func (s *Soul) invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.text = ""
	s.gen++
	s.mu.Unlock()
}

// Close stops the watcher if one is running and waits for it to exit.
func (s *Soul) Close() error {
	s.mu.Lock()
	w, done := s.watcher, s.doneCh
	s.watcher = nil
	s.loaded = false
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
