package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Library serves named prompt texts loaded from a directory of markdown
// files. The file stem is the prompt name: system.md becomes "system".
type Library struct {
	dir    string
	logger zerolog.Logger

	mu      sync.RWMutex
	prompts map[string]string

	watcher  *fsnotify.Watcher
	debounce time.Duration
	timer    *time.Timer
	timerMu  sync.Mutex
	stopCh   chan struct{}
}

// NewLibrary loads every prompt under dir. A missing directory is not an
// error; the library just starts empty.
func NewLibrary(dir string, logger zerolog.Logger) (*Library, error) {
	l := &Library{
		dir:      dir,
		logger:   logger.With().Str("component", "prompts").Logger(),
		prompts:  make(map[string]string),
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns the prompt text for name; fallback when it is not loaded.
func (l *Library) Get(name, fallback string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if text, ok := l.prompts[name]; ok {
		return text
	}
	return fallback
}

// Names lists the loaded prompt names.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.prompts))
	for name := range l.prompts {
		out = append(out, name)
	}
	return out
}

// Reload re-reads the prompt directory and swaps the whole set at once.
func (l *Library) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read prompt directory: %w", err)
	}

	loaded := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			l.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable prompt file")
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		loaded[name] = strings.TrimSpace(string(data))
	}

	l.mu.Lock()
	l.prompts = loaded
	l.mu.Unlock()

	l.logger.Debug().Int("count", len(loaded)).Msg("Prompts loaded")
	return nil
}

// Watch starts hot reloading on file changes until Stop is called.
func (l *Library) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch prompt directory: %w", err)
	}
	l.watcher = watcher

	go l.run()
	return nil
}

// Stop stops the watcher if one is running.
func (l *Library) Stop() error {
	close(l.stopCh)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func (l *Library) run() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				l.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Prompt change detected")
				l.scheduleReload()
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Prompt watcher error")

		case <-l.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of file events into one reload.
func (l *Library) scheduleReload() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.debounce, func() {
		if err := l.Reload(); err != nil {
			l.logger.Error().Err(err).Msg("Prompt reload failed")
		}
	})
}
