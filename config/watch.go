package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satishbabariya/recordkit/internal/debug"
)

const debounceInterval = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes on disk
type Watcher struct {
	file     string
	opts     []Option
	onChange func(*Config)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching file and calls onChange with every configuration
// that loads and validates after a write. Invalid edits are logged and skipped.
func Watch(file string, onChange func(*Config), opts ...Option) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	absPath, err := filepath.Abs(file)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// editors replace files, so watch the directory
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	w := &Watcher{
		file:     absPath,
		opts:     append([]Option{WithConfigFile(absPath)}, opts...),
		onChange: onChange,
		logger:   debug.Logger(),
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	timer := time.NewTimer(debounceInterval)
	timer.Stop()
	var debounceCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if eventPath, err := filepath.Abs(event.Name); err == nil && eventPath == w.file {
				timer.Reset(debounceInterval)
				debounceCh = timer.C
			}

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)

		case <-w.done:
			timer.Stop()
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.opts...)
	if err != nil {
		w.logger.Warn("config reload failed", "file", w.file, "error", err)
		return
	}
	w.logger.Info("config reloaded", "file", w.file)
	w.onChange(cfg)
}

// Stop stops watching
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}
