package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ToolConfigWatcher monitors the tool config directory and reports
// which tool's file changed. Used for hot reload in debug runs.
type ToolConfigWatcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	onChange func(tool string)
	logger   zerolog.Logger

	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

// NewToolConfigWatcher creates a watcher for dir. onChange receives the
// tool name (file stem) after changes settle.
func NewToolConfigWatcher(dir string, onChange func(tool string), logger zerolog.Logger) (*ToolConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &ToolConfigWatcher{
		watcher:        watcher,
		dir:            dir,
		debounce:       100 * time.Millisecond,
		onChange:       onChange,
		logger:         logger.With().Str("component", "config_watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the config directory.
func (w *ToolConfigWatcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	go w.loop()
	w.logger.Info().Str("dir", w.dir).Msg("tool config watcher started")
	return nil
}

func (w *ToolConfigWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, ".yaml") {
				continue
			}
			w.scheduleChange(strings.TrimSuffix(name, ".yaml"))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")

		case <-w.done:
			return
		}
	}
}

// scheduleChange debounces rapid successive writes to one file. Editors
// commonly fire several events per save.
func (w *ToolConfigWatcher) scheduleChange(tool string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceTimers[tool]; ok {
		timer.Stop()
	}
	w.debounceTimers[tool] = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, tool)
		w.debounceMu.Unlock()

		w.logger.Debug().Str("tool", tool).Msg("tool config changed")
		w.onChange(tool)
	})
}

// Stop halts the watcher. Safe to call more than once.
func (w *ToolConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
