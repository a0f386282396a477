package config

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// ReloadCallback receives the freshly loaded configuration.
type ReloadCallback func(*Config) error

// Watcher reloads configuration when a watched file changes and fans the new
// Config out to registered callbacks. Writes made through Set/Save are ignored.
type Watcher struct {
	path           string
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	load           func() (*Config, error)
	debouncePeriod time.Duration

	mu            sync.Mutex
	callbacks     []ReloadCallback
	debounceTimer *time.Timer
	ownWrite      bool
	started       bool
	done          chan struct{}
}

var (
	watchersMu sync.Mutex
	watchers   = map[string]*Watcher{}
)

// NewWatcher watches the directory holding path. Editors replace files by
// rename, so watching the file itself would lose the watch after one save.
func NewWatcher(path string, logger *zap.SugaredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	w := &Watcher{
		path:           abs,
		watcher:        fsw,
		logger:         logger,
		load:           reloadGlobal,
		debouncePeriod: 500 * time.Millisecond,
		done:           make(chan struct{}),
	}

	watchersMu.Lock()
	watchers[abs] = w
	watchersMu.Unlock()
	return w, nil
}

// OnReload registers a callback run after every successful reload.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins processing file events in the background.
func (w *Watcher) Start() {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.loop()
}

// Stop ends the watch.
func (w *Watcher) Stop() error {
	watchersMu.Lock()
	if watchers[w.path] == w {
		delete(watchers, w.path)
	}
	watchersMu.Unlock()

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	started := w.started
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if w.consumeOwnWrite() {
				w.logger.Debugw("Config watcher ignoring own write", "file", event.Name)
				continue
			}
			w.logger.Infow("Config change detected", "file", event.Name, "op", event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	if isBackupFile(event.Name) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	return err == nil && abs == w.path
}

func (w *Watcher) markOwnWrite() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ownWrite = true
}

func (w *Watcher) consumeOwnWrite() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ownWrite {
		w.ownWrite = false
		return true
	}
	return false
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.reload(); err != nil {
			w.logger.Errorw("Config reload failed", "error", err)
		}
	})
}

func (w *Watcher) reload() error {
	cfg, err := w.load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	w.logger.Infow("Config reloaded", "path", w.path)

	w.mu.Lock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			w.logger.Warnw("Config reload callback error", "error", err)
		}
	}
	return nil
}

func reloadGlobal() (*Config, error) {
	Reset()
	return Load()
}

func markOwnWrite(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	watchersMu.Lock()
	w := watchers[abs]
	watchersMu.Unlock()
	if w != nil {
		w.markOwnWrite()
	}
}

func isBackupFile(path string) bool {
	ext := filepath.Ext(path)
	return strings.HasPrefix(ext, ".back")
}
