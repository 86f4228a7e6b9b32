package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 500 * time.Millisecond

// Watcher reloads the configuration when its YAML file changes and notifies
// registered callbacks. Only the log level and the fault probability are
// expected to take effect at runtime.
type Watcher struct {
	config    *Config
	callbacks []func(*Config)
	mu        sync.RWMutex
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

// NewWatcher creates a watcher for initial.ConfigFile. Without a config file
// the watcher is inert but still serves GetConfig.
func NewWatcher(initial *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		config: initial,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if initial.ConfigFile == "" {
		logger.Debug("Configuration hot reloading disabled, no config file")
		close(w.doneCh)
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors replace files on save, so the parent directory is watched.
	if err := fsWatcher.Add(filepath.Dir(initial.ConfigFile)); err != nil {
		fsWatcher.Close()
		close(w.doneCh)
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()

	logger.Info("Configuration hot reloading enabled",
		zap.String("file", initial.ConfigFile),
	)
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)
	defer w.watcher.Close()

	var debounceTimer *time.Timer
	target := filepath.Clean(w.config.ConfigFile)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.logger.Debug("Configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, w.Reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// Reload reads the configuration again and notifies callbacks if it changed.
// An invalid file keeps the previous configuration.
func (w *Watcher) Reload() {
	current := w.GetConfig()

	next, err := LoadFrom(current.ConfigFile)
	if err != nil {
		w.logger.Error("Invalid configuration after reload", zap.Error(err))
		return
	}

	if reflect.DeepEqual(current, next) {
		w.logger.Debug("Configuration unchanged after reload")
		return
	}

	w.mu.Lock()
	w.config = next
	w.mu.Unlock()

	w.logConfigChanges(current, next)
	w.notifyCallbacks(next)
}

// OnChange registers a callback to be called when configuration changes.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// GetConfig returns the current configuration.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop stops the watcher and waits for it to exit. It is safe to call more
// than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

func (w *Watcher) notifyCallbacks(newConfig *Config) {
	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for i, callback := range callbacks {
		func(idx int, cb func(*Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Configuration callback panicked",
						zap.Int("callback_index", idx),
						zap.Any("panic", r),
					)
				}
			}()
			cb(newConfig)
		}(i, callback)
	}
}

func (w *Watcher) logConfigChanges(old, new *Config) {
	changes := make([]string, 0)

	if old.Logging.Level != new.Logging.Level {
		changes = append(changes, fmt.Sprintf("log_level: %s -> %s", old.Logging.Level, new.Logging.Level))
	}
	if old.Demo.FaultProbability != new.Demo.FaultProbability {
		changes = append(changes, fmt.Sprintf("fault_probability: %v -> %v", old.Demo.FaultProbability, new.Demo.FaultProbability))
	}
	if old.Server.Address != new.Server.Address {
		changes = append(changes, "server.address (requires restart)")
	}
	if !reflect.DeepEqual(old.Tracing, new.Tracing) {
		changes = append(changes, "tracing (requires restart)")
	}

	w.logger.Info("Configuration reloaded", zap.Strings("changes", changes))
}
