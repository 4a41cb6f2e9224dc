package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadedEvent represents a policy reload outcome
type ReloadedEvent struct {
	Timestamp time.Time
	Count     int
	Error     error
}

// FileWatcher monitors a policy file for changes and replaces the store
// contents on modification, with debouncing to absorb editor write bursts
type FileWatcher struct {
	watcher         *fsnotify.Watcher
	path            string
	loader          *Loader
	store           Store
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.Mutex
	isWatching      bool
}

// NewFileWatcher creates a watcher for the given policy file
func NewFileWatcher(path string, store Store, loader *Loader, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:         watcher,
		path:            path,
		loader:          loader,
		store:           store,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the policy file's directory for changes
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()

	// Watch the directory: editors replace files rather than write in place
	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		return fmt.Errorf("add path to watcher: %w", err)
	}

	fw.logger.Info("Starting policy file watcher",
		zap.String("path", fw.path),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

// Events returns the channel of reload outcomes
func (fw *FileWatcher) Events() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops the watcher
func (fw *FileWatcher) Stop() error {
	close(fw.stopChan)
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer func() {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		fw.logger.Info("Policy file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(fw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			fw.scheduleReload()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

// scheduleReload debounces bursts of file events into one reload
func (fw *FileWatcher) scheduleReload() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, fw.reload)
}

func (fw *FileWatcher) reload() {
	policies, err := fw.loader.LoadFromFile(fw.path)
	if err == nil {
		err = fw.store.Replace(policies)
	}

	result := ReloadedEvent{
		Timestamp: time.Now(),
		Count:     len(policies),
		Error:     err,
	}

	if err != nil {
		fw.logger.Error("Policy reload failed", zap.Error(err))
	} else {
		fw.logger.Info("Policies reloaded", zap.Int("count", len(policies)))
	}

	select {
	case fw.eventChan <- result:
	default:
	}
}
