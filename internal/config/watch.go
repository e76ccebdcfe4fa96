package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk
type Watcher struct {
	path     string
	fileName string
	onChange func(*Config, error)
	debounce time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewWatcher creates a watcher for path. onChange receives the freshly loaded
// configuration, or the load error.
func NewWatcher(path string, onChange func(*Config, error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &Watcher{
		path:     absPath,
		fileName: filepath.Base(absPath),
		onChange: onChange,
		debounce: 100 * time.Millisecond,
	}, nil
}

// Start begins watching until ctx is done or Stop is called.
// The directory is watched rather than the file so that editors that replace
// the file on save are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("config watcher is already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.watcher = fw
	w.running = true
	w.done = make(chan struct{})

	go w.loop(ctx, fw, w.done)
	return nil
}

// Stop stops watching
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.fileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.onChange(nil, fmt.Errorf("config watcher error: %w", err))
		}
	}
}

// reload skips content written by Save in this process
func (w *Watcher) reload() {
	if data, err := os.ReadFile(w.path); err == nil && isOwnWrite(w.path, data) {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.onChange(nil, err)
		return
	}
	cfg.ApplyEnv()
	w.onChange(cfg, nil)
}
