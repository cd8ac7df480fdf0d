package queue

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/patleeman/taskfactory/internal/logger"
)

// watchDebounce coalesces rapid writes to the same task file before the
// queue is kicked.
const watchDebounce = 100 * time.Millisecond

// Watcher watches a workspace's tasks directory and kicks the queue when a
// task file changes. Editors and external tools mutate task files directly;
// without the watcher those changes would wait for the safety poll.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func()
	log      logger.Logger
	done     chan struct{}

	mu       sync.Mutex
	debounce map[string]*time.Timer
	closed   bool
}

// NewWatcher starts watching tasksDir (and its per-task subdirectories) for
// task.md changes. onChange fires debounced, once per settled burst of
// writes.
func NewWatcher(tasksDir string, onChange func(), log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		onChange: onChange,
		log:      logger.OrNop(log),
		done:     make(chan struct{}),
		debounce: make(map[string]*time.Timer),
	}

	if err := w.addRecursive(tasksDir); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.processEvents()
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				if os.IsPermission(err) {
					return nil
				}
				return err
			}
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnf("queue: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New task directories must be added so their task.md is seen.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.log.Warnf("queue: failed to watch %s: %v", event.Name, err)
			}
		}
	}

	if filepath.Base(event.Name) != "task.md" {
		return
	}
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create),
		event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.fire(event.Name)
	}
}

// fire resets the per-file debounce timer; onChange runs once the file has
// been quiet for the debounce window.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if timer, exists := w.debounce[path]; exists {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.onChange()
		}
	})
}

// Close stops the watcher and cancels pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.debounce {
		timer.Stop()
	}
	w.debounce = nil
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}
