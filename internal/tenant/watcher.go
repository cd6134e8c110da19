package tenant

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/heb-mcp/hebsession/internal/store"
	log "github.com/sirupsen/logrus"
)

// DefaultDebounce coalesces the burst of events an atomic rename produces.
const DefaultDebounce = 150 * time.Millisecond

// Watcher reloads cached sessions when record files change outside this process.
type Watcher struct {
	manager  *Manager
	files    *store.FileStore
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	// wg tracks the event loop and every scheduled reload.
	wg sync.WaitGroup
}

// NewWatcher watches the directory of files on behalf of manager.
func NewWatcher(manager *Manager, files *store.FileStore, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		manager:  manager,
		files:    files,
		debounce: debounce,
		watcher:  fw,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start begins processing events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.files.Dir()); err != nil {
		log.Errorf("failed to watch session directory %s: %v", w.files.Dir(), err)
		return err
	}
	log.Debugf("watching session directory: %s", w.files.Dir())
	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// Stop closes the underlying watcher, cancels pending reloads and waits for any reload that is
// already running.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.stopped = true
	for id, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, id)
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("session watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	const ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&ops == 0 {
		return
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	userID, ok := w.files.UserIDFromPath(path)
	if !ok {
		return
	}
	log.Debugf("session file event: %s %s", event.Op.String(), filepath.Base(path))
	w.schedule(ctx, userID)
}

func (w *Watcher) schedule(ctx context.Context, userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[userID]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[userID] == timer {
			delete(w.timers, userID)
		}
		stopped := w.stopped
		w.mu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		if err := w.manager.Sync(ctx, userID); err != nil {
			log.WithField("user", userID).WithError(err).Warn("tenant: reload after file change failed")
		}
	})
	w.timers[userID] = timer
}
