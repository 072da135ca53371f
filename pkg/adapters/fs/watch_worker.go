package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Event reports that a provenance file matching the watched pattern changed.
type Event struct {
	Path      string
	Op        string
	Timestamp time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Op, e.Path)
}

// DefaultDebounce is how long a file must be quiet before its event is emitted.
const DefaultDebounce = 100 * time.Millisecond

// Watch starts a watcher worker that emits an Event on events for every
// change to a file matching pattern. It needs an OS-backed filesystem.
// The watcher stops when ctx is cancelled; events is never closed by it.
func (s *Store) Watch(ctx context.Context, pattern string, events chan<- Event) error {
	w := newWatchWorker(s, pattern, events)
	return w.Start(ctx)
}

type watchWorker struct {
	*worker.BaseWorker
	store     *Store
	pattern   string
	root      string
	events    chan<- Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc
}

func newWatchWorker(store *Store, pattern string, events chan<- Event) *watchWorker {
	slashed := filepath.ToSlash(pattern)
	base, _ := doublestar.SplitPattern(slashed)
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("prov-watcher"),
		store:      store,
		pattern:    slashed,
		root:       filepath.FromSlash(base),
		events:     events,
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := w.recursiveAdd(watcher, w.root); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(DefaultDebounce)
	w.store.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}

	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"pattern":           w.pattern,
		}
	})
}

func (w *watchWorker) recursiveAdd(watcher *fsnotify.Watcher, root string) error {
	return afero.Walk(w.store.config.FS, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// watchNewDirectory picks up directories created after the watcher started.
func (w *watchWorker) watchNewDirectory(ctx context.Context, dir string) {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		return w.recursiveAdd(w.watcher, dir)
	}, lifecycle.WithErrorHandler(func(err error) {
		w.reportError(fmt.Errorf("watch new directory: %w", err))
	}))
}

func (w *watchWorker) matches(name string) bool {
	ok, err := doublestar.PathMatch(filepath.FromSlash(w.pattern), name)
	return err == nil && ok && Extension(name, w.store.serializers) != ""
}

func mapOp(event fsnotify.Event) string {
	switch {
	case event.Has(fsnotify.Create):
		return "create"
	case event.Has(fsnotify.Write):
		return "modify"
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return "delete"
	default:
		return ""
	}
}

// processFilesystemEvent handles filtering, mapping, and debouncing of filesystem events.
func (w *watchWorker) processFilesystemEvent(ctx context.Context, event fsnotify.Event) bool {
	if w.store.config.Logger != nil {
		w.store.config.Logger.Debug("event received", "name", event.Name)
	}

	if event.Has(fsnotify.Create) {
		if info, err := w.store.config.FS.Stat(event.Name); err == nil && info.IsDir() {
			w.watchNewDirectory(ctx, event.Name)
			return false
		}
	}

	if !w.matches(event.Name) {
		return false
	}
	op := mapOp(event)
	if op == "" {
		return false
	}

	w.store.cache.Delete(filepath.Clean(event.Name))
	w.sendEvent(ctx, Event{Path: event.Name, Op: op, Timestamp: time.Now()})
	return true
}

// sendEvent enqueues an event via the debouncer, protecting against channel closure during shutdown.
func (w *watchWorker) sendEvent(ctx context.Context, event Event) {
	w.debouncer.add(event.Path, func() {
		defer func() {
			// Recover from panic if channel was closed (worker stopping)
			_ = recover()
		}()
		select {
		case w.events <- event:
		case <-ctx.Done():
		}
	})
}

func (w *watchWorker) reportError(err error) {
	if w.store.config.Logger != nil {
		w.store.config.Logger.Error("watcher error", "error", err)
	}
	if w.store.config.ErrorHandler != nil {
		w.store.config.ErrorHandler(err)
	}
}

// run is the main event loop for the watcher worker.
func (w *watchWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)
			logger := w.store.config.Logger
			if logger == nil {
				err = panicErr
				return
			}
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("watcher panic", "error", panicErr, "stack", string(debug.Stack()))
			} else {
				logger.Error("watcher panic", "error", panicErr)
			}
			err = panicErr
		}
	}()
	defer w.store.setWatcherActive(false)
	defer w.watcher.Close()

	err = w.mainEventLoop(ctx)

	// Stop accepting new events and wait for in-flight timers.
	w.debouncer.stopAndWait(5 * time.Second)
	return err
}

func (w *watchWorker) mainEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.processFilesystemEvent(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.reportError(wErr)
		}
	}
}

// debouncer coalesces bursts of events per key.
type debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	timers  map[string]*time.Timer
	wg      sync.WaitGroup
	stopped bool
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay, timers: make(map[string]*time.Timer)}
}

func (d *debouncer) add(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok && t.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.timers[key] == t {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = t
}

func (d *debouncer) stopAndWait(timeout time.Duration) {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
