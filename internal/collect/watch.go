package collect

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mhatzl/embedded-runner/internal/document"
)

// DefaultDebounce is how long a watched directory must stay quiet before
// a re-merge runs. Documents are written whole by this tool, but external
// producers may take several writes to land one.
const DefaultDebounce = 2 * time.Second

// Result is one completed re-merge in watch mode.
type Result struct {
	Aggregate *document.Aggregate
	Inputs    int // number of documents merged
}

// Watcher re-merges a directory of coverage documents whenever its
// contents change. Changes are debounced so a burst of writes triggers a
// single merge.
type Watcher struct {
	dir      string
	output   string
	interval time.Duration

	fsWatcher *fsnotify.Watcher

	// pending: document path -> time of its last filesystem event
	pendingMu sync.Mutex
	pending   map[string]time.Time

	results chan Result
	errors  chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher prepares a watcher over dir that writes each merged
// aggregate to output. A debounce of zero or less uses DefaultDebounce.
//
// Start does not perform an initial merge; callers wanting one run
// CollectDir before starting the watcher.
func NewWatcher(dir, output string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("collect: watch: %w", err)
	}

	return &Watcher{
		dir:       dir,
		output:    output,
		interval:  debounce,
		fsWatcher: fsWatcher,
		pending:   make(map[string]time.Time),
		results:   make(chan Result, 4),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
	}, nil
}

// Results returns the channel of completed merges.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

// Errors returns the channel of merge and filesystem errors. Watching
// continues after an error; a bad document in the directory surfaces here
// on every attempt until it is fixed or removed.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. It fails if the directory cannot be watched.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("collect: watch: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("collect: watch: %s is not a directory", w.dir)
	}

	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("collect: watch %s: %w", w.dir, err)
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop shuts the watcher down and closes its channels.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.results)
	close(w.errors)
	return w.fsWatcher.Close()
}

// relevant reports whether a filesystem event concerns an input document.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if filepath.Ext(event.Name) != ".json" {
		return false
	}
	if w.output != "" && filepath.Base(event.Name) == filepath.Base(w.output) {
		return false
	}
	return true
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.mergeIfQuiet(now)
		}
	}
}

// mergeIfQuiet re-merges the directory once no pending event is newer
// than the debounce interval.
func (w *Watcher) mergeIfQuiet(now time.Time) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	for _, at := range w.pending {
		if now.Sub(at) < w.interval {
			w.pendingMu.Unlock()
			return
		}
	}
	w.pending = make(map[string]time.Time)
	w.pendingMu.Unlock()

	paths, err := ScanDir(w.dir, w.output)
	if err != nil {
		w.report(err)
		return
	}
	agg, err := CollectFiles(paths, w.output)
	if err != nil {
		w.report(err)
		return
	}

	select {
	case w.results <- Result{Aggregate: agg, Inputs: len(paths)}:
	case <-w.done:
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
