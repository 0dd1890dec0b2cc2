package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"endgame/internal/logging"
)

// Watcher ingests files dropped into an inbox directory. Events are
// debounced per path so a file is only picked up once it has settled,
// then moved into uploads/ and ingested asynchronously for the
// configured user.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	orch        *Orchestrator
	dataRoot    string
	userID      string
	inbox       string
	debounceMap map[string]time.Time
	settle      time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatcherStats
}

// WatcherStats tracks watcher activity for the watch command.
type WatcherStats struct {
	FilesQueued int
	JobsStarted int
	Errors      int
	LastFile    string
}

// NewWatcher builds a watcher over the inbox directory. Files already
// sitting in the inbox are queued on Start.
func NewWatcher(orch *Orchestrator, dataRoot, userID, inbox string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		orch:        orch,
		dataRoot:    dataRoot,
		userID:      userID,
		inbox:       inbox,
		debounceMap: make(map[string]time.Time),
		settle:      2 * time.Second,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the inbox. Non-blocking; the event loop runs in its
// own goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.inbox, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.inbox); err != nil {
		return err
	}
	logging.Ingestion("Watching inbox %s for user %s", w.inbox, w.userID)

	// Files left behind from a previous run still deserve ingestion.
	if entries, err := os.ReadDir(w.inbox); err == nil {
		w.mu.Lock()
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			w.debounceMap[filepath.Join(w.inbox, entry.Name())] = time.Now()
			w.stats.FilesQueued++
		}
		w.mu.Unlock()
	}

	go w.run(ctx)
	return nil
}

// Stop halts the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryIngestion).Error("Watcher close failed: %v", err)
	}
	logging.Ingestion("Inbox watcher stopped")
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
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
			logging.Get(logging.CategoryIngestion).Error("Inbox watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processSettled()
		}
	}
}

// handleEvent records create and write events; every further write pushes
// the settle deadline back so half-copied files are never picked up.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	w.mu.Lock()
	if _, seen := w.debounceMap[event.Name]; !seen {
		w.stats.FilesQueued++
	}
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processSettled ingests every file whose last event is older than the
// settle window.
func (w *Watcher) processSettled() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.settle {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.ingest(path)
	}
}

// ingest moves one settled file into uploads/ and starts an async
// ingestion job for it.
func (w *Watcher) ingest(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return
	}

	stored, err := IntakeFile(w.dataRoot, w.userID, path)
	if err != nil {
		logging.Get(logging.CategoryIngestion).Error("Inbox intake failed for %s: %v", path, err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}
	if err := os.Remove(path); err != nil {
		logging.Get(logging.CategoryIngestion).Warn("Could not clear inbox file %s: %v", path, err)
	}

	jobID := w.orch.IngestAsync(w.userID, stored)
	logging.Ingestion("Inbox file %s stored as %s (job %s)", filepath.Base(path), filepath.Base(stored), jobID)

	w.mu.Lock()
	w.stats.JobsStarted++
	w.stats.LastFile = filepath.Base(path)
	w.mu.Unlock()
}
