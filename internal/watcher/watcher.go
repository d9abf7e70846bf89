// Package watcher keeps the file index in sync with the watched root
// paths: an initial parallel scan seeds the store, then filesystem
// events maintain it incrementally.
package watcher

import (
	"context"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"curator/internal/logging"
	"curator/internal/types"
)

const (
	scanWorkers   = 4
	upsertBatch   = 200
	debounceEvery = 100 * time.Millisecond
)

// Indexer is the slice of the store the watcher writes through.
type Indexer interface {
	UpsertFiles(ctx context.Context, files []types.FileRecord) error
	DeleteFileByPath(ctx context.Context, path string) error
}

// Stats tracks watcher activity.
type Stats struct {
	FilesIndexed  int
	FilesRemoved  int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// Watcher indexes one or more root paths and keeps them current.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	store       Indexer
	roots       []string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// NewWatcher creates a watcher over the given roots. Call Scan to seed
// the index and Start to follow changes.
func NewWatcher(store Indexer, roots []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		store:       store,
		roots:       roots,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Scan walks every root and upserts a record per regular file. Workers
// build records in parallel; writes go to the store in batches.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	type walked struct {
		root string
		path string
		info fs.FileInfo
	}

	paths := make(chan walked, 256)
	records := make(chan types.FileRecord, 256)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(paths)
		for _, root := range w.roots {
			root := root
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					logging.Watcher("Scan error at %s: %v", path, err)
					w.countError()
					return nil
				}
				if skipName(d.Name()) && path != root {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if d.IsDir() {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					w.countError()
					return nil
				}
				if !info.Mode().IsRegular() {
					return nil
				}
				select {
				case paths <- walked{root: root, path: path, info: info}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	var workers errgroup.Group
	workers.SetLimit(scanWorkers)
	done := make(chan struct{})
	go func() {
		for p := range paths {
			p := p
			workers.Go(func() error {
				select {
				case records <- buildRecord(p.root, p.path, p.info):
				case <-ctx.Done():
				}
				return nil
			})
		}
		workers.Wait()
		close(records)
		close(done)
	}()

	indexed := 0
	batch := make([]types.FileRecord, 0, upsertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.store.UpsertFiles(ctx, batch); err != nil {
			return err
		}
		indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	for rec := range records {
		batch = append(batch, rec)
		if len(batch) >= upsertBatch {
			if err := flush(); err != nil {
				return indexed, err
			}
		}
	}
	if err := flush(); err != nil {
		return indexed, err
	}

	if err := g.Wait(); err != nil {
		return indexed, err
	}
	<-done

	w.mu.Lock()
	w.stats.FilesIndexed += indexed
	w.mu.Unlock()

	logging.Watcher("Initial scan indexed %d files under %d roots", indexed, len(w.roots))
	return indexed, nil
}

// Start begins following filesystem events under the roots. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			logging.Watcher("Failed to watch %s: %v", root, err)
		}
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
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
		logging.Watcher("Error closing watcher: %v", err)
	}
	logging.Watcher("Watcher stopped")
}

// GetStats returns a snapshot of watcher activity.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(debounceEvery)
	defer debounceTicker.Stop()

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
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Watcher("Watcher error: %v", err)
			w.countError()
		case <-debounceTicker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if skipName(filepath.Base(event.Name)) {
		return
	}

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.mu.Unlock()

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// New directory: watch it and index its contents.
			if err := w.addRecursive(event.Name); err != nil {
				logging.Watcher("Failed to watch new directory %s: %v", event.Name, err)
			}
			sub := &Watcher{store: w.store, roots: []string{event.Name}}
			if n, err := sub.Scan(ctx); err == nil && n > 0 {
				w.mu.Lock()
				w.stats.FilesIndexed += n
				w.mu.Unlock()
			}
			return
		}
		w.recordPending(event.Name)

	case event.Op&fsnotify.Write != 0:
		w.recordPending(event.Name)

	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		if err := w.store.DeleteFileByPath(ctx, event.Name); err != nil {
			logging.Watcher("Failed to drop index entry for %s: %v", event.Name, err)
			w.countError()
			return
		}
		w.mu.Lock()
		w.stats.FilesRemoved++
		delete(w.debounceMap, event.Name)
		w.mu.Unlock()
	}
}

// recordPending marks a path for indexing once its writes settle.
func (w *Watcher) recordPending(path string) {
	w.mu.Lock()
	w.debounceMap[path] = time.Now()
	w.mu.Unlock()
}

// processDebounced indexes paths whose events have settled past the
// debounce window.
func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		info, err := os.Stat(path)
		if err != nil {
			// Deleted before settling.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		rec := buildRecord(w.rootFor(path), path, info)
		if err := w.store.UpsertFiles(ctx, []types.FileRecord{rec}); err != nil {
			logging.Watcher("Failed to index %s: %v", path, err)
			w.countError()
			continue
		}
		w.mu.Lock()
		w.stats.FilesIndexed++
		w.mu.Unlock()
		logging.WatcherDebug("Indexed %s (%d bytes)", path, info.Size())
	}
}

// addRecursive watches dir and every subdirectory beneath it; fsnotify
// watches are not recursive on their own.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipName(d.Name()) && path != dir {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.Watcher("Failed to watch %s: %v", path, err)
		}
		return nil
	})
}

// rootFor returns the configured root containing path, for relative
// path computation.
func (w *Watcher) rootFor(path string) string {
	for _, root := range w.roots {
		if strings.HasPrefix(path, strings.TrimRight(root, "/")+"/") {
			return root
		}
	}
	return filepath.Dir(path)
}

func (w *Watcher) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}

// skipName filters hidden files and directories from indexing.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".")
}

func buildRecord(root, path string, info fs.FileInfo) types.FileRecord {
	ext := strings.ToLower(filepath.Ext(path))
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return types.FileRecord{
		ID:           uuid.NewString(),
		Path:         path,
		Name:         filepath.Base(path),
		Extension:    ext,
		SizeBytes:    info.Size(),
		ModifiedAt:   info.ModTime().Unix(),
		ParentDir:    filepath.Dir(path),
		RelativePath: rel,
		MIMEType:     mime.TypeByExtension(ext),
	}
}
