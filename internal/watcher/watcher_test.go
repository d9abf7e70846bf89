package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/types"
)

// fakeIndexer records index writes.
type fakeIndexer struct {
	mu      sync.Mutex
	byPath  map[string]types.FileRecord
	deleted []string
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{byPath: make(map[string]types.FileRecord)}
}

func (f *fakeIndexer) UpsertFiles(_ context.Context, files []types.FileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range files {
		f.byPath[rec.Path] = rec
	}
	return nil
}

func (f *fakeIndexer) DeleteFileByPath(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byPath, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeIndexer) get(path string) (types.FileRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byPath[path]
	return rec, ok
}

func (f *fakeIndexer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byPath)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestScanIndexesTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "report.PDF"), "pdf bytes")
	writeFile(t, filepath.Join(root, "docs", "notes.txt"), "notes")
	writeFile(t, filepath.Join(root, "docs", "deep", "draft.md"), "draft")
	writeFile(t, filepath.Join(root, ".hidden", "secret.txt"), "skip me")
	writeFile(t, filepath.Join(root, ".dotfile"), "skip me too")

	idx := newFakeIndexer()
	w, err := NewWatcher(idx, []string{root})
	require.NoError(t, err)
	defer w.watcher.Close()

	n, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n, "hidden entries skipped")
	assert.Equal(t, 3, idx.count())

	rec, ok := idx.get(filepath.Join(root, "docs", "deep", "draft.md"))
	require.True(t, ok)
	assert.Equal(t, "draft.md", rec.Name)
	assert.Equal(t, ".md", rec.Extension)
	assert.Equal(t, filepath.Join("docs", "deep", "draft.md"), rec.RelativePath)
	assert.Equal(t, int64(5), rec.SizeBytes)
	assert.NotEmpty(t, rec.ID)

	// Extensions are normalized to lowercase.
	rec, ok = idx.get(filepath.Join(root, "report.PDF"))
	require.True(t, ok)
	assert.Equal(t, ".pdf", rec.Extension)
}

func TestScanIsRepeatable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	idx := newFakeIndexer()
	w, err := NewWatcher(idx, []string{root})
	require.NoError(t, err)
	defer w.watcher.Close()

	_, err = w.Scan(context.Background())
	require.NoError(t, err)
	_, err = w.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, idx.count(), "rescan upserts in place")
}

func startWatcher(t *testing.T, idx *fakeIndexer, root string) *Watcher {
	t.Helper()
	w, err := NewWatcher(idx, []string{root})
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatchIndexesNewFile(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndexer()
	startWatcher(t, idx, root)

	path := filepath.Join(root, "fresh.txt")
	writeFile(t, path, "hello")

	require.Eventually(t, func() bool {
		_, ok := idx.get(path)
		return ok
	}, 3*time.Second, 20*time.Millisecond, "new file indexed after debounce")
}

func TestWatchDropsRemovedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "doomed.txt")
	writeFile(t, path, "bye")

	idx := newFakeIndexer()
	w := startWatcher(t, idx, root)
	_, err := w.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, idx.count())

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return idx.count() == 0
	}, 3*time.Second, 20*time.Millisecond, "removed file dropped from index")
	assert.Greater(t, w.GetStats().FilesRemoved, 0)
}

func TestWatchFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndexer()
	startWatcher(t, idx, root)

	sub := filepath.Join(root, "incoming")
	require.NoError(t, os.Mkdir(sub, 0755))
	// Give the watcher a beat to pick the directory up before writing.
	time.Sleep(200 * time.Millisecond)

	path := filepath.Join(sub, "arrival.txt")
	writeFile(t, path, "new")

	require.Eventually(t, func() bool {
		_, ok := idx.get(path)
		return ok
	}, 3*time.Second, 20*time.Millisecond, "file in new subdirectory indexed")
}
