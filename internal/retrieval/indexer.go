package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/notebook"
	"github.com/fyrsmithlabs/nbfix/internal/vectorstore"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// maxIndexedFileSize skips generated or binary blobs.
const maxIndexedFileSize = 4 << 20

var indexedExts = map[string]bool{
	".md":    true,
	".txt":   true,
	".rst":   true,
	".py":    true,
	".ipynb": true,
}

// Stats summarises an indexing run.
type Stats struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	Skipped int `json:"skipped"`
}

// Indexer loads documentation into a vector store collection.
type Indexer struct {
	store      vectorstore.Store
	fs         afero.Fs
	collection string
	chunkSize  int
	logger     *zap.Logger

	mu     sync.Mutex
	counts map[string]int // chunks last written per file
}

// NewIndexer creates an Indexer writing to collection.
func NewIndexer(store vectorstore.Store, fsys afero.Fs, collection string, chunkSize int, logger *zap.Logger) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		store:      store,
		fs:         fsys,
		collection: collection,
		chunkSize:  chunkSize,
		logger:     logger,
		counts:     make(map[string]int),
	}, nil
}

// ChunkID is the stable document ID of chunk idx of path, so re-indexing
// a file replaces its chunks instead of duplicating them.
func ChunkID(path string, idx int) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(path) + "#" + strconv.Itoa(idx)))
	return hex.EncodeToString(sum[:])
}

// IndexDir indexes every supported file below root. Unreadable files are
// skipped and counted.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (Stats, error) {
	var stats Stats
	err := afero.Walk(ix.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if path != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexable(path) {
			return nil
		}
		n, err := ix.IndexFile(ctx, path)
		if err != nil {
			ix.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			stats.Skipped++
			return nil
		}
		stats.Files++
		stats.Chunks += n
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walking %s: %w", root, err)
	}
	ix.logger.Info("indexed documentation",
		zap.String("root", root),
		zap.String("collection", ix.collection),
		zap.Int("files", stats.Files),
		zap.Int("chunks", stats.Chunks),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// IndexFile (re)indexes a single file and returns the number of chunks
// written. Chunks left over from a longer previous version are removed.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	info, err := ix.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() > maxIndexedFileSize {
		return 0, fmt.Errorf("file too large: %d bytes", info.Size())
	}
	data, err := afero.ReadFile(ix.fs, path)
	if err != nil {
		return 0, err
	}
	chunks, err := ix.chunkFile(path, data)
	if err != nil {
		return 0, err
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.Document{
			ID:      ChunkID(path, i),
			Content: c,
			Metadata: map[string]interface{}{
				"source": filepath.ToSlash(path),
				"chunk":  i,
			},
		}
	}
	if len(docs) > 0 {
		if _, err := ix.store.AddDocuments(ctx, ix.collection, docs); err != nil {
			return 0, err
		}
	}
	ix.pruneStale(ctx, path, len(docs))
	return len(docs), nil
}

// RemoveFile deletes the chunks previously indexed for path.
func (ix *Indexer) RemoveFile(ctx context.Context, path string) {
	ix.pruneStale(ctx, path, 0)
}

func (ix *Indexer) pruneStale(ctx context.Context, path string, n int) {
	ix.mu.Lock()
	prev := ix.counts[path]
	if n == 0 {
		delete(ix.counts, path)
	} else {
		ix.counts[path] = n
	}
	ix.mu.Unlock()

	if prev <= n {
		return
	}
	stale := make([]string, 0, prev-n)
	for i := n; i < prev; i++ {
		stale = append(stale, ChunkID(path, i))
	}
	if err := ix.store.DeleteDocuments(ctx, ix.collection, stale); err != nil {
		ix.logger.Warn("failed to remove stale chunks", zap.String("path", path), zap.Error(err))
	}
}

func (ix *Indexer) chunkFile(path string, data []byte) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ipynb":
		doc, err := notebook.Parse(data)
		if err != nil {
			return nil, err
		}
		cells, err := doc.Cells()
		if err != nil {
			return nil, err
		}
		var chunks []string
		for _, c := range cells {
			if c.CellType == "markdown" {
				chunks = append(chunks, Chunk(c.Source, ix.chunkSize)...)
			}
		}
		return chunks, nil
	case ".md", ".rst":
		return Chunk(string(data), ix.chunkSize), nil
	default:
		return ChunkPlain(string(data), ix.chunkSize), nil
	}
}

func indexable(path string) bool {
	return indexedExts[strings.ToLower(filepath.Ext(path))]
}

// Watch re-indexes files below root as they change until ctx is done.
// It watches the OS filesystem regardless of the Indexer's afero.Fs.
func (ix *Indexer) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	ix.logger.Info("watching documentation", zap.String("root", root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			ix.handleEvent(ctx, watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (ix *Indexer) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if indexable(event.Name) {
			ix.RemoveFile(ctx, event.Name)
		}
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = watcher.Add(event.Name)
			return
		}
		if !indexable(event.Name) {
			return
		}
		n, err := ix.IndexFile(ctx, event.Name)
		if err != nil {
			ix.logger.Warn("re-index failed", zap.String("path", event.Name), zap.Error(err))
			return
		}
		ix.logger.Debug("re-indexed file", zap.String("path", event.Name), zap.Int("chunks", n))
	}
}
