package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/nbfix/internal/notebook/notebooktest"
)

func TestIndexer_IndexDir(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/docs/cube.md", []byte("# Cubes\nsession.create_cube(table) builds a cube.\n\n# Measures\ncube.measures holds measures.\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/docs/notes.txt", []byte("plain notes about hierarchies"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/docs/image.png", []byte{0x89, 'P', 'N', 'G'}, 0644))
	require.NoError(t, afero.WriteFile(fs, "/docs/.git/config", []byte("ignored"), 0644))
	notebooktest.Write(t, fs, "/docs/tutorial.ipynb",
		notebooktest.Markdown("## Tutorial\nLoad a table with session.read_csv."),
		notebooktest.Code("import atoti as tt"),
	)

	store := newMemStore(t)
	ix, err := NewIndexer(store, fs, "docs", 500, zaptest.NewLogger(t))
	require.NoError(t, err)

	stats, err := ix.IndexDir(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 3, Chunks: 4}, stats)

	r, err := NewRetriever(store, Options{Collections: []string{"docs"}}, nil)
	require.NoError(t, err)
	got := r.Search(ctx, "create_cube table", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "/docs/cube.md#0", got[0].SourceID)

	// re-indexing is idempotent
	_, err = ix.IndexDir(ctx, "/docs")
	require.NoError(t, err)
	assert.Len(t, r.Search(ctx, "cube", 10), 4)
}

func TestIndexer_ShrinkingFileRemovesStaleChunks(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/d/a.md", []byte("# One\nalpha\n# Two\nbeta\n# Three\ngamma\n"), 0644))

	store := newMemStore(t)
	ix, err := NewIndexer(store, fs, "docs", 500, nil)
	require.NoError(t, err)

	n, err := ix.IndexFile(ctx, "/d/a.md")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, afero.WriteFile(fs, "/d/a.md", []byte("# One\nalpha\n"), 0644))
	n, err = ix.IndexFile(ctx, "/d/a.md")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := store.Search(ctx, "docs", "alpha beta gamma", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChunkID_Stable(t *testing.T) {
	assert.Equal(t, ChunkID("a/b.md", 1), ChunkID("a/b.md", 1))
	assert.NotEqual(t, ChunkID("a/b.md", 1), ChunkID("a/b.md", 2))
	assert.Len(t, ChunkID("x", 0), 64)
}

func TestIndexer_Watch(t *testing.T) {
	dir := t.TempDir()
	store := newMemStore(t)
	ix, err := NewIndexer(store, afero.NewOsFs(), "docs", 500, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Watch(ctx, dir) }()

	path := filepath.Join(dir, "new.md")
	require.Eventually(t, func() bool {
		// rewrite until the watcher has registered and indexed it
		_ = os.WriteFile(path, []byte("# Fresh\nwatched content"), 0600)
		res, err := store.Search(context.Background(), "docs", "watched content", 1)
		return err == nil && len(res) == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
