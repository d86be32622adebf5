package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestChromemStore(t *testing.T, path string) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{Path: path}, bagOfWordsEmbedder{size: 64}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestChromemStore_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "")

	ids, err := store.AddDocuments(ctx, "docs", []Document{
		{ID: "a", Content: "create_cube builds a cube from a table", Metadata: map[string]interface{}{"source": "cube.md", "chunk": 0}},
		{ID: "b", Content: "pandas read_csv loads a dataframe from disk"},
		{ID: "c", Content: "hierarchies and levels of a cube"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	results, err := store.Search(ctx, "docs", "how to create_cube from a table", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Equal(t, "cube.md", results[0].Metadata["source"])
	assert.Equal(t, "0", results[0].Metadata["chunk"])
}

func TestChromemStore_KCappedAtCount(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "")

	_, err := store.AddDocuments(ctx, "docs", []Document{{ID: "a", Content: "only one"}})
	require.NoError(t, err)

	results, err := store.Search(ctx, "docs", "one", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemStore_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "")

	_, err := store.AddDocuments(ctx, "docs", []Document{{ID: "a", Content: "old text"}})
	require.NoError(t, err)
	_, err = store.AddDocuments(ctx, "docs", []Document{{ID: "a", Content: "new text"}})
	require.NoError(t, err)

	results, err := store.Search(ctx, "docs", "text", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new text", results[0].Content)
}

func TestChromemStore_MissingCollection(t *testing.T) {
	store := newTestChromemStore(t, "")

	_, err := store.Search(context.Background(), "absent", "q", 3)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	exists, err := store.CollectionExists(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChromemStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "")

	_, err := store.AddDocuments(ctx, "fixes", []Document{{ID: "a", Content: "x y"}, {ID: "b", Content: "y z"}})
	require.NoError(t, err)
	require.NoError(t, store.DeleteDocuments(ctx, "fixes", []string{"a"}))

	results, err := store.Search(ctx, "fixes", "y", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestChromemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := newTestChromemStore(t, dir)
	_, err := store.AddDocuments(ctx, "docs", []Document{{ID: "a", Content: "persisted chunk"}})
	require.NoError(t, err)

	reopened := newTestChromemStore(t, dir)
	results, err := reopened.Search(ctx, "docs", "persisted", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted chunk", results[0].Content)
}

func TestChromemStore_Validation(t *testing.T) {
	ctx := context.Background()
	store := newTestChromemStore(t, "")

	_, err := store.AddDocuments(ctx, "docs", nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)

	_, err = store.AddDocuments(ctx, "docs", []Document{{Content: "no id"}})
	assert.Error(t, err)

	_, err = store.AddDocuments(ctx, "Bad-Name", []Document{{ID: "a", Content: "x"}})
	assert.ErrorIs(t, err, ErrInvalidCollectionName)

	_, err = store.Search(ctx, "docs", "", 1)
	assert.Error(t, err)
	_, err = store.Search(ctx, "docs", "q", 0)
	assert.Error(t, err)
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("ollama unreachable")
}

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("ollama unreachable")
}

func TestChromemStore_EmbeddingFailure(t *testing.T) {
	store, err := NewChromemStore(ChromemConfig{}, failingEmbedder{}, nil)
	require.NoError(t, err)

	_, err = store.AddDocuments(context.Background(), "docs", []Document{{ID: "a", Content: "x"}})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewChromemStore_RequiresEmbedder(t *testing.T) {
	_, err := NewChromemStore(ChromemConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
