package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/nbfix/internal/vectorstore"
)

type wordEmbedder struct{}

func (e wordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.EmbedQuery(ctx, t)
	}
	return out, nil
}

func (wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 128)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32())%len(vec)]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] /= float32(math.Sqrt(sum))
	}
	return vec, nil
}

func newMemStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, wordEmbedder{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) AddDocuments(ctx context.Context, collection string, docs []vectorstore.Document) ([]string, error) {
	args := m.Called(ctx, collection, docs)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockStore) Search(ctx context.Context, collection, query string, k int) ([]vectorstore.SearchResult, error) {
	args := m.Called(ctx, collection, query, k)
	res, _ := args.Get(0).([]vectorstore.SearchResult)
	return res, args.Error(1)
}

func (m *mockStore) DeleteDocuments(ctx context.Context, collection string, ids []string) error {
	return m.Called(ctx, collection, ids).Error(0)
}

func (m *mockStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	args := m.Called(ctx, collection)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Close() error { return nil }
