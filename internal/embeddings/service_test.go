package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/nbfix/internal/config"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestService_EmbedDocuments(t *testing.T) {
	client := new(mockClient)
	client.On("CreateEmbedding", mock.Anything, []string{"a", "b"}).
		Return([][]float32{{1, 0}, {0, 1}}, nil)

	svc, err := New(client, "nomic-embed-text", zaptest.NewLogger(t))
	require.NoError(t, err)

	vecs, err := svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	client.AssertExpectations(t)
}

func TestService_EmbedQuery(t *testing.T) {
	client := new(mockClient)
	client.On("CreateEmbedding", mock.Anything, []string{"query"}).
		Return([][]float32{{0.5, 0.5}}, nil)

	svc, err := New(client, "m", nil)
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}

func TestService_Errors(t *testing.T) {
	client := new(mockClient)
	client.On("CreateEmbedding", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	svc, err := New(client, "m", nil)
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, "m", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewOllama_RequiresConfig(t *testing.T) {
	_, err := NewOllama(config.EmbeddingsConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
