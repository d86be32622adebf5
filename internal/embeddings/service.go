package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/config"
	"github.com/fyrsmithlabs/nbfix/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

const defaultBatchSize = 32

// Service generates embeddings through a langchaingo embedder.
type Service struct {
	embedder embeddings.Embedder
	model    string
	metrics  *Metrics
	logger   *zap.Logger
}

// NewOllama creates a Service backed by an Ollama embedding model.
func NewOllama(cfg config.EmbeddingsConfig, logger *zap.Logger) (*Service, error) {
	if cfg.Model == "" || cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: model and base_url are required", ErrInvalidConfig)
	}
	client, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return New(client, cfg.Model, logger)
}

// New wraps any langchaingo embedder client.
func New(client embeddings.EmbedderClient, model string, logger *zap.Logger) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(defaultBatchSize))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &Service{
		embedder: embedder,
		model:    model,
		metrics:  NewMetrics(logger),
		logger:   logger,
	}, nil
}

// EmbedDocuments implements vectorstore.Embedder.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	start := time.Now()
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	s.metrics.RecordGeneration(ctx, s.model, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		s.logger.Warn("embedding documents failed", zap.String("model", s.model), zap.Error(err))
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return vectors, nil
}

// EmbedQuery implements vectorstore.Embedder.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	start := time.Now()
	vector, err := s.embedder.EmbedQuery(ctx, text)
	s.metrics.RecordGeneration(ctx, s.model, "embed_query", time.Since(start), 1, err)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vector, nil
}

var _ vectorstore.Embedder = (*Service)(nil)
