// Package retrieval grounds patch planning in indexed documentation and in
// fixes that worked before.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nbfix/internal/vectorstore"
)

const tracerName = "github.com/fyrsmithlabs/nbfix/internal/retrieval"

// Snippet is a retrieved text fragment.
type Snippet struct {
	Text     string  `json:"text"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Searcher returns up to k snippets for query, highest score first.
type Searcher interface {
	Search(ctx context.Context, query string, k int) []Snippet
}

// Options configures a Retriever.
type Options struct {
	// Collections are searched and merged by score.
	Collections []string

	// MinScore drops results scoring below it.
	MinScore float64
}

// Retriever searches the vector store. It never fails: backend errors are
// logged and yield no snippets.
type Retriever struct {
	store  vectorstore.Store
	opts   Options
	logger *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(store vectorstore.Store, opts Options, logger *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if len(opts.Collections) == 0 {
		return nil, errors.New("at least one collection is required")
	}
	for _, c := range opts.Collections {
		if err := vectorstore.ValidateCollectionName(c); err != nil {
			return nil, fmt.Errorf("collection %q: %w", c, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, opts: opts, logger: logger}, nil
}

// Search implements Searcher.
func (r *Retriever) Search(ctx context.Context, query string, k int) []Snippet {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Retriever.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 || query == "" {
		return nil
	}

	var merged []Snippet
	for _, collection := range r.opts.Collections {
		results, err := r.store.Search(ctx, collection, query, k)
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			r.logger.Warn("retrieval unavailable, continuing without context",
				zap.String("collection", collection),
				zap.Error(err))
			continue
		}
		for _, res := range results {
			if float64(res.Score) < r.opts.MinScore {
				continue
			}
			merged = append(merged, Snippet{
				Text:     res.Content,
				SourceID: sourceID(res),
				Score:    float64(res.Score),
			})
		}
	}

	// stable keeps collection order among equal scores
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	span.SetAttributes(attribute.Int("results", len(merged)))
	return merged
}

// sourceID prefers the indexed source path over the opaque chunk ID.
func sourceID(res vectorstore.SearchResult) string {
	if src, ok := res.Metadata["source"].(string); ok && src != "" {
		if chunk, ok := res.Metadata["chunk"]; ok {
			return fmt.Sprintf("%s#%v", src, chunk)
		}
		return src
	}
	return res.ID
}

var _ Searcher = (*Retriever)(nil)
