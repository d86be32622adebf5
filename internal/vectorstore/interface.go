package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrInvalidCollectionName = errors.New("invalid collection name")
	ErrInvalidConfig         = errors.New("invalid vector store configuration")
	ErrEmptyDocuments        = errors.New("no documents to add")
	ErrConnectionFailed      = errors.New("vector store unreachable")
	ErrEmbeddingFailed       = errors.New("embedding failed")
)

// Collection names are shared by chromem and Qdrant, so they follow the
// stricter of the two naming rules.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Embedder turns text into vectors. embeddings.Service satisfies it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store holds the documentation chunks and past fixes that the retriever
// searches when a notebook error needs outside context.
type Store interface {
	// AddDocuments embeds docs and upserts them by ID, creating the
	// collection on first use. It returns the stored IDs.
	AddDocuments(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Search returns at most k matches for query, best first. A collection
	// that was never written yields ErrCollectionNotFound.
	Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error)

	DeleteDocuments(ctx context.Context, collection string, ids []string) error
	CollectionExists(ctx context.Context, collection string) (bool, error)
	Close() error
}

// Document is one indexed chunk: a section of a docs file or a recorded
// error-to-patch fix.
type Document struct {
	ID      string
	Content string
	// Metadata values must be scalars (string, bool, int, int64, float64)
	// so both backends can store them.
	Metadata map[string]interface{}
}

// SearchResult is a Document with its similarity to the query; larger is
// closer.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]interface{}
}

func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must be 1-64 chars of [a-z0-9_]", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateSearch(collection, query string, k int) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	switch {
	case k <= 0:
		return fmt.Errorf("search limit must be positive, got %d", k)
	case query == "":
		return errors.New("search query is empty")
	}
	return nil
}

func validateDocuments(docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	for i := range docs {
		if docs[i].ID == "" {
			return fmt.Errorf("document %d: missing ID", i)
		}
	}
	return nil
}
