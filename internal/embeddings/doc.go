// Package embeddings generates text embeddings through langchaingo for the
// knowledge index.
package embeddings
