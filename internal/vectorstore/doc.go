// Package vectorstore stores text chunks with their embeddings and answers
// similarity queries against named collections.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default, optional persistence)
//   - QdrantStore: external Qdrant over gRPC
package vectorstore
