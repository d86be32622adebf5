package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// bagOfWordsEmbedder hashes words into a fixed number of buckets so texts
// sharing words land close together.
type bagOfWordsEmbedder struct {
	size int
}

func (e bagOfWordsEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.EmbedQuery(ctx, t)
	}
	return out, nil
}

func (e bagOfWordsEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.size)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32())%e.size]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec, nil
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= norm
	}
	return vec, nil
}
