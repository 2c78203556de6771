// Package retrieval builds a per-request vector index over manual chunks and
// returns the chunks nearest to a query.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
)

const (
	DefaultK = 5

	// DefaultQuery asks for the parts of a manual that describe the experiment.
	DefaultQuery = "Aim, Theory, Apparatus, and Procedure of the experiment"

	// Separator is placed between retrieved chunks in the joined context.
	Separator = "\n\n---\n\n"
)

type Index struct {
	embedder embeddings.Embedder
	chunks   []string
	vectors  [][]float32
}

type Hit struct {
	// Index of the chunk in the order it was added.
	Index    int
	Text     string
	Distance float64
}

// Build embeds every chunk. An empty chunk list produces an empty index
// without calling the embedder.
func Build(ctx context.Context, embedder embeddings.Embedder, chunks []string) (*Index, error) {
	idx := &Index{
		embedder: embedder,
		chunks:   chunks,
	}
	if len(chunks) == 0 {
		return idx, nil
	}
	vectors, err := embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	idx.vectors = vectors
	return idx, nil
}

func (idx *Index) Len() int {
	return len(idx.chunks)
}

// Query returns up to k chunks ordered by cosine distance to the query, closest
// first. Equal distances keep chunk order.
func (idx *Index) Query(ctx context.Context, query string, k int) (hits []Hit, err error) {
	if idx.Len() == 0 || k <= 0 {
		return nil, nil
	}
	k = min(k, idx.Len())
	qv, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(qv) != len(idx.vectors[0]) {
		return nil, fmt.Errorf("query embedding has dimension %d, expected %d", len(qv), len(idx.vectors[0]))
	}
	hits = make([]Hit, len(idx.chunks))
	for i, v := range idx.vectors {
		hits[i] = Hit{
			Index:    i,
			Text:     idx.chunks[i],
			Distance: cosineDistance(qv, v),
		}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return hits[:k], nil
}

// cosineDistance is 1 - cosine similarity. Zero vectors are treated as
// maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// JoinContext concatenates hit texts in order with Separator.
func JoinContext(hits []Hit) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return strings.Join(texts, Separator)
}
