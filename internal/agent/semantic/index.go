// Package semantic implements the vector index behind semantic product search.
package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/sync/errgroup"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
	logx "github.com/shopassist/server/pkg/logger"
)

// QueryPrefix is prepended to search queries before embedding.
const QueryPrefix = "Represent this sentence for searching relevant passages: "

const (
	DefaultK = 5
	MaxK     = 20

	buildBatch       = 100
	buildConcurrency = 4
)

// DocumentText is the text embedded for a product.
func DocumentText(p model.Product) string {
	return fmt.Sprintf("%s, found in the %s aisle of the %s department.", p.Name, p.Aisle, p.Department)
}

// QueryText is the text embedded for a user query.
func QueryText(q string) string {
	return QueryPrefix + strings.TrimSpace(strings.ReplaceAll(q, "\n", " "))
}

// Hit is one nearest-neighbour match.
type Hit struct {
	ProductID int64   `json:"product_id"`
	Score     float64 `json:"score"`
}

// Index is an immutable in-memory vector index. A nil *Index is valid and
// reports IndexUnavailable on every query.
type Index struct {
	embedder embedding.Embedder
	ids      []int64
	vectors  [][]float64
}

// Build embeds every product and returns a ready index.
func Build(ctx context.Context, embedder embedding.Embedder, products []model.Product) (*Index, error) {
	if embedder == nil {
		return nil, errx.IndexUnavailable("no embedder configured")
	}

	idx := &Index{
		embedder: embedder,
		ids:      make([]int64, len(products)),
		vectors:  make([][]float64, len(products)),
	}
	for i, p := range products {
		idx.ids[i] = p.ID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(buildConcurrency)
	for start := 0; start < len(products); start += buildBatch {
		end := min(start+buildBatch, len(products))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, p := range products[start:end] {
				texts = append(texts, DocumentText(p))
			}
			vecs, err := embedder.EmbedStrings(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed products %d..%d: %w", start, end, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed products %d..%d: got %d vectors", start, end, len(vecs))
			}
			for i, v := range vecs {
				idx.vectors[start+i] = normalize(v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logx.Info().Int("documents", len(idx.ids)).Msg("semantic index built")
	return idx, nil
}

// Ready reports whether the index can answer queries.
func (i *Index) Ready() bool {
	return i != nil && i.embedder != nil
}

// Len returns the number of indexed documents.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.ids)
}

// Query returns the k nearest products to text, by descending cosine
// similarity with ties broken by ascending product id.
func (i *Index) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	if !i.Ready() {
		return nil, errx.IndexUnavailable("index has not been initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errx.InvalidArgument("query must not be empty")
	}
	if k <= 0 {
		k = DefaultK
	}
	k = min(k, MaxK)

	vecs, err := i.embedder.EmbedStrings(ctx, []string{QueryText(text)})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	q := normalize(vecs[0])

	hits := make([]Hit, len(i.ids))
	for n, v := range i.vectors {
		hits[n] = Hit{ProductID: i.ids[n], Score: round(dot(q, v))}
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].ProductID < hits[b].ProductID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float64, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for n, x := range v {
		out[n] = x / norm
	}
	return out
}

// round drops float noise so equal similarities compare equal.
func round(x float64) float64 {
	return math.Round(x*1e9) / 1e9
}

func dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}
