package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopassist/server/internal/agent/catalog"
	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

type constEmbedder struct {
	calls   int
	queries []string
	err     error
}

func (c *constEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if strings.HasPrefix(t, QueryPrefix) {
			c.queries = append(c.queries, t)
		}
		out[i] = []float64{1, 1}
	}
	return out, nil
}

func TestNilIndexIsUnavailable(t *testing.T) {
	var idx *Index
	assert.False(t, idx.Ready())
	_, err := idx.Query(context.Background(), "bananas", 5)
	assert.ErrorIs(t, err, errx.ErrIndexUnavailable)

	_, err = Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errx.ErrIndexUnavailable)
}

func TestQueryTiesBreakByID(t *testing.T) {
	products := []model.Product{{ID: 30}, {ID: 10}, {ID: 20}}
	emb := &constEmbedder{}
	idx, err := Build(context.Background(), emb, products)
	require.NoError(t, err)

	hits, err := idx.Query(context.Background(), "anything\nat all", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(10), hits[0].ProductID)
	assert.Equal(t, int64(20), hits[1].ProductID)
	assert.Equal(t, []string{QueryPrefix + "anything at all"}, emb.queries)
}

func TestQueryDefaultsAndCaps(t *testing.T) {
	products := make([]model.Product, 40)
	for i := range products {
		products[i] = model.Product{ID: int64(i + 1)}
	}
	idx, err := Build(context.Background(), &constEmbedder{}, products)
	require.NoError(t, err)
	assert.Equal(t, 40, idx.Len())

	hits, err := idx.Query(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Len(t, hits, DefaultK)

	hits, err = idx.Query(context.Background(), "x", 100)
	require.NoError(t, err)
	assert.Len(t, hits, MaxK)

	_, err = idx.Query(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, errx.ErrInvalidArgument)
}

func TestBuildPropagatesEmbedderError(t *testing.T) {
	_, err := Build(context.Background(), &constEmbedder{err: errors.New("quota")}, []model.Product{{ID: 1}})
	assert.ErrorContains(t, err, "quota")
}

func TestHashEmbedderFindsBananas(t *testing.T) {
	ctx := context.Background()
	store, err := catalog.LoadSample(ctx, 0)
	require.NoError(t, err)
	defer store.Close()

	idx, err := Build(ctx, NewHashEmbedder(256), store.Products())
	require.NoError(t, err)

	hits, err := idx.Query(ctx, "bananas", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	top, ok := store.Product(hits[0].ProductID)
	require.True(t, ok)
	assert.Contains(t, strings.ToLower(top.Name), "banana")
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestDocumentText(t *testing.T) {
	p := model.Product{Name: "Banana", Aisle: "fresh fruits", Department: "produce"}
	assert.Equal(t, "Banana, found in the fresh fruits aisle of the produce department.", DocumentText(p))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "banana", stem("bananas"))
	assert.Equal(t, "berry", stem("berries"))
	assert.Equal(t, "tomato", stem("tomatoes"))
	assert.Equal(t, "glass", stem("glass"))
	assert.Equal(t, "bag", stem("bag"))
}
