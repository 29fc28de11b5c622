package semantic

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

// HashEmbedder is an offline embedder that hashes word stems and character
// trigrams into a fixed number of dimensions.
type HashEmbedder struct {
	Dimensions int
}

var _ embedding.Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder returns a HashEmbedder with dims dimensions (256 when dims <= 0).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{Dimensions: dims}
}

// stopWords never contribute to a hashed vector: articles, the fixed document
// template and the query instruction prefix.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "in": true, "of": true, "for": true, "and": true,
	"to": true, "me": true, "my": true, "i": true, "some": true, "need": true, "want": true,
	"found": true, "aisle": true, "department": true,
	"represent": true, "this": true, "sentence": true, "searching": true, "relevant": true, "passages": true,
}

func (h *HashEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float64 {
	v := make([]float64, h.Dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		w = stem(w)
		v[h.bucket("w:"+w)] += 1
		padded := "^" + w + "$"
		for i := 0; i+3 <= len(padded); i++ {
			v[h.bucket("t:"+padded[i:i+3])] += 0.25
		}
	}
	return v
}

func (h *HashEmbedder) bucket(feature string) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(feature))
	return int(f.Sum32() % uint32(h.Dimensions))
}

// stem strips common English plural endings.
func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && strings.HasSuffix(w, "oes"):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

// GeminiEmbedder embeds text with the Gemini embedding API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder builds an embedder on an existing genai client.
func NewGeminiEmbedder(client *genai.Client, model string, dimensions int) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, model: model, dimensions: int32(dimensions)}
}

func (g *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if len(texts) == 1 && strings.HasPrefix(texts[0], QueryPrefix) {
		cfg.TaskType = "RETRIEVAL_QUERY"
	}
	if g.dimensions > 0 {
		dims := g.dimensions
		cfg.OutputDimensionality = &dims
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for j, x := range e.Values {
			vec[j] = float64(x)
		}
		out[i] = vec
	}
	return out, nil
}
