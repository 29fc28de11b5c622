package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

func (e *Executor) semanticSearch(ctx context.Context, a SemanticSearchArgs) (string, error) {
	if e.index == nil {
		return "", errx.IndexUnavailable("no semantic index configured")
	}
	k := a.K
	if k == 0 {
		k = e.defaultK
	}
	hits, err := e.index.Query(ctx, a.Query, k)
	if err != nil {
		return "", err
	}

	records := make([]model.ProductRecord, 0, len(hits))
	for _, h := range hits {
		p, ok := e.catalog.Product(h.ProductID)
		if !ok {
			// index built from a different catalog snapshot
			continue
		}
		r := p.Record()
		r.Score = h.Score
		records = append(records, r)
	}
	return encodeRecords(records)
}

func (e *Executor) structuredSearch(ctx context.Context, a StructuredSearchArgs) (string, error) {
	records, err := e.catalog.Search(ctx, a.Filter())
	if err != nil {
		return "", err
	}
	return encodeRecords(records)
}

func encodeRecords(records []model.ProductRecord) (string, error) {
	if records == nil {
		records = []model.ProductRecord{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode search results: %w", err)
	}
	return string(b), nil
}

// DecodeRecords parses the content of a successful search result.
func DecodeRecords(content string) ([]model.ProductRecord, error) {
	var out []model.ProductRecord
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, err
	}
	return out, nil
}
