package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bubu-agent/bubu/internal/biz/repo"
)

// teiReranker scores documents with a text-embeddings-inference
// cross-encoder served at /rerank
type teiReranker struct {
	client *resty.Client
}

// NewRerankRepo creates a Reranker for a TEI endpoint
func NewRerankRepo(baseURL string) repo.Reranker {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &teiReranker{client: c}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank returns one score per doc in doc order
func (r *teiReranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(&rerankRequest{Query: query, Texts: docs, Truncate: true}).
		Post("/rerank")
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("rerank status %d: %s", resp.StatusCode(), resp.String())
	}

	var results []rerankResult
	if err := json.Unmarshal(resp.Body(), &results); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	scores := make([]float64, len(docs))
	got := 0
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(docs) {
			return nil, fmt.Errorf("rerank index %d out of range", res.Index)
		}
		scores[res.Index] = res.Score
		got++
	}
	if got != len(docs) {
		return nil, fmt.Errorf("rerank returned %d scores for %d docs", got, len(docs))
	}
	return scores, nil
}
