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

const defaultOllamaURL = "http://localhost:11434"

// ollamaEncoder calls the local Ollama embeddings API
type ollamaEncoder struct {
	client *resty.Client
	model  string
}

// NewOllamaEncoder creates an Encoder backed by Ollama
func NewOllamaEncoder(baseURL, model string) repo.Encoder {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(2 * time.Minute)
	return &ollamaEncoder{client: c, model: model}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Encode generates a dense vector for text. A missing model is pulled
// once before retrying.
func (e *ollamaEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	reqBody := ollamaEmbedRequest{Model: e.model, Prompt: text}
	resp, err := e.client.R().SetContext(ctx).SetBody(&reqBody).Post("/api/embeddings")
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		_, _ = e.client.R().SetContext(ctx).SetBody(map[string]string{"name": e.model}).Post("/api/pull")
		resp, err = e.client.R().SetContext(ctx).SetBody(&reqBody).Post("/api/embeddings")
		if err != nil {
			return nil, fmt.Errorf("ollama request after pull: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode(), resp.String())
		}
	}

	var er ollamaEmbedResponse
	if err := json.Unmarshal(resp.Body(), &er); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(er.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}

	vec := make([]float32, len(er.Embedding))
	for i, v := range er.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
