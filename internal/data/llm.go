package data

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bubu-agent/bubu/internal/biz/repo"
)

const (
	defaultLLMTimeout = 60 * time.Second
	greedyTemperature = 0.01
)

// llmRepo implements TextGenerator over an OpenAI-compatible chat API
type llmRepo struct {
	client     *openai.Client
	model      string
	newBackOff func() backoff.BackOff
}

// NewLLMRepo creates a text generator. baseURL may point at any
// OpenAI-compatible endpoint (Hugging Face router, Ollama, vLLM).
func NewLLMRepo(baseURL, apiKey, model string) repo.TextGenerator {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &llmRepo{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		newBackOff: modelLoadingBackOff,
	}
}

// modelLoadingBackOff paces retries while a cold model is loading. The
// caller's deadline still wins.
func modelLoadingBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 2 * time.Second
	exp.MaxInterval = 10 * time.Second
	exp.MaxElapsedTime = defaultLLMTimeout
	return exp
}

// modelLoading reports a 503, which hosted inference endpoints return
// while the model is still being loaded
func modelLoading(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusServiceUnavailable
	}
	return false
}

// GenerateText runs one chat completion, waiting out a loading model
func (r *llmRepo) GenerateText(ctx context.Context, systemPrompt, userPrompt string, params repo.GenerateParams) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultLLMTimeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens: params.MaxNewTokens,
	}
	if params.DoSample {
		req.Temperature = float32(params.Temperature)
		req.TopP = float32(params.TopP)
	} else {
		// zero is dropped by omitempty, so ask for near-greedy decoding
		req.Temperature = greedyTemperature
	}

	resp, err := backoff.RetryWithData(func() (openai.ChatCompletionResponse, error) {
		resp, err := r.client.CreateChatCompletion(ctx, req)
		if err != nil && !modelLoading(err) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithContext(r.newBackOff(), ctx))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// openAIEncoder implements Encoder with the embeddings endpoint
type openAIEncoder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEncoder creates an embeddings encoder
func NewOpenAIEncoder(baseURL, apiKey, model string) repo.Encoder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &openAIEncoder{client: openai.NewClientWithConfig(config), model: model}
}

// Encode embeds a single text
func (e *openAIEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
