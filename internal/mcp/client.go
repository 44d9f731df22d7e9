package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a running bubu HTTP API
type Client struct {
	http *resty.Client
}

// NewClient creates a new API client. token is sent as a bearer token.
func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(2 * time.Minute)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// Plan is today's send time per slot; nil means suppressed
type Plan struct {
	Date    string  `json:"date"`
	Morning *string `json:"morning"`
	Flirty  *string `json:"flirty"`
	Night   *string `json:"night"`
}

// SendResult mirrors the API send outcome
type SendResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Provider  string `json:"provider"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Message is one send-history row
type Message struct {
	Date       string `json:"date"`
	Slot       string `json:"slot"`
	Text       string `json:"text"`
	Status     string `json:"status"`
	ProviderID string `json:"provider_id"`
	CreatedAt  string `json:"created_at"`
}

// PreviewOptions are forwarded to /config/preview
type PreviewOptions struct {
	Date      string `json:"date,omitempty"`
	Randomize bool   `json:"randomize,omitempty"`
	Seed      *int64 `json:"seed,omitempty"`
}

type apiError struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetPlan fetches today's plan
func (c *Client) GetPlan(ctx context.Context) (*Plan, error) {
	var plan Plan
	if err := c.do(ctx, resty.MethodGet, "/plan/today", nil, nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Preview renders a template preview for slot
func (c *Client) Preview(ctx context.Context, slot string, opts PreviewOptions) (string, error) {
	body := map[string]any{"type": slot, "options": opts}
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, resty.MethodPost, "/config/preview", nil, body, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// SendNow sends slot now; a non-empty text is sent verbatim
func (c *Client) SendNow(ctx context.Context, slot, text string) (*SendResult, error) {
	body := map[string]string{"type": slot}
	if text != "" {
		body["text"] = text
	}
	var res SendResult
	if err := c.do(ctx, resty.MethodPost, "/send-now", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecentMessages lists send history for the last days
func (c *Client) RecentMessages(ctx context.Context, days int) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	query := map[string]string{"days": strconv.Itoa(days)}
	if err := c.do(ctx, resty.MethodGet, "/messages/recent", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.IsError() {
		var apiErr apiError
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error %d: %s", resp.StatusCode(), apiErr.Message)
		}
		return fmt.Errorf("API error %d: %s", resp.StatusCode(), resp.String())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
