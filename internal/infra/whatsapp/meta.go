package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// MetaConfig configures the WhatsApp Cloud API sender
type MetaConfig struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	Retry         RetryPolicy
}

// Meta sends messages through the WhatsApp Cloud (Graph) API
type Meta struct {
	client *resty.Client
	cfg    MetaConfig
	log    zerolog.Logger
}

// NewMeta creates a Meta messenger
func NewMeta(cfg MetaConfig, log zerolog.Logger) *Meta {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Meta{client: c, cfg: cfg, log: log.With().Str("provider", "meta").Logger()}
}

type metaText struct {
	Body string `json:"body"`
}

type metaSendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             metaText `json:"text"`
}

type metaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText posts a text message and returns the wamid
func (m *Meta) SendText(ctx context.Context, to, body string) (string, error) {
	req := metaSendRequest{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             metaText{Body: body},
	}

	resp, err := do(ctx, "meta", m.cfg.Retry, statusIs(http.StatusOK), func() (*resty.Response, error) {
		return m.client.R().SetContext(ctx).SetBody(&req).Post("/" + m.cfg.PhoneNumberID + "/messages")
	})
	if err != nil {
		return "", err
	}

	var out metaSendResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("meta: decode response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	m.log.Info().Str("message_id", out.Messages[0].ID).Int("body_length", len(body)).Msg("message sent")
	return out.Messages[0].ID, nil
}

// IsAvailable fetches the phone number resource
func (m *Meta) IsAvailable(ctx context.Context) bool {
	resp, err := m.client.R().SetContext(ctx).Get("/" + m.cfg.PhoneNumberID)
	return err == nil && resp.StatusCode() == http.StatusOK
}

func (m *Meta) ProviderName() string { return "meta" }
