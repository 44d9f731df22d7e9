package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// UltramsgConfig configures the Ultramsg sender
type UltramsgConfig struct {
	InstanceID string
	Token      string
	BaseURL    string
	Retry      RetryPolicy
}

// Ultramsg sends messages through an Ultramsg instance
type Ultramsg struct {
	client *resty.Client
	cfg    UltramsgConfig
	log    zerolog.Logger
}

// NewUltramsg creates an Ultramsg messenger
func NewUltramsg(cfg UltramsgConfig, log zerolog.Logger) *Ultramsg {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.ultramsg.com"
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.InstanceID).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Ultramsg{client: c, cfg: cfg, log: log.With().Str("provider", "ultramsg").Logger()}
}

type ultramsgResponse struct {
	ID    any    `json:"id"`
	Sent  string `json:"sent"`
	State string `json:"state"`
	Error any    `json:"error"`
}

// messageID renders the id, which Ultramsg returns as a number or a string
func (r ultramsgResponse) messageID() string {
	switch v := r.ID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// SendText posts a chat message and returns the Ultramsg message id
func (u *Ultramsg) SendText(ctx context.Context, to, body string) (string, error) {
	to = strings.TrimPrefix(to, "whatsapp:")
	if !strings.HasPrefix(to, "+") {
		to = "+" + to
	}
	payload := map[string]string{"token": u.cfg.Token, "to": to, "body": body}

	resp, err := do(ctx, "ultramsg", u.cfg.Retry, statusIs(http.StatusOK), func() (*resty.Response, error) {
		return u.client.R().SetContext(ctx).SetBody(payload).Post("/messages/chat")
	})
	if err != nil {
		return "", err
	}

	var out ultramsgResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("ultramsg: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("ultramsg: %v", out.Error)
	}
	id := out.messageID()
	u.log.Info().Str("message_id", id).Int("body_length", len(body)).Msg("message sent")
	return id, nil
}

// IsAvailable checks the instance connection state is open
func (u *Ultramsg) IsAvailable(ctx context.Context) bool {
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"token": u.cfg.Token}).
		Post("/instance/connectionState")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return false
	}
	var out ultramsgResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return false
	}
	return out.State == "open"
}

func (u *Ultramsg) ProviderName() string { return "ultramsg" }
