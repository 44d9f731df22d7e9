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

// TwilioConfig configures the Twilio WhatsApp sender
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Retry      RetryPolicy
}

// Twilio sends WhatsApp messages through the Twilio Messages API
type Twilio struct {
	client *resty.Client
	cfg    TwilioConfig
	log    zerolog.Logger
}

// NewTwilio creates a Twilio messenger
func NewTwilio(cfg TwilioConfig, log zerolog.Logger) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if !strings.HasPrefix(cfg.From, "whatsapp:") {
		cfg.From = "whatsapp:" + cfg.From
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetTimeout(30 * time.Second)
	return &Twilio{client: c, cfg: cfg, log: log.With().Str("provider", "twilio").Logger()}
}

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// SendText posts a message and returns its SID
func (t *Twilio) SendText(ctx context.Context, to, body string) (string, error) {
	if !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", t.cfg.AccountSID)

	resp, err := do(ctx, "twilio", t.cfg.Retry, statusIs(http.StatusCreated, http.StatusOK), func() (*resty.Response, error) {
		return t.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{"From": t.cfg.From, "To": to, "Body": body}).
			Post(path)
	})
	if err != nil {
		return "", err
	}

	var msg twilioMessage
	if err := json.Unmarshal(resp.Body(), &msg); err != nil {
		return "", fmt.Errorf("twilio: decode response: %w", err)
	}
	t.log.Info().Str("sid", msg.SID).Str("status", msg.Status).Int("body_length", len(body)).Msg("message sent")
	return msg.SID, nil
}

// IsAvailable fetches the account resource
func (t *Twilio) IsAvailable(ctx context.Context) bool {
	resp, err := t.client.R().SetContext(ctx).Get(fmt.Sprintf("/2010-04-01/Accounts/%s.json", t.cfg.AccountSID))
	return err == nil && resp.StatusCode() == http.StatusOK
}

func (t *Twilio) ProviderName() string { return "twilio" }
