package whatsapp

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SentMessage is a message captured by DryRun
type SentMessage struct {
	ID   string
	To   string
	Body string
}

// DryRun logs messages instead of delivering them
type DryRun struct {
	mu   sync.Mutex
	sent []SentMessage
	log  zerolog.Logger
}

// NewDryRun creates a messenger that never leaves the process
func NewDryRun(log zerolog.Logger) *DryRun {
	return &DryRun{log: log.With().Str("provider", "dryrun").Logger()}
}

func (d *DryRun) SendText(_ context.Context, to, body string) (string, error) {
	id := "dry-" + uuid.NewString()
	d.mu.Lock()
	d.sent = append(d.sent, SentMessage{ID: id, To: to, Body: body})
	d.mu.Unlock()
	d.log.Info().Str("message_id", id).Str("body", body).Msg("dry run, message not delivered")
	return id, nil
}

func (d *DryRun) IsAvailable(context.Context) bool { return true }

func (d *DryRun) ProviderName() string { return "dryrun" }

// Sent returns a copy of every captured message
func (d *DryRun) Sent() []SentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SentMessage(nil), d.sent...)
}
