package repo

import "context"

// Messenger delivers a text message to a single recipient
type Messenger interface {
	// SendText sends body to the E.164 number and returns the provider
	// message id. An empty id means the message was not accepted.
	SendText(ctx context.Context, to, body string) (string, error)

	// IsAvailable probes the provider
	IsAvailable(ctx context.Context) bool

	// ProviderName identifies the provider in logs and results
	ProviderName() string
}
