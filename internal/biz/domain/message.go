package domain

import "time"

// ComposeStatus is the terminal state of one compose attempt
type ComposeStatus string

const (
	StatusAlreadySent   ComposeStatus = "already_sent"
	StatusAIGenerated   ComposeStatus = "ai_generated"
	StatusFallback      ComposeStatus = "fallback"
	StatusErrorFallback ComposeStatus = "error_fallback"
)

// GenerationOutcome classifies the result of the AI attempt
type GenerationOutcome string

const (
	OutcomeOK             GenerationOutcome = "ok"
	OutcomeMissingPrompts GenerationOutcome = "missing_prompts"
	OutcomeEmpty          GenerationOutcome = "empty"
	OutcomeException      GenerationOutcome = "exception"
	OutcomeTimeout        GenerationOutcome = "timeout"
)

// ComposedMessage is the result of composing a slot's message
type ComposedMessage struct {
	Text    string
	Status  ComposeStatus
	Details map[string]string
}

// Sendable reports whether the message carries text worth delivering
func (m ComposedMessage) Sendable() bool {
	return m.Status != StatusAlreadySent && m.Text != ""
}

// DeliveryStatus records how a send attempt ended
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
	DeliveryError  DeliveryStatus = "error"
)

// MessageRecord is one row of send history, unique per (Date, Slot)
type MessageRecord struct {
	Date       time.Time
	Slot       Slot
	Text       string
	Status     DeliveryStatus
	ProviderID string
	CreatedAt  time.Time
}
