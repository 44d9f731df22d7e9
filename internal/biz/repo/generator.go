package repo

import "context"

// GenerateParams are the sampling parameters passed to a TextGenerator
type GenerateParams struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
	DoSample     bool
}

// TextGenerator produces free text from a system/user prompt pair.
// An empty string with a nil error means the model produced nothing.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, error)
}
