package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
)

// DefaultCloser signs messages when no closers are configured
const DefaultCloser = "— bubu"

// Details reasons
const (
	ReasonForcedFallback = "forced_fallback"
	ReasonAIFailed       = "ai_generation_failed"
	ReasonComposeError   = "compose_error"

	// ReasonNoGenerator is reported as the cause when no text generator is configured
	ReasonNoGenerator = "no_generator"
)

// PromptTemplates is the system/user prompt pair for one slot
type PromptTemplates struct {
	System string
	User   string
}

// ComposerConfig contains message composition configuration
type ComposerConfig struct {
	RecipientName string
	Tone          string

	MaxMessageLength int
	MaxEmojis        int

	Generation        repo.GenerateParams
	GenerationTimeout time.Duration

	Prompts           map[domain.Slot]PromptTemplates
	FallbackTemplates map[domain.Slot][]string
	Closers           []string
	Quotes            []string
	CheesyLines       []string

	// FlavorProbability is the chance a fallback message gets a quote or
	// cheesy line spliced in before its closer.
	FlavorProbability float64
}

// DefaultComposerConfig contains default composition limits
var DefaultComposerConfig = ComposerConfig{
	RecipientName:    "love",
	Tone:             "playful",
	MaxMessageLength: 700,
	MaxEmojis:        5,
	Generation: repo.GenerateParams{
		MaxNewTokens: 150,
		Temperature:  0.8,
		TopP:         0.9,
		DoSample:     true,
	},
	GenerationTimeout: 30 * time.Second,
	FlavorProbability: 0.2,
}

// PreviewOptions tunes Preview
type PreviewOptions struct {
	// Date defaults to today in the caller's timezone
	Date time.Time
	// Randomize with a non-nil Seed picks template and closer from that seed
	Randomize bool
	Seed      *int64
	// UseFallback is accepted for compatibility; previews always use templates
	UseFallback bool
}

// generation is the outcome of one AI attempt
type generation struct {
	text    string
	outcome domain.GenerationOutcome
	details map[string]string
}

// MessageComposerUsecase turns a (slot, date) into message text. Compose
// never fails: every error degrades to template text.
type MessageComposerUsecase struct {
	ledger    repo.Ledger
	generator repo.TextGenerator
	songs     *SongAugmenterUsecase
	cfg       ComposerConfig
	log       zerolog.Logger
}

// NewMessageComposerUsecase creates a new composer. generator and songs may be nil.
func NewMessageComposerUsecase(
	ledger repo.Ledger,
	generator repo.TextGenerator,
	songs *SongAugmenterUsecase,
	cfg ComposerConfig,
	log zerolog.Logger,
) *MessageComposerUsecase {
	if cfg.FlavorProbability == 0 {
		cfg.FlavorProbability = DefaultComposerConfig.FlavorProbability
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = DefaultComposerConfig.GenerationTimeout
	}
	return &MessageComposerUsecase{
		ledger:    ledger,
		generator: generator,
		songs:     songs,
		cfg:       cfg,
		log:       log.With().Str("component", "composer").Logger(),
	}
}

// Compose builds the message for slot on date
func (uc *MessageComposerUsecase) Compose(ctx context.Context, slot domain.Slot, date time.Time, forceFallback bool) (msg domain.ComposedMessage) {
	defer func() {
		if r := recover(); r != nil {
			msg = uc.errorFallback(slot, date, fmt.Errorf("panic: %v", r))
		}
	}()

	sent, err := uc.ledger.IsMessageSent(ctx, date, slot)
	if err != nil {
		return uc.errorFallback(slot, date, fmt.Errorf("check ledger: %w", err))
	}
	if sent {
		uc.log.Info().Str("slot", slot.String()).Str("date", domain.DateKey(date)).Msg("message already sent")
		return domain.ComposedMessage{
			Status:  domain.StatusAlreadySent,
			Details: map[string]string{"date": domain.DateKey(date), "slot": slot.String()},
		}
	}

	closer := uc.closer(date)

	if forceFallback {
		return domain.ComposedMessage{
			Text:    uc.fallbackText(slot, date, closer),
			Status:  domain.StatusFallback,
			Details: map[string]string{"reason": ReasonForcedFallback},
		}
	}

	gen := uc.generate(ctx, slot, date, closer)

	var result domain.ComposedMessage
	switch gen.outcome {
	case domain.OutcomeOK:
		result = domain.ComposedMessage{
			Text:    gen.text,
			Status:  domain.StatusAIGenerated,
			Details: gen.details,
		}
	default:
		uc.log.Warn().
			Str("slot", slot.String()).
			Str("outcome", string(gen.outcome)).
			Interface("details", gen.details).
			Msg("AI generation failed, using fallback")

		status := domain.StatusFallback
		if gen.outcome == domain.OutcomeException {
			status = domain.StatusErrorFallback
		}
		details := map[string]string{"reason": ReasonAIFailed, "outcome": string(gen.outcome)}
		if e, ok := gen.details["error"]; ok {
			details["error"] = e
		}
		if cause, ok := gen.details["reason"]; ok {
			details["cause"] = cause
		}
		result = domain.ComposedMessage{
			Text:    uc.fallbackText(slot, date, closer),
			Status:  status,
			Details: details,
		}
	}

	if uc.songs != nil && result.Status != domain.StatusErrorFallback {
		text, song := uc.songs.Augment(ctx, slot, date, result.Text, closer, uc.cfg.MaxMessageLength)
		song.WhenSome(func(s domain.SongRecommendation) {
			result.Text = text
			result.Details["song_id"] = s.SongID
			result.Details["song_title"] = s.Title
		})
	}

	return result
}

// Preview renders template text for slot without touching the ledger
func (uc *MessageComposerUsecase) Preview(slot domain.Slot, opts PreviewOptions) (preview string) {
	defer func() {
		if r := recover(); r != nil {
			uc.log.Error().Interface("panic", r).Str("slot", slot.String()).Msg("preview failed")
			preview = fmt.Sprintf("Error generating preview for %s message", slot)
		}
	}()

	if opts.Randomize && opts.Seed != nil {
		r := domain.Seed(*opts.Seed).Rand("preview")
		if tmpl, ok := domain.Choice(r, uc.cfg.FallbackTemplates[slot]); ok {
			closers := uc.cfg.Closers
			if len(closers) == 0 {
				closers = []string{DefaultCloser}
			}
			closer, _ := domain.Choice(r, closers)
			text, err := renderTemplate(tmpl, uc.templateVars(closer))
			if err != nil {
				return uc.emergencyText(closer)
			}
			return appendCloser(text, closer)
		}
	}

	date := opts.Date
	if date.IsZero() {
		date = time.Now()
	}
	return uc.fallbackText(slot, date, uc.closer(date))
}

// FallbackTemplates returns the configured templates for slot
func (uc *MessageComposerUsecase) FallbackTemplates(slot domain.Slot) []string {
	return uc.cfg.FallbackTemplates[slot]
}

// MaxMessageLength returns the configured length limit
func (uc *MessageComposerUsecase) MaxMessageLength() int {
	return uc.cfg.MaxMessageLength
}

// generate runs the AI attempt. It never panics and never returns an error;
// failures are reported as a non-OK outcome.
func (uc *MessageComposerUsecase) generate(ctx context.Context, slot domain.Slot, date time.Time, closer string) (gen generation) {
	defer func() {
		if r := recover(); r != nil {
			gen = generation{
				outcome: domain.OutcomeException,
				details: map[string]string{"error": fmt.Sprint(r)},
			}
		}
	}()

	if uc.generator == nil {
		return generation{
			outcome: domain.OutcomeMissingPrompts,
			details: map[string]string{"slot": slot.String(), "reason": ReasonNoGenerator, "error": "no text generator configured"},
		}
	}

	prompts := uc.cfg.Prompts[slot]
	if strings.TrimSpace(prompts.System) == "" || strings.TrimSpace(prompts.User) == "" {
		return generation{outcome: domain.OutcomeMissingPrompts, details: map[string]string{"slot": slot.String()}}
	}

	vars := uc.templateVars(closer)
	system, err := renderTemplate(prompts.System, vars)
	if err != nil {
		return generation{outcome: domain.OutcomeMissingPrompts, details: map[string]string{"missing_key": err.Error()}}
	}
	user, err := renderTemplate(prompts.User, vars)
	if err != nil {
		return generation{outcome: domain.OutcomeMissingPrompts, details: map[string]string{"missing_key": err.Error()}}
	}

	if quote, ok := uc.quote(date); ok {
		system += fmt.Sprintf("\n\nBollywood inspiration: '%s'", quote)
		user += "\n\nFeel free to use the romantic style of this Bollywood quote as inspiration."
	}
	if line, ok := uc.cheesyLine(date); ok {
		system += fmt.Sprintf("\n\nCheesy line example: '%s'", line)
		user += "\n\nYou can include cheesy romantic elements like this example for fun."
	}

	text, err := callWithTimeout(ctx, uc.cfg.GenerationTimeout, func(ctx context.Context) (string, error) {
		return uc.generator.GenerateText(ctx, system, user, uc.cfg.Generation)
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return generation{
			outcome: domain.OutcomeTimeout,
			details: map[string]string{"timeout_seconds": strconv.Itoa(int(uc.cfg.GenerationTimeout.Seconds()))},
		}
	case err != nil:
		return generation{outcome: domain.OutcomeException, details: map[string]string{"error": err.Error()}}
	case strings.TrimSpace(text) == "":
		return generation{outcome: domain.OutcomeEmpty, details: map[string]string{"slot": slot.String()}}
	}

	return generation{
		text:    finishMessage(text, closer, uc.cfg.MaxMessageLength, uc.cfg.MaxEmojis),
		outcome: domain.OutcomeOK,
		details: map[string]string{"slot": slot.String(), "outcome": string(domain.OutcomeOK)},
	}
}

// callWithTimeout runs fn under a deadline and returns as soon as the
// deadline passes, even if fn ignores its context.
func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		text, err := fn(ctx)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fallbackText picks the day's template for slot and optionally adds a
// flavor line. The closer always ends the text exactly once, wherever the
// template put it.
func (uc *MessageComposerUsecase) fallbackText(slot domain.Slot, date time.Time, closer string) string {
	r := domain.SeedForDate(date).Rand("fallback:" + slot.String())

	tmpl, ok := domain.Choice(r, uc.cfg.FallbackTemplates[slot])
	if !ok {
		return uc.emergencyText(closer)
	}
	text, err := renderTemplate(tmpl, uc.templateVars(closer))
	if err != nil {
		uc.log.Warn().Err(err).Str("slot", slot.String()).Msg("fallback template unusable")
		return uc.emergencyText(closer)
	}

	body := stripCloser(text, closer)
	if r.Float64() < uc.cfg.FlavorProbability {
		quote, hasQuote := uc.quote(date)
		line, hasLine := uc.cheesyLine(date)
		useQuote := hasQuote && (!hasLine || r.Float64() < 0.5)

		switch {
		case useQuote:
			body += fmt.Sprintf(" 💕 '%s'", quote)
		case hasLine:
			body += " " + line
		}
	}
	return appendCloser(body, closer)
}

func (uc *MessageComposerUsecase) errorFallback(slot domain.Slot, date time.Time, cause error) domain.ComposedMessage {
	uc.log.Error().Err(cause).Str("slot", slot.String()).Str("date", domain.DateKey(date)).Msg("error composing message")

	text := func() (text string) {
		defer func() {
			if recover() != nil {
				text = uc.emergencyText(DefaultCloser)
			}
		}()
		return uc.fallbackText(slot, date, uc.closer(date))
	}()

	return domain.ComposedMessage{
		Text:    text,
		Status:  domain.StatusErrorFallback,
		Details: map[string]string{"reason": ReasonComposeError, "error": cause.Error()},
	}
}

func (uc *MessageComposerUsecase) emergencyText(closer string) string {
	return fmt.Sprintf("Hello %s! %s", uc.cfg.RecipientName, closer)
}

func (uc *MessageComposerUsecase) templateVars(closer string) map[string]string {
	return map[string]string{
		"GF_NAME":           uc.cfg.RecipientName,
		"DAILY_FLIRTY_TONE": uc.cfg.Tone,
		"closer":            closer,
	}
}

func (uc *MessageComposerUsecase) closer(date time.Time) string {
	closer, ok := domain.Choice(domain.SeedForDate(date).Rand("closer"), uc.cfg.Closers)
	if !ok {
		return DefaultCloser
	}
	return closer
}

func (uc *MessageComposerUsecase) quote(date time.Time) (string, bool) {
	return domain.Choice(domain.SeedForDate(date).Rand("quote"), uc.cfg.Quotes)
}

func (uc *MessageComposerUsecase) cheesyLine(date time.Time) (string, bool) {
	return domain.Choice(domain.SeedForDate(date).Rand("cheesy"), uc.cfg.CheesyLines)
}
