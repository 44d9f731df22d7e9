package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
)

// errNoIntent is returned when the model reply holds no usable JSON object
var errNoIntent = errors.New("no song intent in model reply")

// SongConfig contains song augmentation configuration
type SongConfig struct {
	Enabled     bool
	Preferences domain.SongPreferences
	RecentDays  int

	InsertionTemplates map[domain.Slot]string
	VibePhrases        map[domain.Slot]string
	IntentSystemPrompt string
	IntentPrompts      map[domain.Slot]string

	// MinMessageChars is the least message text that must survive
	// truncation for a song line to be appended.
	MinMessageChars int

	IntentParams  repo.GenerateParams
	IntentTimeout time.Duration
}

// DefaultSongConfig contains default song augmentation configuration
var DefaultSongConfig = SongConfig{
	Enabled:    true,
	RecentDays: 30,
	InsertionTemplates: map[domain.Slot]string{
		domain.SlotMorning: "This song made me think of us: {title} — {url}",
		domain.SlotFlirty:  "Thinking of you… and this song: {title} — {url}",
		domain.SlotNight:   "Before you sleep, this one for us: {title} — {url}",
	},
	VibePhrases: map[domain.Slot]string{
		domain.SlotMorning: "soft warm romantic morning",
		domain.SlotFlirty:  "playful upbeat flirty",
		domain.SlotNight:   "calm dreamy romantic night",
	},
	IntentSystemPrompt: "You pick the mood for a Bollywood song recommendation. " +
		"Reply with a single JSON object and nothing else, with keys " +
		`"keywords" (list of strings), "allow_classic" (bool), ` +
		`"language_priority" (list of strings) and "disallow" (list of strings).`,
	IntentPrompts: map[domain.Slot]string{
		domain.SlotMorning: "Give the song intent for a good-morning message. Mood: soft, warm, gentle.",
		domain.SlotFlirty:  "Give the song intent for a flirty afternoon message. Mood: playful, upbeat.",
		domain.SlotNight:   "Give the song intent for a good-night message. Mood: calm, dreamy.",
	},
	MinMessageChars: 50,
	IntentParams: repo.GenerateParams{
		MaxNewTokens: 120,
		Temperature:  0.3,
		TopP:         0.9,
		DoSample:     true,
	},
	IntentTimeout: 30 * time.Second,
}

const defaultInsertionTemplate = "This song made me think of us: {title} — {url}"

// SongAugmenterUsecase appends a recommended song to composed messages
type SongAugmenterUsecase struct {
	recommender *SongRecommenderUsecase
	generator   repo.TextGenerator
	ledger      repo.Ledger
	cfg         SongConfig
	log         zerolog.Logger
}

// NewSongAugmenterUsecase creates a new song augmenter
func NewSongAugmenterUsecase(
	recommender *SongRecommenderUsecase,
	generator repo.TextGenerator,
	ledger repo.Ledger,
	cfg SongConfig,
	log zerolog.Logger,
) *SongAugmenterUsecase {
	if cfg.MinMessageChars == 0 {
		cfg.MinMessageChars = DefaultSongConfig.MinMessageChars
	}
	if cfg.RecentDays == 0 {
		cfg.RecentDays = DefaultSongConfig.RecentDays
	}
	if cfg.IntentTimeout == 0 {
		cfg.IntentTimeout = DefaultSongConfig.IntentTimeout
	}
	if cfg.IntentParams.MaxNewTokens == 0 {
		cfg.IntentParams = DefaultSongConfig.IntentParams
	}
	return &SongAugmenterUsecase{
		recommender: recommender,
		generator:   generator,
		ledger:      ledger,
		cfg:         cfg,
		log:         log.With().Str("component", "songs").Logger(),
	}
}

// Enabled reports whether augmentation can run at all
func (uc *SongAugmenterUsecase) Enabled() bool {
	return uc != nil && uc.cfg.Enabled && uc.recommender != nil && uc.generator != nil
}

// Augment appends a song line to text. The message body is shortened to
// make room; the song line never is. On any failure text is returned
// unchanged with None. Nothing is written to the ledger here: the pick is
// only recorded once the message is actually delivered.
func (uc *SongAugmenterUsecase) Augment(
	ctx context.Context,
	slot domain.Slot,
	date time.Time,
	text, closer string,
	maxLen int,
) (string, fn.Option[domain.SongRecommendation]) {
	none := fn.None[domain.SongRecommendation]()
	if !uc.Enabled() || text == "" {
		return text, none
	}

	song := uc.Pick(ctx, slot, date)
	if song.IsNone() {
		return text, none
	}
	rec := song.UnwrapOr(domain.SongRecommendation{})

	line, err := uc.SongLine(slot, rec)
	if err != nil {
		uc.log.Warn().Err(err).Str("slot", slot.String()).Msg("song line template unusable")
		return text, none
	}

	available := maxLen - runeLen(line) - 2
	if runeLen(text) > available {
		if available < uc.cfg.MinMessageChars {
			uc.log.Info().Str("slot", slot.String()).Int("available", available).Msg("no room for song line")
			return text, none
		}
		text = shrinkMessage(text, closer, available)
	}

	return text + "\n\n" + line, song
}

// Pick derives the slot's intent and asks the recommender for a song not
// used recently.
func (uc *SongAugmenterUsecase) Pick(ctx context.Context, slot domain.Slot, date time.Time) fn.Option[domain.SongRecommendation] {
	none := fn.None[domain.SongRecommendation]()

	intent, err := uc.DeriveIntent(ctx, slot)
	if err != nil {
		uc.log.Info().Err(err).Str("slot", slot.String()).Msg("no song intent this cycle")
		return none
	}

	recent, err := uc.ledger.RecentSongIDs(ctx, uc.cfg.RecentDays)
	if err != nil {
		uc.log.Warn().Err(err).Msg("load recent songs failed")
		return none
	}

	prefs := uc.cfg.Preferences
	if len(intent.LanguagePriority) > 0 {
		prefs.LanguagePriority = intent.LanguagePriority
	}
	prefs.Blacklist = append(append([]string(nil), prefs.Blacklist...), intent.Disallow...)

	query := uc.Query(slot, intent)
	song := uc.recommender.Recommend(ctx, query, prefs, recent)
	song.WhenSome(func(s domain.SongRecommendation) {
		uc.log.Info().
			Str("slot", slot.String()).
			Str("date", domain.DateKey(date)).
			Str("song_id", s.SongID).
			Str("query", query).
			Msg("song picked")
	})
	return song
}

// DeriveIntent asks the model for the slot's song intent
func (uc *SongAugmenterUsecase) DeriveIntent(ctx context.Context, slot domain.Slot) (domain.SongIntent, error) {
	prompt := uc.cfg.IntentPrompts[slot]
	if prompt == "" {
		prompt = DefaultSongConfig.IntentPrompts[slot]
	}
	system := uc.cfg.IntentSystemPrompt
	if system == "" {
		system = DefaultSongConfig.IntentSystemPrompt
	}

	reply, err := callWithTimeout(ctx, uc.cfg.IntentTimeout, func(ctx context.Context) (string, error) {
		return uc.generator.GenerateText(ctx, system, prompt, uc.cfg.IntentParams)
	})
	if err != nil {
		return domain.SongIntent{}, fmt.Errorf("generate intent: %w", err)
	}
	return ParseSongIntent(reply)
}

// Query joins the slot's vibe phrase with the intent keywords
func (uc *SongAugmenterUsecase) Query(slot domain.Slot, intent domain.SongIntent) string {
	vibe := uc.cfg.VibePhrases[slot]
	if vibe == "" {
		vibe = DefaultSongConfig.VibePhrases[slot]
	}
	parts := append([]string{vibe}, intent.Keywords...)
	return collapseWhitespace(strings.Join(parts, " "))
}

// SongLine renders the slot's insertion template for rec
func (uc *SongAugmenterUsecase) SongLine(slot domain.Slot, rec domain.SongRecommendation) (string, error) {
	tmpl := uc.cfg.InsertionTemplates[slot]
	if tmpl == "" {
		tmpl = defaultInsertionTemplate
	}
	return renderTemplate(tmpl, map[string]string{"title": rec.Title, "url": rec.URL})
}

// ParseSongIntent extracts the first JSON object from a model reply
func ParseSongIntent(reply string) (domain.SongIntent, error) {
	obj, ok := firstJSONObject(reply)
	if !ok {
		return domain.SongIntent{}, errNoIntent
	}
	var intent domain.SongIntent
	if err := json.Unmarshal([]byte(obj), &intent); err != nil {
		return domain.SongIntent{}, fmt.Errorf("decode song intent: %w", err)
	}
	return intent, nil
}

// firstJSONObject returns the first balanced {...} span in s, skipping
// braces inside string literals.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
