package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/biz/usecase"
)

// ContentConfig contains message content and scheduling loaded from YAML
type ContentConfig struct {
	General           GeneralConfig           `yaml:"general"`
	Generation        GenerationConfig        `yaml:"generation"`
	Schedule          ScheduleConfig          `yaml:"schedule"`
	Prompts           map[string]PromptConfig `yaml:"prompt_templates"`
	FallbackTemplates map[string][]string     `yaml:"fallback_templates"`
	SignatureClosers  []string                `yaml:"signature_closers"`
	BollywoodQuotes   []string                `yaml:"bollywood_quotes"`
	CheesyLines       []string                `yaml:"cheesy_lines"`
	Songs             SongsConfig             `yaml:"song_recommendation"`
}

// GeneralConfig contains message limits
type GeneralConfig struct {
	MaxMessageLength  int     `yaml:"max_message_length"`
	MaxEmojis         int     `yaml:"max_emojis"`
	FlavorProbability float64 `yaml:"flavor_probability"`
}

// GenerationConfig contains language model sampling settings
type GenerationConfig struct {
	MaxNewTokens   int     `yaml:"max_new_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TopP           float64 `yaml:"top_p"`
	DoSample       *bool   `yaml:"do_sample"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ScheduleConfig contains the send windows and maintenance times
type ScheduleConfig struct {
	Windows      map[string]WindowConfig `yaml:"windows"`
	DoNotDisturb WindowConfig            `yaml:"do_not_disturb"`
	PlanAt       string                  `yaml:"plan_at"`
	Cleanup      CleanupConfig           `yaml:"cleanup"`
}

// WindowConfig is a HH:MM window
type WindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// CleanupConfig controls the weekly ledger cleanup
type CleanupConfig struct {
	Weekday       string `yaml:"weekday"`
	At            string `yaml:"at"`
	RetentionDays int    `yaml:"retention_days"`
}

// PromptConfig is a system/user prompt pair
type PromptConfig struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// SongsConfig contains song recommendation settings
type SongsConfig struct {
	Enabled            *bool             `yaml:"enabled"`
	CatalogPath        string            `yaml:"catalog_path"`
	EmbeddingsPath     string            `yaml:"embeddings_path"`
	TopK               int               `yaml:"top_k"`
	RerankTopN         int               `yaml:"rerank_top_n"`
	LanguagePriority   []string          `yaml:"language_priority"`
	Blacklist          []string          `yaml:"blacklist"`
	RecentDays         int               `yaml:"recent_days"`
	MinDurationSec     int               `yaml:"min_duration_sec"`
	MaxDurationSec     int               `yaml:"max_duration_sec"`
	MinMessageChars    int               `yaml:"min_message_chars"`
	InsertionTemplates map[string]string `yaml:"insertion_templates"`
	VibePhrases        map[string]string `yaml:"vibe_phrases"`
	IntentSystemPrompt string            `yaml:"intent_system_prompt"`
	IntentPrompts      map[string]string `yaml:"intent_prompts"`
}

// IsEnabled reports whether song recommendations are on
func (s SongsConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoadContentConfig loads content configuration from YAML file
func LoadContentConfig(configPath string) (*ContentConfig, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/content.yaml",
			"./configs/content.yaml",
			"/etc/bubu/content.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "content.yaml"))
		}
		if wd, err := os.Getwd(); err == nil {
			paths = append(paths, filepath.Join(wd, "configs", "content.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	var err error

	for _, p := range paths {
		data, err = os.ReadFile(p)
		if err == nil {
			loadedPath = p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read content config %s: %w", configPath, err)
		}
		log.Info().Msg("No content.yaml found, using defaults")
		return DefaultContentConfig(), nil
	}

	log.Info().Str("path", loadedPath).Msg("Loading content config")
	return ParseContentConfig(data)
}

// ParseContentConfig parses YAML content and fills defaults
func ParseContentConfig(data []byte) (*ContentConfig, error) {
	var config ContentConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse content.yaml: %w", err)
	}
	config.fillDefaults()
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *ContentConfig) fillDefaults() {
	defaults := DefaultContentConfig()

	if c.General.MaxMessageLength == 0 {
		c.General.MaxMessageLength = defaults.General.MaxMessageLength
	}
	if c.General.MaxEmojis == 0 {
		c.General.MaxEmojis = defaults.General.MaxEmojis
	}
	if c.General.FlavorProbability == 0 {
		c.General.FlavorProbability = defaults.General.FlavorProbability
	}

	if c.Generation.MaxNewTokens == 0 {
		c.Generation.MaxNewTokens = defaults.Generation.MaxNewTokens
	}
	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = defaults.Generation.Temperature
	}
	if c.Generation.TopP == 0 {
		c.Generation.TopP = defaults.Generation.TopP
	}
	if c.Generation.DoSample == nil {
		c.Generation.DoSample = defaults.Generation.DoSample
	}
	if c.Generation.TimeoutSeconds == 0 {
		c.Generation.TimeoutSeconds = defaults.Generation.TimeoutSeconds
	}

	if c.Schedule.Windows == nil {
		c.Schedule.Windows = map[string]WindowConfig{}
	}
	for name, w := range defaults.Schedule.Windows {
		if _, ok := c.Schedule.Windows[name]; !ok {
			c.Schedule.Windows[name] = w
		}
	}
	if c.Schedule.DoNotDisturb.Start == "" && c.Schedule.DoNotDisturb.End == "" {
		c.Schedule.DoNotDisturb = defaults.Schedule.DoNotDisturb
	}
	if c.Schedule.PlanAt == "" {
		c.Schedule.PlanAt = defaults.Schedule.PlanAt
	}
	if c.Schedule.Cleanup.Weekday == "" {
		c.Schedule.Cleanup.Weekday = defaults.Schedule.Cleanup.Weekday
	}
	if c.Schedule.Cleanup.At == "" {
		c.Schedule.Cleanup.At = defaults.Schedule.Cleanup.At
	}
	if c.Schedule.Cleanup.RetentionDays == 0 {
		c.Schedule.Cleanup.RetentionDays = defaults.Schedule.Cleanup.RetentionDays
	}

	if c.Prompts == nil {
		c.Prompts = map[string]PromptConfig{}
	}
	for name, p := range defaults.Prompts {
		cur := c.Prompts[name]
		if cur.System == "" {
			cur.System = p.System
		}
		if cur.User == "" {
			cur.User = p.User
		}
		c.Prompts[name] = cur
	}

	if c.FallbackTemplates == nil {
		c.FallbackTemplates = map[string][]string{}
	}
	for name, t := range defaults.FallbackTemplates {
		if len(c.FallbackTemplates[name]) == 0 {
			c.FallbackTemplates[name] = t
		}
	}
	if len(c.SignatureClosers) == 0 {
		c.SignatureClosers = defaults.SignatureClosers
	}
	if c.BollywoodQuotes == nil {
		c.BollywoodQuotes = defaults.BollywoodQuotes
	}
	if c.CheesyLines == nil {
		c.CheesyLines = defaults.CheesyLines
	}

	s := &c.Songs
	if s.CatalogPath == "" {
		s.CatalogPath = defaults.Songs.CatalogPath
	}
	if s.EmbeddingsPath == "" {
		s.EmbeddingsPath = defaults.Songs.EmbeddingsPath
	}
	if s.TopK == 0 {
		s.TopK = defaults.Songs.TopK
	}
	if s.RerankTopN == 0 {
		s.RerankTopN = defaults.Songs.RerankTopN
	}
	if s.LanguagePriority == nil {
		s.LanguagePriority = defaults.Songs.LanguagePriority
	}
	if s.RecentDays == 0 {
		s.RecentDays = defaults.Songs.RecentDays
	}
	if s.MinDurationSec == 0 {
		s.MinDurationSec = defaults.Songs.MinDurationSec
	}
	if s.MaxDurationSec == 0 {
		s.MaxDurationSec = defaults.Songs.MaxDurationSec
	}
	if s.MinMessageChars == 0 {
		s.MinMessageChars = defaults.Songs.MinMessageChars
	}
	if s.IntentSystemPrompt == "" {
		s.IntentSystemPrompt = defaults.Songs.IntentSystemPrompt
	}
	s.InsertionTemplates = mergeStrings(s.InsertionTemplates, defaults.Songs.InsertionTemplates)
	s.VibePhrases = mergeStrings(s.VibePhrases, defaults.Songs.VibePhrases)
	s.IntentPrompts = mergeStrings(s.IntentPrompts, defaults.Songs.IntentPrompts)
}

func mergeStrings(dst, defaults map[string]string) map[string]string {
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range defaults {
		if dst[k] == "" {
			dst[k] = v
		}
	}
	return dst
}

// Validate checks windows and limits
func (c *ContentConfig) Validate() error {
	if c.General.MaxMessageLength < 50 {
		return &ConfigError{Field: "general.max_message_length", Message: "must be at least 50"}
	}
	if c.General.MaxEmojis < 0 {
		return &ConfigError{Field: "general.max_emojis", Message: "must not be negative"}
	}
	for i, closer := range c.SignatureClosers {
		field := fmt.Sprintf("signature_closers[%d]", i)
		if n := usecase.CountEmojis(closer); n > c.General.MaxEmojis {
			return &ConfigError{Field: field, Message: fmt.Sprintf("has %d emojis, general.max_emojis is %d", n, c.General.MaxEmojis)}
		}
		if utf8.RuneCountInString(closer) >= c.General.MaxMessageLength {
			return &ConfigError{Field: field, Message: "must be shorter than general.max_message_length"}
		}
	}
	for name := range c.Schedule.Windows {
		if _, err := domain.ParseSlot(name); err != nil {
			return &ConfigError{Field: "schedule.windows." + name, Message: err.Error()}
		}
	}
	if _, err := c.ToSchedule(); err != nil {
		return &ConfigError{Field: "schedule", Message: err.Error()}
	}
	if _, err := domain.ParseTimeOfDay(c.Schedule.PlanAt); err != nil {
		return &ConfigError{Field: "schedule.plan_at", Message: err.Error()}
	}
	if _, err := c.CleanupWeekday(); err != nil {
		return &ConfigError{Field: "schedule.cleanup.weekday", Message: err.Error()}
	}
	if _, err := domain.ParseTimeOfDay(c.Schedule.Cleanup.At); err != nil {
		return &ConfigError{Field: "schedule.cleanup.at", Message: err.Error()}
	}
	return nil
}

// ToSchedule converts the YAML windows to a domain schedule
func (c *ContentConfig) ToSchedule() (domain.Schedule, error) {
	sched := domain.Schedule{Windows: make(map[domain.Slot]domain.Window, len(domain.AllSlots))}
	for _, slot := range domain.AllSlots {
		w, err := parseWindow(c.Schedule.Windows[slot.String()])
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("%s window: %w", slot, err)
		}
		sched.Windows[slot] = w
	}
	dnd, err := parseWindow(c.Schedule.DoNotDisturb)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("do-not-disturb window: %w", err)
	}
	sched.DoNotDisturb = dnd
	return sched, sched.Validate()
}

func parseWindow(w WindowConfig) (domain.Window, error) {
	start, err := domain.ParseTimeOfDay(w.Start)
	if err != nil {
		return domain.Window{}, err
	}
	end, err := domain.ParseTimeOfDay(w.End)
	if err != nil {
		return domain.Window{}, err
	}
	return domain.Window{Start: start, End: end}, nil
}

// PlanTime returns the time of day the daily plan is recomputed
func (c *ContentConfig) PlanTime() domain.TimeOfDay {
	t, err := domain.ParseTimeOfDay(c.Schedule.PlanAt)
	if err != nil {
		return domain.NewTimeOfDay(0, 5)
	}
	return t
}

// CleanupWeekday parses the cleanup weekday name
func (c *ContentConfig) CleanupWeekday() (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(c.Schedule.Cleanup.Weekday))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name || strings.ToLower(d.String()[:3]) == name {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", c.Schedule.Cleanup.Weekday)
}

// CleanupTime returns the time of day the weekly cleanup runs
func (c *ContentConfig) CleanupTime() domain.TimeOfDay {
	t, err := domain.ParseTimeOfDay(c.Schedule.Cleanup.At)
	if err != nil {
		return domain.NewTimeOfDay(2, 0)
	}
	return t
}

// ToComposerConfig converts to composer usecase config
func (c *ContentConfig) ToComposerConfig(recipientName, tone string) usecase.ComposerConfig {
	cfg := usecase.ComposerConfig{
		RecipientName:    recipientName,
		Tone:             tone,
		MaxMessageLength: c.General.MaxMessageLength,
		MaxEmojis:        c.General.MaxEmojis,
		Generation: repo.GenerateParams{
			MaxNewTokens: c.Generation.MaxNewTokens,
			Temperature:  c.Generation.Temperature,
			TopP:         c.Generation.TopP,
			DoSample:     c.Generation.DoSample == nil || *c.Generation.DoSample,
		},
		GenerationTimeout: time.Duration(c.Generation.TimeoutSeconds) * time.Second,
		Prompts:           make(map[domain.Slot]usecase.PromptTemplates, len(c.Prompts)),
		FallbackTemplates: make(map[domain.Slot][]string, len(c.FallbackTemplates)),
		Closers:           c.SignatureClosers,
		Quotes:            c.BollywoodQuotes,
		CheesyLines:       c.CheesyLines,
		FlavorProbability: c.General.FlavorProbability,
	}
	for name, p := range c.Prompts {
		if slot, err := domain.ParseSlot(name); err == nil {
			cfg.Prompts[slot] = usecase.PromptTemplates{System: p.System, User: p.User}
		}
	}
	for name, t := range c.FallbackTemplates {
		if slot, err := domain.ParseSlot(name); err == nil {
			cfg.FallbackTemplates[slot] = t
		}
	}
	return cfg
}

// ToSongConfig converts to song augmenter usecase config
func (c *ContentConfig) ToSongConfig() usecase.SongConfig {
	s := c.Songs
	cfg := usecase.DefaultSongConfig
	cfg.Enabled = s.IsEnabled()
	cfg.Preferences = domain.SongPreferences{
		LanguagePriority: s.LanguagePriority,
		Blacklist:        s.Blacklist,
	}
	cfg.RecentDays = s.RecentDays
	cfg.MinMessageChars = s.MinMessageChars
	cfg.IntentSystemPrompt = s.IntentSystemPrompt
	cfg.InsertionTemplates = slotStrings(s.InsertionTemplates)
	cfg.VibePhrases = slotStrings(s.VibePhrases)
	cfg.IntentPrompts = slotStrings(s.IntentPrompts)
	cfg.IntentTimeout = time.Duration(c.Generation.TimeoutSeconds) * time.Second
	return cfg
}

// ToRecommenderConfig converts to recommender usecase config
func (c *ContentConfig) ToRecommenderConfig() usecase.RecommenderConfig {
	return usecase.RecommenderConfig{
		TopK:           c.Songs.TopK,
		RerankTopN:     c.Songs.RerankTopN,
		MinDurationSec: c.Songs.MinDurationSec,
		MaxDurationSec: c.Songs.MaxDurationSec,
	}
}

func slotStrings(in map[string]string) map[domain.Slot]string {
	out := make(map[domain.Slot]string, len(in))
	for name, v := range in {
		if slot, err := domain.ParseSlot(name); err == nil {
			out[slot] = v
		}
	}
	return out
}

// DefaultContentConfig returns the default content configuration
func DefaultContentConfig() *ContentConfig {
	doSample := true
	songs := usecase.DefaultSongConfig
	schedule := domain.DefaultSchedule()

	windows := make(map[string]WindowConfig, len(schedule.Windows))
	for slot, w := range schedule.Windows {
		windows[slot.String()] = WindowConfig{Start: w.Start.String(), End: w.End.String()}
	}

	return &ContentConfig{
		General: GeneralConfig{
			MaxMessageLength:  usecase.DefaultComposerConfig.MaxMessageLength,
			MaxEmojis:         usecase.DefaultComposerConfig.MaxEmojis,
			FlavorProbability: usecase.DefaultComposerConfig.FlavorProbability,
		},
		Generation: GenerationConfig{
			MaxNewTokens:   150,
			Temperature:    0.8,
			TopP:           0.9,
			DoSample:       &doSample,
			TimeoutSeconds: 30,
		},
		Schedule: ScheduleConfig{
			Windows: windows,
			DoNotDisturb: WindowConfig{
				Start: schedule.DoNotDisturb.Start.String(),
				End:   schedule.DoNotDisturb.End.String(),
			},
			PlanAt: "00:05",
			Cleanup: CleanupConfig{
				Weekday:       "sunday",
				At:            "02:00",
				RetentionDays: 90,
			},
		},
		Prompts: map[string]PromptConfig{
			"morning": {
				System: "You are a loving partner sending a good morning message. Be warm, sweet, and include a motivational line. " +
					"Keep it under 700 characters. Use 2-4 emojis. Personalize with {GF_NAME}.",
				User: "Create a good morning message for {GF_NAME}. Include a sweet greeting, a motivational line " +
					"and a warm sign-off. Make it personal and uplifting.",
			},
			"flirty": {
				System: "You are a loving partner sending a playful, flirty message. Be respectful and fun. " +
					"Keep it under 700 characters. Use 2-4 emojis. Personalize with {GF_NAME}. Tone: {DAILY_FLIRTY_TONE}.",
				User: "Create a {DAILY_FLIRTY_TONE} flirty message for {GF_NAME}. Include a playful hook, " +
					"a unique compliment and a short imaginative scenario.",
			},
			"night": {
				System: "You are a loving partner sending a good night message. Be gentle, calming, and appreciative. " +
					"Keep it under 700 characters. Use 2-4 emojis. Personalize with {GF_NAME}.",
				User: "Create a good night message for {GF_NAME}. Include a gentle wrap-up, an appreciation line " +
					"and a calm, soothing wish.",
			},
		},
		FallbackTemplates: map[string][]string{
			"morning": {
				"Good morning {GF_NAME}! 🌅 Wishing you a beautiful day filled with joy and endless possibilities. {closer}",
				"Morning {GF_NAME}! ☀️ May your day be as wonderful as you are. Let's make it count! {closer}",
				"Rise and shine {GF_NAME}! ✨ You've got this day in the bag. {closer}",
			},
			"flirty": {
				"Hey {GF_NAME}! 😊 Just thinking about your beautiful smile and how it brightens my day. {closer}",
				"Hi {GF_NAME}! 💕 Your laugh is contagious, I can't stop smiling thinking about it. {closer}",
				"Hey there {GF_NAME}! 😍 You're the highlight of my day, every day. {closer}",
			},
			"night": {
				"Good night {GF_NAME}! 🌙 Thank you for being the amazing person you are. Sweet dreams! {closer}",
				"Night {GF_NAME}! 🌟 Rest well knowing you're loved beyond measure. {closer}",
				"Sweet dreams {GF_NAME}! 🌙 You make my world complete. Sleep tight! {closer}",
			},
		},
		SignatureClosers: []string{
			usecase.DefaultCloser,
			"— your bubu ❤️",
			"— with love, bubu",
			"— forever yours, bubu",
		},
		BollywoodQuotes: []string{
			"Tumhari muskaan meri duniya hai",
			"Tum meri zindagi ka sabse khoobsurat hissa ho",
			"Mere liye tum sab kuch ho",
		},
		CheesyLines: []string{
			"Do you like science? Because we have chemistry! 🔬",
			"Are you a camera? Because every time I look at you, I smile! 📸",
		},
		Songs: SongsConfig{
			CatalogPath:        "data/songs.csv",
			EmbeddingsPath:     "data/song_embeddings.json",
			TopK:               usecase.DefaultRecommenderConfig.TopK,
			RerankTopN:         usecase.DefaultRecommenderConfig.RerankTopN,
			LanguagePriority:   []string{"hi", "en"},
			RecentDays:         songs.RecentDays,
			MinDurationSec:     usecase.DefaultRecommenderConfig.MinDurationSec,
			MaxDurationSec:     usecase.DefaultRecommenderConfig.MaxDurationSec,
			MinMessageChars:    songs.MinMessageChars,
			InsertionTemplates: stringsBySlotName(songs.InsertionTemplates),
			VibePhrases:        stringsBySlotName(songs.VibePhrases),
			IntentSystemPrompt: songs.IntentSystemPrompt,
			IntentPrompts:      stringsBySlotName(songs.IntentPrompts),
		},
	}
}

func stringsBySlotName(in map[domain.Slot]string) map[string]string {
	out := make(map[string]string, len(in))
	for slot, v := range in {
		out[slot.String()] = v
	}
	return out
}
