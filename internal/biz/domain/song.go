package domain

import "strings"

// Song is one read-only catalog entry
type Song struct {
	ID          string
	Title       string
	Artist      string
	Year        int
	Language    string
	Moods       []string
	Explicit    bool
	DurationSec int
	URL         string
	Views       int64
}

// RerankText is the document the cross-encoder scores against the query
func (s Song) RerankText() string {
	return strings.TrimSpace(s.Title + " " + s.Artist + " " + strings.Join(s.Moods, " "))
}

// SongRecommendation is the value handed back by the recommender
type SongRecommendation struct {
	SongID string
	Title  string
	URL    string
}

// SongPreferences constrains recommendation
type SongPreferences struct {
	LanguagePriority []string
	Blacklist        []string
}

// SongIntent is the small structured request the language model derives
// from a slot's mood prompt.
type SongIntent struct {
	Keywords         []string `json:"keywords"`
	AllowClassic     bool     `json:"allow_classic"`
	LanguagePriority []string `json:"language_priority"`
	Disallow         []string `json:"disallow"`
}
