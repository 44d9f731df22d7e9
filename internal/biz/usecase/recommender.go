package usecase

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
)

// RecommenderConfig contains retrieval and filtering configuration
type RecommenderConfig struct {
	TopK           int // candidates retrieved by vector search
	RerankTopN     int // head of the list scored by the cross-encoder
	MinDurationSec int
	MaxDurationSec int
}

// DefaultRecommenderConfig contains default retrieval configuration
var DefaultRecommenderConfig = RecommenderConfig{
	TopK:           30,
	RerankTopN:     10,
	MinDurationSec: 120,
	MaxDurationSec: 420,
}

// unlistedLanguageRank sorts languages absent from the priority list last
const unlistedLanguageRank = math.MaxInt32

// SongRecommenderUsecase retrieves, filters and reranks catalog songs
type SongRecommenderUsecase struct {
	catalog  repo.Catalog
	encoder  repo.Encoder
	reranker repo.Reranker
	cfg      RecommenderConfig
	log      zerolog.Logger
}

// NewSongRecommenderUsecase creates a recommender. reranker may be nil.
func NewSongRecommenderUsecase(
	catalog repo.Catalog,
	encoder repo.Encoder,
	reranker repo.Reranker,
	cfg RecommenderConfig,
	log zerolog.Logger,
) *SongRecommenderUsecase {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRecommenderConfig.TopK
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = DefaultRecommenderConfig.RerankTopN
	}
	if cfg.MaxDurationSec == 0 {
		cfg.MinDurationSec = DefaultRecommenderConfig.MinDurationSec
		cfg.MaxDurationSec = DefaultRecommenderConfig.MaxDurationSec
	}
	return &SongRecommenderUsecase{
		catalog:  catalog,
		encoder:  encoder,
		reranker: reranker,
		cfg:      cfg,
		log:      log.With().Str("component", "recommender").Logger(),
	}
}

type scoredSong struct {
	song  domain.Song
	score float64
}

// Recommend returns one song for query that is not in recent. Any failure
// resolves to None.
func (uc *SongRecommenderUsecase) Recommend(
	ctx context.Context,
	query string,
	prefs domain.SongPreferences,
	recent map[string]struct{},
) fn.Option[domain.SongRecommendation] {
	none := fn.None[domain.SongRecommendation]()
	if uc.catalog == nil || uc.encoder == nil || len(uc.catalog.Songs()) == 0 {
		return none
	}

	vec, err := uc.encoder.Encode(ctx, query)
	if err != nil {
		uc.log.Warn().Err(err).Msg("encode query failed")
		return none
	}
	normalize(vec)

	candidates := uc.search(vec)
	candidates = filterSongs(candidates, prefs, uc.cfg)
	if len(candidates) == 0 {
		uc.log.Info().Str("query", query).Msg("no candidates survived filtering")
		return none
	}
	sortByPreference(candidates, prefs.LanguagePriority)
	candidates = uc.rerank(ctx, query, candidates)

	songs := make([]domain.Song, len(candidates))
	for i, c := range candidates {
		songs[i] = c.song
	}

	picked := none
	PickOne(songs, recent).WhenSome(func(s domain.Song) {
		picked = fn.Some(domain.SongRecommendation{SongID: s.ID, Title: s.Title, URL: s.URL})
	})
	return picked
}

// search ranks the catalog by inner product against the normalized query
func (uc *SongRecommenderUsecase) search(query []float32) []scoredSong {
	songs := uc.catalog.Songs()
	vectors := uc.catalog.Vectors()

	scored := make([]scoredSong, 0, len(songs))
	for i, song := range songs {
		if i >= len(vectors) || len(vectors[i]) != len(query) {
			continue
		}
		scored = append(scored, scoredSong{song: song, score: dot(query, vectors[i])})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if len(scored) > uc.cfg.TopK {
		scored = scored[:uc.cfg.TopK]
	}
	return scored
}

// rerank scores the head of the list with the cross-encoder and keeps the
// remainder in its existing order. Reranker failure keeps the input order.
func (uc *SongRecommenderUsecase) rerank(ctx context.Context, query string, candidates []scoredSong) []scoredSong {
	if uc.reranker == nil {
		return candidates
	}

	n := min(uc.cfg.RerankTopN, len(candidates))
	head := make([]scoredSong, n)
	copy(head, candidates[:n])

	docs := make([]string, n)
	for i, c := range head {
		docs[i] = c.song.RerankText()
	}
	scores, err := uc.reranker.Rerank(ctx, query, docs)
	if err != nil || len(scores) != n {
		uc.log.Warn().Err(err).Int("scores", len(scores)).Msg("rerank unavailable, keeping retrieval order")
		return candidates
	}

	for i := range head {
		head[i].score = scores[i]
	}
	sort.SliceStable(head, func(i, j int) bool { return head[i].score > head[j].score })

	return append(head, candidates[n:]...)
}

// filterSongs drops explicit, blacklisted, badly sized or unplayable songs
func filterSongs(candidates []scoredSong, prefs domain.SongPreferences, cfg RecommenderConfig) []scoredSong {
	out := candidates[:0:0]
	for _, c := range candidates {
		if !songAllowed(c.song, prefs, cfg) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func songAllowed(s domain.Song, prefs domain.SongPreferences, cfg RecommenderConfig) bool {
	if s.Explicit || strings.TrimSpace(s.URL) == "" {
		return false
	}
	if s.DurationSec < cfg.MinDurationSec || s.DurationSec > cfg.MaxDurationSec {
		return false
	}
	title := strings.ToLower(s.Title)
	for _, term := range prefs.Blacklist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(title, term) {
			return false
		}
	}
	return true
}

// sortByPreference orders by language priority, then by views descending
func sortByPreference(candidates []scoredSong, priority []string) {
	rank := make(map[string]int, len(priority))
	for i, lang := range priority {
		key := strings.ToLower(strings.TrimSpace(lang))
		if _, ok := rank[key]; !ok {
			rank[key] = i
		}
	}
	rankOf := func(lang string) int {
		if r, ok := rank[strings.ToLower(strings.TrimSpace(lang))]; ok {
			return r
		}
		return unlistedLanguageRank
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rankOf(candidates[i].song.Language), rankOf(candidates[j].song.Language)
		if ri != rj {
			return ri < rj
		}
		return candidates[i].song.Views > candidates[j].song.Views
	})
}

// PickOne returns the first song not in recent. It never repeats a
// recent song: if all are recent the result is None.
func PickOne(ranked []domain.Song, recent map[string]struct{}) fn.Option[domain.Song] {
	for _, s := range ranked {
		if _, seen := recent[s.ID]; !seen {
			return fn.Some(s)
		}
	}
	return fn.None[domain.Song]()
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize scales v to unit length in place
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// Normalize returns a unit-length copy of v
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	normalize(out)
	return out
}
