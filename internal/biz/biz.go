package biz

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Clock    *usecase.JitterClock
	Composer *usecase.MessageComposerUsecase
	Songs    *usecase.SongAugmenterUsecase // nil when songs are unavailable
}

// Repos are the repositories the usecases depend on. Only Ledger is required.
type Repos struct {
	Ledger    repo.Ledger
	Generator repo.TextGenerator
	Catalog   repo.Catalog
	Encoder   repo.Encoder
	Reranker  repo.Reranker
}

// Config configures NewUsecases
type Config struct {
	Schedule    domain.Schedule
	Location    *time.Location
	Composer    usecase.ComposerConfig
	Songs       usecase.SongConfig
	Recommender usecase.RecommenderConfig
}

// NewUsecases wires the usecase layer. Song augmentation is only built
// when both a catalog and an encoder are present.
func NewUsecases(repos Repos, cfg Config, log zerolog.Logger) *Usecases {
	uc := &Usecases{Clock: usecase.NewJitterClock(cfg.Schedule, cfg.Location)}

	if repos.Catalog != nil && repos.Encoder != nil {
		recommender := usecase.NewSongRecommenderUsecase(repos.Catalog, repos.Encoder, repos.Reranker, cfg.Recommender, log)
		uc.Songs = usecase.NewSongAugmenterUsecase(recommender, repos.Generator, repos.Ledger, cfg.Songs, log)
	}

	uc.Composer = usecase.NewMessageComposerUsecase(repos.Ledger, repos.Generator, uc.Songs, cfg.Composer, log)
	return uc
}
