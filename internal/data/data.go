package data

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/conf"
)

// Repositories contains all repositories
type Repositories struct {
	Ledger    repo.Ledger
	Generator repo.TextGenerator // nil when no model is configured
	Encoder   repo.Encoder       // nil when songs are disabled
	Reranker  repo.Reranker      // nil without RERANK_URL
	Catalog   repo.Catalog       // nil when songs are disabled or the catalog failed to load

	closers []func() error
}

// NewRepositories creates all repositories. Only the ledger is mandatory;
// the model and song components degrade to nil.
func NewRepositories(ctx context.Context, cfg *conf.Config, log zerolog.Logger) (*Repositories, error) {
	s := cfg.Settings

	ledger, closeLedger, err := NewLedgerRepo(s.DBPath, cfg.Location, log)
	if err != nil {
		return nil, err
	}
	repos := &Repositories{Ledger: ledger, closers: []func() error{closeLedger}}

	if s.LLMEnabled() {
		repos.Generator = NewLLMRepo(s.LLMBaseURL, s.LLMAPIKey, s.LLMModel)
	} else {
		log.Warn().Msg("LLM_API_KEY not set, messages will use templates")
	}

	songs := cfg.Content.Songs
	if !songs.IsEnabled() {
		return repos, nil
	}

	repos.Encoder = NewEncoder(s)
	if s.RerankURL != "" {
		repos.Reranker = NewRerankRepo(s.RerankURL)
	}

	catalog, err := NewCatalog(ctx, CatalogOptions{
		CatalogPath:    songs.CatalogPath,
		EmbeddingsPath: songs.EmbeddingsPath,
		Encoder:        repos.Encoder,
		Model:          s.EmbedModel,
	}, log.With().Str("component", "catalog").Logger())
	if err != nil {
		log.Warn().Err(err).Str("path", songs.CatalogPath).Msg("song catalog unavailable, songs disabled")
		return repos, nil
	}
	repos.Catalog = catalog
	return repos, nil
}

// NewEncoder picks the embedding backend named by EMBED_PROVIDER
func NewEncoder(s *conf.Settings) repo.Encoder {
	switch s.EmbedProvider {
	case "openai":
		baseURL := s.EmbedBaseURL
		if baseURL == "" {
			baseURL = s.LLMBaseURL
		}
		return NewOpenAIEncoder(baseURL, s.LLMAPIKey, s.EmbedModel)
	case "ollama":
		return NewOllamaEncoder(s.EmbedBaseURL, s.EmbedModel)
	}
	return nil
}

// Close releases database handles
func (r *Repositories) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
