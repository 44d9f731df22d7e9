package biz

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/usecase"
)

type stubCatalog struct{}

func (stubCatalog) Songs() []domain.Song  { return nil }
func (stubCatalog) Vectors() [][]float32 { return nil }

type stubEncoder struct{}

func (stubEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func testConfig() Config {
	return Config{
		Schedule: domain.DefaultSchedule(),
		Location: time.UTC,
		Composer: usecase.DefaultComposerConfig,
	}
}

func TestNewUsecases_WithoutSongs(t *testing.T) {
	uc := NewUsecases(Repos{}, testConfig(), zerolog.Nop())

	require.NotNil(t, uc.Clock)
	require.NotNil(t, uc.Composer)
	assert.Nil(t, uc.Songs)
	assert.Equal(t, time.UTC, uc.Clock.Location())

	// encoder without a catalog is not enough
	uc = NewUsecases(Repos{Encoder: stubEncoder{}}, testConfig(), zerolog.Nop())
	assert.Nil(t, uc.Songs)
}

func TestNewUsecases_WithSongs(t *testing.T) {
	uc := NewUsecases(Repos{Catalog: stubCatalog{}, Encoder: stubEncoder{}}, testConfig(), zerolog.Nop())
	assert.NotNil(t, uc.Songs)
}
