package data

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/biz/usecase"
)

// ErrEmptyCatalog is returned when no usable song could be loaded
var ErrEmptyCatalog = errors.New("song catalog is empty")

// songCatalog is an in-memory catalog with vectors aligned to songs
type songCatalog struct {
	songs   []domain.Song
	vectors [][]float32
}

func (c *songCatalog) Songs() []domain.Song { return c.songs }
func (c *songCatalog) Vectors() [][]float32 { return c.vectors }

// EmbeddingFile is the on-disk embedding cache keyed by song id
type EmbeddingFile struct {
	Model   string               `json:"model"`
	Vectors map[string][]float32 `json:"vectors"`
}

// EmbedText is the text a song is embedded from
func EmbedText(s domain.Song) string {
	return strings.TrimSpace(strings.Join([]string{s.Title, s.Artist, strings.Join(s.Moods, " ")}, " "))
}

// LoadSongs reads the catalog CSV. The header row names the columns;
// id and title are required, the rest optional.
func LoadSongs(path string) ([]domain.Song, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return parseSongs(f)
}

func parseSongs(r io.Reader) ([]domain.Song, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "title"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("catalog is missing column %q", required)
		}
	}

	var songs []domain.Song
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog line %d: %w", line, err)
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		s := domain.Song{
			ID:       get("id"),
			Title:    get("title"),
			Artist:   get("artist"),
			Language: strings.ToLower(get("language")),
			URL:      get("url"),
			Moods:    splitMoods(get("moods")),
		}
		if s.ID == "" || s.Title == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		s.Year, _ = strconv.Atoi(get("year"))
		s.DurationSec, _ = strconv.Atoi(get("duration_sec"))
		s.Views, _ = strconv.ParseInt(get("views"), 10, 64)
		s.Explicit, _ = strconv.ParseBool(get("explicit"))
		songs = append(songs, s)
	}
	return songs, nil
}

func splitMoods(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' || r == ',' })
	moods := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			moods = append(moods, strings.ToLower(f))
		}
	}
	return moods
}

// LoadEmbeddings reads the embedding cache; a missing file yields an empty cache
func LoadEmbeddings(path string) (*EmbeddingFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &EmbeddingFile{Vectors: map[string][]float32{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings: %w", err)
	}
	var ef EmbeddingFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings: %w", err)
	}
	if ef.Vectors == nil {
		ef.Vectors = map[string][]float32{}
	}
	return &ef, nil
}

// SaveEmbeddings writes the embedding cache atomically
func SaveEmbeddings(path string, ef *EmbeddingFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create embeddings directory: %w", err)
	}
	data, err := json.Marshal(ef)
	if err != nil {
		return fmt.Errorf("failed to encode embeddings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write embeddings: %w", err)
	}
	return os.Rename(tmp, path)
}

// EmbedMissing fills ef with vectors for every song it lacks and reports
// how many were added
func EmbedMissing(ctx context.Context, songs []domain.Song, ef *EmbeddingFile, encoder repo.Encoder) (int, error) {
	added := 0
	for _, s := range songs {
		if _, ok := ef.Vectors[s.ID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return added, err
		}
		vec, err := encoder.Encode(ctx, EmbedText(s))
		if err != nil {
			return added, fmt.Errorf("failed to embed song %s: %w", s.ID, err)
		}
		ef.Vectors[s.ID] = usecase.Normalize(vec)
		added++
	}
	return added, nil
}

// CatalogOptions configures NewCatalog
type CatalogOptions struct {
	CatalogPath    string
	EmbeddingsPath string
	// Encoder embeds songs missing from the cache; nil drops them instead
	Encoder repo.Encoder
	Model   string
}

// NewCatalog loads songs and their embeddings. Songs without a vector,
// or whose vector has the wrong dimension, are left out.
func NewCatalog(ctx context.Context, opts CatalogOptions, log zerolog.Logger) (repo.Catalog, error) {
	songs, err := LoadSongs(opts.CatalogPath)
	if err != nil {
		return nil, err
	}
	ef, err := LoadEmbeddings(opts.EmbeddingsPath)
	if err != nil {
		return nil, err
	}

	if opts.Encoder != nil && (opts.Model == "" || ef.Model == "" || ef.Model == opts.Model) {
		added, err := EmbedMissing(ctx, songs, ef, opts.Encoder)
		if err != nil {
			log.Warn().Err(err).Int("added", added).Msg("embedding catalog songs failed")
		}
		if added > 0 {
			if ef.Model == "" {
				ef.Model = opts.Model
			}
			if err := SaveEmbeddings(opts.EmbeddingsPath, ef); err != nil {
				log.Warn().Err(err).Msg("failed to save embeddings cache")
			}
		}
	}

	cat := &songCatalog{}
	dim := 0
	for _, s := range songs {
		vec, ok := ef.Vectors[s.ID]
		if !ok || len(vec) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			log.Warn().Str("song_id", s.ID).Int("dim", len(vec)).Int("want", dim).Msg("skipping song with mismatched embedding")
			continue
		}
		cat.songs = append(cat.songs, s)
		cat.vectors = append(cat.vectors, usecase.Normalize(vec))
	}

	if len(cat.songs) == 0 {
		return nil, ErrEmptyCatalog
	}
	log.Info().Int("songs", len(cat.songs)).Int("skipped", len(songs)-len(cat.songs)).Int("dim", dim).Msg("song catalog loaded")
	return cat, nil
}
