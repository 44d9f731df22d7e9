package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `id,title,artist,year,language,moods,explicit,duration_sec,url,views
s1,Tum Hi Ho,Arijit Singh,2013,Hindi,romantic;sad,false,262,https://youtu.be/a,1000
s2,Kesariya,Arijit Singh,2022,hindi,romantic|dreamy,false,268,https://youtu.be/b,2000
s3,Untitled,,2020,en,,true,200,,
,No Id,Someone,2020,en,happy,false,200,,
s1,Duplicate,Someone,2020,en,happy,false,200,,
`

type stubEncoder struct {
	vectors map[string][]float32
	fail    bool
	calls   int
}

func (e *stubEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("encoder down")
	}
	for prefix, v := range e.vectors {
		if strings.HasPrefix(text, prefix) {
			return v, nil
		}
	}
	return []float32{1, 0, 0}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestParseSongs(t *testing.T) {
	songs, err := parseSongs(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, songs, 3)

	assert.Equal(t, "s1", songs[0].ID)
	assert.Equal(t, "hindi", songs[0].Language)
	assert.Equal(t, []string{"romantic", "sad"}, songs[0].Moods)
	assert.Equal(t, 262, songs[0].DurationSec)
	assert.Equal(t, int64(1000), songs[0].Views)
	assert.Equal(t, 2013, songs[0].Year)

	assert.Equal(t, []string{"romantic", "dreamy"}, songs[1].Moods)
	assert.True(t, songs[2].Explicit)
	assert.Empty(t, songs[2].URL)
}

func TestParseSongs_MissingColumn(t *testing.T) {
	_, err := parseSongs(strings.NewReader("name,artist\nx,y\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"id"`)
}

func TestNewCatalog_EmbedsMissingAndCaches(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "songs.csv", sampleCSV)
	embPath := filepath.Join(dir, "emb", "songs.json")

	enc := &stubEncoder{vectors: map[string][]float32{"Tum Hi Ho": {3, 4, 0}}}
	cat, err := NewCatalog(context.Background(), CatalogOptions{
		CatalogPath: csvPath, EmbeddingsPath: embPath, Encoder: enc, Model: "all-minilm",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, cat.Songs(), 3)
	require.Len(t, cat.Vectors(), 3)
	assert.Equal(t, 3, enc.calls)
	assert.InDelta(t, 0.6, cat.Vectors()[0][0], 1e-6)
	assert.InDelta(t, 0.8, cat.Vectors()[0][1], 1e-6)

	ef, err := LoadEmbeddings(embPath)
	require.NoError(t, err)
	assert.Equal(t, "all-minilm", ef.Model)
	assert.Len(t, ef.Vectors, 3)

	// second load is served from the cache
	enc.calls = 0
	_, err = NewCatalog(context.Background(), CatalogOptions{
		CatalogPath: csvPath, EmbeddingsPath: embPath, Encoder: enc, Model: "all-minilm",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, enc.calls)
}

func TestNewCatalog_DropsSongsWithoutUsableVectors(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "songs.csv", sampleCSV)
	embPath := writeFile(t, dir, "songs.json", `{"model":"m","vectors":{"s1":[1,0],"s2":[0,1,0]}}`)

	cat, err := NewCatalog(context.Background(), CatalogOptions{
		CatalogPath: csvPath, EmbeddingsPath: embPath,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, cat.Songs(), 1)
	assert.Equal(t, "s1", cat.Songs()[0].ID)
}

func TestNewCatalog_EmptyWhenEncoderFails(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "songs.csv", sampleCSV)

	_, err := NewCatalog(context.Background(), CatalogOptions{
		CatalogPath:    csvPath,
		EmbeddingsPath: filepath.Join(dir, "none.json"),
		Encoder:        &stubEncoder{fail: true},
	}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestNewCatalog_MissingFile(t *testing.T) {
	_, err := NewCatalog(context.Background(), CatalogOptions{CatalogPath: "/nonexistent/songs.csv"}, zerolog.Nop())
	require.Error(t, err)
}
