package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubu-agent/bubu/internal/biz/domain"
)

const testIntent = `{"keywords": ["romantic", "soft", "duet"], "allow_classic": true, "language_priority": ["Hindi"], "disallow": ["explicit"]}`

func newTestAugmenter(ledger *mockLedger, gen *mockGenerator) *SongAugmenterUsecase {
	rec := NewSongRecommenderUsecase(fiveSongCatalog(), &fixedEncoder{vec: []float32{1, 0, 0}}, nil, DefaultRecommenderConfig, zerolog.Nop())
	return NewSongAugmenterUsecase(rec, gen, ledger, DefaultSongConfig, zerolog.Nop())
}

func TestParseSongIntent(t *testing.T) {
	intent, err := ParseSongIntent("```json\n" + testIntent + "\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"romantic", "soft", "duet"}, intent.Keywords)
	assert.True(t, intent.AllowClassic)
	assert.Equal(t, []string{"Hindi"}, intent.LanguagePriority)

	_, err = ParseSongIntent("I think something soft would be nice")
	assert.Error(t, err)

	_, err = ParseSongIntent(`{"keywords": "not a list"}`)
	assert.Error(t, err)
}

func TestSongAugmenter_Query(t *testing.T) {
	aug := newTestAugmenter(newMockLedger(), &mockGenerator{})
	intent, err := ParseSongIntent(testIntent)
	require.NoError(t, err)

	assert.Equal(t, "calm dreamy romantic night romantic soft duet", aug.Query(domain.SlotNight, intent))
}

func TestSongAugmenter_Augment(t *testing.T) {
	ledger := newMockLedger()
	aug := newTestAugmenter(ledger, &mockGenerator{intent: testIntent})

	text, song := aug.Augment(context.Background(), domain.SlotFlirty, testDate, "Hey Asha, thinking of you — bubu", "— bubu", 700)
	require.True(t, song.IsSome())
	rec := song.UnwrapOr(domain.SongRecommendation{})
	assert.Equal(t, "Hey Asha, thinking of you — bubu\n\nThinking of you… and this song: "+rec.Title+" — "+rec.URL, text)
	// picking a song is not delivering it
	assert.Empty(t, ledger.songs)
}

func TestSongAugmenter_TruncatesMessageNotSongLine(t *testing.T) {
	aug := newTestAugmenter(newMockLedger(), &mockGenerator{intent: testIntent})
	closer := "— bubu"
	body := strings.Repeat("you are my favourite notification ", 6) + closer

	text, song := aug.Augment(context.Background(), domain.SlotMorning, testDate, body, closer, 160)
	require.True(t, song.IsSome())
	rec := song.UnwrapOr(domain.SongRecommendation{})

	assert.LessOrEqual(t, runeLen(text), 160)
	parts := strings.SplitN(text, "\n\n", 2)
	require.Len(t, parts, 2)
	assert.True(t, strings.HasSuffix(parts[0], closer))
	assert.Equal(t, "This song made me think of us: "+rec.Title+" — "+rec.URL, parts[1])
}

func TestSongAugmenter_SkipsWhenNoRoom(t *testing.T) {
	ledger := newMockLedger()
	aug := newTestAugmenter(ledger, &mockGenerator{intent: testIntent})
	body := strings.Repeat("long message ", 20)

	text, song := aug.Augment(context.Background(), domain.SlotMorning, testDate, body, "", 90)
	assert.True(t, song.IsNone())
	assert.Equal(t, body, text)
	assert.Empty(t, ledger.songs)
}

func TestSongAugmenter_BadIntentSkips(t *testing.T) {
	aug := newTestAugmenter(newMockLedger(), &mockGenerator{intent: "no idea, sorry"})

	text, song := aug.Augment(context.Background(), domain.SlotNight, testDate, "Good night", "", 700)
	assert.True(t, song.IsNone())
	assert.Equal(t, "Good night", text)
}

func TestSongAugmenter_AvoidsRecentSongs(t *testing.T) {
	ledger := newMockLedger()
	ledger.recent = map[string]struct{}{"s1": {}, "s2": {}, "s3": {}, "s5": {}}
	aug := newTestAugmenter(ledger, &mockGenerator{intent: testIntent})

	song := aug.Pick(context.Background(), domain.SlotMorning, testDate)
	assert.Equal(t, "s4", song.UnwrapOr(domain.SongRecommendation{}).SongID)
}
