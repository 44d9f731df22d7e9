package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSeedForDate(t *testing.T) {
	date := time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC)
	require.Equal(t, Seed(20240115), SeedForDate(date))
}

func TestSeed_RandIsReproducible(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := Seed(rapid.IntRange(19700101, 20991231).Draw(t, "seed"))
		stream := rapid.StringMatching(`[a-z:]{1,12}`).Draw(t, "stream")

		a, b := seed.Rand(stream), seed.Rand(stream)
		for i := 0; i < 8; i++ {
			x, y := a.IntBetween(-20, 20), b.IntBetween(-20, 20)
			if x != y {
				t.Fatalf("draw %d diverged: %d != %d", i, x, y)
			}
			if x < -20 || x > 20 {
				t.Fatalf("draw %d out of range: %d", i, x)
			}
		}
	})
}

func TestSeed_StreamsAreIndependent(t *testing.T) {
	seed := Seed(20240115)

	// Consuming one stream must not shift another.
	first := seed.Rand("schedule:night").IntBetween(0, 1_000_000)
	noisy := seed.Rand("schedule:morning")
	for i := 0; i < 100; i++ {
		noisy.Float64()
	}
	second := seed.Rand("schedule:night").IntBetween(0, 1_000_000)
	require.Equal(t, first, second)
}

func TestChoice(t *testing.T) {
	r := Seed(20240115).Rand("choice")

	_, ok := Choice(r, []string{})
	require.False(t, ok)

	items := []string{"a", "b", "c"}
	got, ok := Choice(r, items)
	require.True(t, ok)
	require.Contains(t, items, got)
}

func TestDateOnly(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 14th is already the 15th in IST.
	d := DateOnly(time.Date(2024, 1, 14, 20, 0, 0, 0, time.UTC), loc)
	require.Equal(t, "2024-01-15", DateKey(d))
	require.Equal(t, 0, d.Hour())
}
