package domain

import (
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// Seed is the per-day integer from which every deterministic choice is
// derived: the date formatted as YYYYMMDD.
type Seed int64

// SeedForDate derives the seed for a calendar date
func SeedForDate(date time.Time) Seed {
	y, m, d := date.Date()
	return Seed(y*10000 + int(m)*100 + d)
}

// Rand returns a fresh generator for the named stream. Two calls with the
// same seed and stream yield identical sequences; distinct streams are
// independent of each other and of call order.
func (s Seed) Rand(stream string) *Rand {
	h := fnv.New64a()
	h.Write([]byte(stream))
	return &Rand{r: rand.New(rand.NewPCG(uint64(s), h.Sum64()))}
}

// Rand is a deterministic generator owned by a single caller
type Rand struct {
	r *rand.Rand
}

// IntBetween returns an integer in [lo, hi], both inclusive
func (r *Rand) IntBetween(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + r.r.IntN(hi-lo+1)
}

// Float64 returns a number in [0, 1)
func (r *Rand) Float64() float64 {
	return r.r.Float64()
}

// Choice picks one element of items. The bool is false when items is empty.
func Choice[T any](r *Rand, items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[r.r.IntN(len(items))], true
}

// DateOnly truncates t to midnight in loc
func DateOnly(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DateKey formats a date as YYYY-MM-DD
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
