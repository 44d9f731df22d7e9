package main

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubu-agent/bubu/internal/biz"
	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/conf"
	"github.com/bubu-agent/bubu/internal/infra/whatsapp"
)

func testConfig(t *testing.T, skip ...string) *conf.Config {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return &conf.Config{
		Settings: &conf.Settings{
			Enabled:         true,
			RecipientName:   "Asha",
			RecipientNumber: "+919876543210",
			SkipDates:       skip,
		},
		Content:  conf.DefaultContentConfig(),
		Location: loc,
	}
}

func testUsecases(t *testing.T, cfg *conf.Config) *biz.Usecases {
	t.Helper()
	schedule, err := cfg.Content.ToSchedule()
	require.NoError(t, err)
	return biz.NewUsecases(biz.Repos{}, biz.Config{
		Schedule: schedule,
		Location: cfg.Location,
		Composer: cfg.Content.ToComposerConfig("Asha", "playful"),
	}, zerolog.Nop())
}

func TestNewDispatcher(t *testing.T) {
	cfg := testConfig(t, "2024-02-14")
	d, err := newDispatcher(cfg, testUsecases(t, cfg), nil, whatsapp.NewDryRun(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	st := d.Status()
	assert.True(t, st.Enabled)
	assert.False(t, st.Running)

	// nothing fires on a skip date
	onSkip := time.Date(2024, 2, 14, 6, 0, 0, 0, cfg.Location)
	_, at, ok := d.NextFire(onSkip)
	require.True(t, ok)
	assert.Equal(t, "2024-02-15", domain.DateKey(at))
}

func TestNewDispatcher_BadSkipDate(t *testing.T) {
	cfg := testConfig(t, "14/02/2024")
	_, err := newDispatcher(cfg, testUsecases(t, cfg), nil, whatsapp.NewDryRun(zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	cfg := testConfig(t)
	d, err := newDispatcher(cfg, testUsecases(t, cfg), nil, whatsapp.NewDryRun(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	a := &app{cfg: cfg, dispatcher: d}

	day, err := parseDate("2024-01-15", a)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, cfg.Location), day)

	_, err = parseDate("15-01-2024", a)
	assert.Error(t, err)

	today, err := parseDate("", a)
	require.NoError(t, err)
	assert.Equal(t, d.Today(), today)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "good night sweet dreams", oneLine("good night\nsweet dreams"))

	long := oneLine(strings.Repeat("a", 80))
	assert.Len(t, long, 60)
	assert.True(t, strings.HasSuffix(long, "..."))
}
