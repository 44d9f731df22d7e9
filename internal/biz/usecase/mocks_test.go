package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
)

// Mock implementations

type recordedSong struct {
	date   string
	slot   domain.Slot
	songID string
}

type mockLedger struct {
	mu      sync.Mutex
	sent    map[string]domain.MessageRecord
	songs   []recordedSong
	recent  map[string]struct{}
	sentErr error
}

func newMockLedger() *mockLedger {
	return &mockLedger{sent: make(map[string]domain.MessageRecord), recent: make(map[string]struct{})}
}

func ledgerKey(date time.Time, slot domain.Slot) string {
	return domain.DateKey(date) + "/" + slot.String()
}

func (m *mockLedger) IsMessageSent(ctx context.Context, date time.Time, slot domain.Slot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sentErr != nil {
		return false, m.sentErr
	}
	rec, ok := m.sent[ledgerKey(date, slot)]
	return ok && rec.Status == domain.DeliverySent, nil
}

func (m *mockLedger) MessageStatus(ctx context.Context, date time.Time, slot domain.Slot) (domain.DeliveryStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sent[ledgerKey(date, slot)]
	return rec.Status, ok, nil
}

func (m *mockLedger) RecordMessageSent(ctx context.Context, rec domain.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(rec.Date, rec.Slot)
	if old, ok := m.sent[key]; ok && old.Status == domain.DeliverySent {
		return repo.ErrAlreadyRecorded
	}
	m.sent[key] = rec
	return nil
}

func (m *mockLedger) RecordSongRecommendation(ctx context.Context, date time.Time, slot domain.Slot, songID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.songs = append(m.songs, recordedSong{date: domain.DateKey(date), slot: slot, songID: songID})
	return nil
}

func (m *mockLedger) RecentSongIDs(ctx context.Context, days int) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(m.recent))
	for id := range m.recent {
		out[id] = struct{}{}
	}
	return out, nil
}

func (m *mockLedger) RecentMessages(ctx context.Context, days int) ([]domain.MessageRecord, error) {
	return nil, nil
}

func (m *mockLedger) MessagesForDate(ctx context.Context, date time.Time) ([]domain.MessageRecord, error) {
	return nil, nil
}

func (m *mockLedger) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

// mockGenerator answers message prompts with reply and song intent
// prompts with intent.
type mockGenerator struct {
	reply  string
	intent string
	err    error
	delay  time.Duration
	panics bool

	mu    sync.Mutex
	calls []string
}

func (m *mockGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string, params repo.GenerateParams) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, userPrompt)
	m.mu.Unlock()

	if m.panics {
		panic("model exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if strings.Contains(strings.ToLower(userPrompt), "song intent") {
		return m.intent, nil
	}
	return m.reply, m.err
}

type memCatalog struct {
	songs   []domain.Song
	vectors [][]float32
}

func (c *memCatalog) Songs() []domain.Song { return c.songs }
func (c *memCatalog) Vectors() [][]float32 { return c.vectors }

type fixedEncoder struct {
	vec []float32
	err error
}

func (e *fixedEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([]float32, len(e.vec))
	copy(out, e.vec)
	return out, nil
}

// titleReranker scores documents by a fixed per-title table
type titleReranker struct {
	scores map[string]float64
	fail   bool
}

func (r *titleReranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if r.fail {
		return nil, errors.New("reranker offline")
	}
	out := make([]float64, len(docs))
	for i, d := range docs {
		for title, s := range r.scores {
			if strings.HasPrefix(d, title) {
				out[i] = s
			}
		}
	}
	return out, nil
}
