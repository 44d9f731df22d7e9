package repo

import (
	"context"
	"errors"
	"time"

	"github.com/bubu-agent/bubu/internal/biz/domain"
)

// ErrAlreadyRecorded is returned when a (date, slot) attempt has already
// been recorded by another writer.
var ErrAlreadyRecorded = errors.New("message already recorded for date and slot")

// Ledger is the send-history repository
// Single source of truth for idempotency (SQLite)
type Ledger interface {
	// IsMessageSent reports whether a message was delivered for (date, slot)
	IsMessageSent(ctx context.Context, date time.Time, slot domain.Slot) (bool, error)

	// MessageStatus returns the recorded status for (date, slot), if any attempt exists
	MessageStatus(ctx context.Context, date time.Time, slot domain.Slot) (domain.DeliveryStatus, bool, error)

	// RecordMessageSent records the outcome of a send attempt. A failed
	// attempt may be overwritten; a delivered one may not and yields
	// ErrAlreadyRecorded.
	RecordMessageSent(ctx context.Context, rec domain.MessageRecord) error

	// RecordSongRecommendation appends a recommendation to the history
	RecordSongRecommendation(ctx context.Context, date time.Time, slot domain.Slot, songID, title string) error

	// RecentSongIDs returns ids recommended within the last days
	RecentSongIDs(ctx context.Context, days int) (map[string]struct{}, error)

	// RecentMessages returns send history within the last days, newest first
	RecentMessages(ctx context.Context, days int) ([]domain.MessageRecord, error)

	// MessagesForDate returns every attempt recorded for date
	MessagesForDate(ctx context.Context, date time.Time) ([]domain.MessageRecord, error)

	// CleanupOlderThan purges history older than days and returns the number of rows removed
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}
