package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// ledgerRepo implements the Ledger repository on SQLite
type ledgerRepo struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// LedgerOption tunes NewLedgerRepo
type LedgerOption func(*ledgerRepo)

// WithClock overrides the wall clock used for created_at and retention cutoffs
func WithClock(now func() time.Time) LedgerOption {
	return func(r *ledgerRepo) { r.now = now }
}

// NewLedgerRepo opens (creating if needed) the ledger database at dbPath.
// Dates read back are interpreted in loc.
func NewLedgerRepo(dbPath string, loc *time.Location, log zerolog.Logger, opts ...LedgerOption) (repo.Ledger, func() error, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; serializes the check-then-insert paths
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db, log.With().Str("component", "migrate").Logger()); err != nil {
		db.Close()
		return nil, nil, err
	}

	if loc == nil {
		loc = time.Local
	}
	r := &ledgerRepo{db: db, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, db.Close, nil
}

// IsMessageSent reports whether a message was delivered for (date, slot)
func (r *ledgerRepo) IsMessageSent(ctx context.Context, date time.Time, slot domain.Slot) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM messages_sent
		WHERE date = ? AND slot = ? AND status = ?
	`, domain.DateKey(date), slot.String(), string(domain.DeliverySent)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query message: %w", err)
	}
	return n > 0, nil
}

// MessageStatus returns the recorded status for (date, slot)
func (r *ledgerRepo) MessageStatus(ctx context.Context, date time.Time, slot domain.Slot) (domain.DeliveryStatus, bool, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM messages_sent WHERE date = ? AND slot = ?
	`, domain.DateKey(date), slot.String()).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query message status: %w", err)
	}
	return domain.DeliveryStatus(status), true, nil
}

// RecordMessageSent inserts the attempt, overwriting a previous non-delivered one
func (r *ledgerRepo) RecordMessageSent(ctx context.Context, rec domain.MessageRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages_sent (date, slot, text, status, provider_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, slot) DO UPDATE SET
			text = excluded.text,
			status = excluded.status,
			provider_id = excluded.provider_id,
			created_at = excluded.created_at
		WHERE messages_sent.status != 'sent'
	`, domain.DateKey(rec.Date), rec.Slot.String(), rec.Text, string(rec.Status), rec.ProviderID, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	if n == 0 {
		return repo.ErrAlreadyRecorded
	}
	return nil
}

// RecordSongRecommendation appends a recommendation to the history
func (r *ledgerRepo) RecordSongRecommendation(ctx context.Context, date time.Time, slot domain.Slot, songID, title string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO song_recommendations (date, slot, song_id, title, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, domain.DateKey(date), slot.String(), songID, title, r.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record song recommendation: %w", err)
	}
	return nil
}

// RecentSongIDs returns ids recommended within the last days
func (r *ledgerRepo) RecentSongIDs(ctx context.Context, days int) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT song_id FROM song_recommendations WHERE date >= ?
	`, r.cutoff(days))
	if err != nil {
		return nil, fmt.Errorf("failed to query song history: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan song id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// RecentMessages returns send history within the last days, newest first
func (r *ledgerRepo) RecentMessages(ctx context.Context, days int) ([]domain.MessageRecord, error) {
	return r.queryMessages(ctx, `
		SELECT date, slot, text, status, provider_id, created_at
		FROM messages_sent
		WHERE date >= ?
		ORDER BY date DESC, created_at DESC
	`, r.cutoff(days))
}

// MessagesForDate returns every attempt recorded for date
func (r *ledgerRepo) MessagesForDate(ctx context.Context, date time.Time) ([]domain.MessageRecord, error) {
	return r.queryMessages(ctx, `
		SELECT date, slot, text, status, provider_id, created_at
		FROM messages_sent
		WHERE date = ?
		ORDER BY created_at ASC
	`, domain.DateKey(date))
}

func (r *ledgerRepo) queryMessages(ctx context.Context, query string, args ...any) ([]domain.MessageRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var records []domain.MessageRecord
	for rows.Next() {
		var dateKey, slot, status string
		var createdAt int64
		var rec domain.MessageRecord
		if err := rows.Scan(&dateKey, &slot, &rec.Text, &status, &rec.ProviderID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		date, err := time.ParseInLocation(time.DateOnly, dateKey, r.loc)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q in ledger: %w", dateKey, err)
		}
		rec.Date = date
		rec.Slot = domain.Slot(slot)
		rec.Status = domain.DeliveryStatus(status)
		rec.CreatedAt = time.Unix(createdAt, 0).In(r.loc)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CleanupOlderThan purges history dated before the retention cutoff
func (r *ledgerRepo) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := r.cutoff(days)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"messages_sent", "song_recommendations"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE date < ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to clean %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return total, nil
}

// cutoff returns the oldest date key kept by a days-long window
func (r *ledgerRepo) cutoff(days int) string {
	today := domain.DateOnly(r.now(), r.loc)
	return domain.DateKey(today.AddDate(0, 0, -days))
}
