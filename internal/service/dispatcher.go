package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bubu-agent/bubu/internal/biz/domain"
	"github.com/bubu-agent/bubu/internal/biz/repo"
	"github.com/bubu-agent/bubu/internal/biz/usecase"
)

// Skip reasons reported in logs and metrics
const (
	skipPaused      = "paused"
	skipSkipDate    = "skip_date"
	skipDND         = "do_not_disturb"
	skipMissed      = "missed"
	skipAttempted   = "already_attempted"
	skipLedgerError = "ledger_error"
	skipNotSendable = "not_sendable"
)

// ErrInvalidCustomText is returned by SendCustom for empty or oversize text
var ErrInvalidCustomText = errors.New("custom text must be between 1 and the max message length")

// DispatcherConfig contains scheduling behaviour
type DispatcherConfig struct {
	Recipient string
	Enabled   bool
	SkipDates map[string]struct{}

	PlanAt         domain.TimeOfDay
	CleanupWeekday time.Weekday
	CleanupAt      domain.TimeOfDay
	RetentionDays  int

	// IdleRetry caps a single sleep and is the wait when nothing is scheduled
	IdleRetry time.Duration
	// MaxLateness is how long after its planned time a slot may still fire
	MaxLateness time.Duration
}

// DefaultDispatcherConfig contains default scheduling configuration
var DefaultDispatcherConfig = DispatcherConfig{
	Enabled:        true,
	PlanAt:         domain.NewTimeOfDay(0, 5),
	CleanupWeekday: time.Sunday,
	CleanupAt:      domain.NewTimeOfDay(2, 0),
	RetentionDays:  90,
	IdleRetry:      time.Hour,
	MaxLateness:    30 * time.Minute,
}

// SendResult is the outcome of a manual or scheduled send
type SendResult struct {
	Success   bool                  `json:"success"`
	Message   string                `json:"message"`
	Provider  string                `json:"provider"`
	MessageID string                `json:"message_id,omitempty"`
	Status    domain.DeliveryStatus `json:"status,omitempty"`
	Text      string                `json:"text,omitempty"`
}

// Status is a snapshot for health reporting
type Status struct {
	Running  bool       `json:"running"`
	Paused   bool       `json:"paused"`
	Enabled  bool       `json:"enabled"`
	Provider string     `json:"provider"`
	NextSlot string     `json:"next_slot,omitempty"`
	NextAt   *time.Time `json:"next_at,omitempty"`
}

// Dispatcher plans each day and delivers composed messages at the planned
// times. Sends are serialized; the ledger decides at-most-once.
type Dispatcher struct {
	clock     *usecase.JitterClock
	composer  *usecase.MessageComposerUsecase
	ledger    repo.Ledger
	messenger repo.Messenger
	cfg       DispatcherConfig
	log       zerolog.Logger
	now       func() time.Time

	sendMu sync.Mutex
	paused atomic.Bool

	stateMu       sync.Mutex
	handled       map[string]bool
	nextReplanAt  time.Time
	nextCleanupAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	clock *usecase.JitterClock,
	composer *usecase.MessageComposerUsecase,
	ledger repo.Ledger,
	messenger repo.Messenger,
	cfg DispatcherConfig,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.IdleRetry <= 0 {
		cfg.IdleRetry = DefaultDispatcherConfig.IdleRetry
	}
	if cfg.MaxLateness <= 0 {
		cfg.MaxLateness = DefaultDispatcherConfig.MaxLateness
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultDispatcherConfig.RetentionDays
	}
	return &Dispatcher{
		clock:     clock,
		composer:  composer,
		ledger:    ledger,
		messenger: messenger,
		cfg:       cfg,
		log:       log.With().Str("component", "dispatcher").Logger(),
		now:       time.Now,
		handled:   make(map[string]bool),
	}
}

// SetClock overrides the wall clock
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Start plans today, catches up a slot whose window is open, and runs the
// wait loop until Stop or ctx is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.cfg.Enabled {
		d.log.Warn().Msg("scheduling disabled, dispatcher not started")
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	now := d.now()
	d.replan(now)
	d.scheduleMaintenance(now)
	d.catchUp(d.ctx, now)

	d.wg.Add(1)
	go d.loop()

	d.log.Info().Str("provider", d.messenger.ProviderName()).Msg("dispatcher started")
}

// Stop cancels pending fires and waits for an in-flight send to be recorded
func (d *Dispatcher) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.log.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		now := d.now()
		wake := d.tick(d.ctx, now)

		wait := wake.Sub(now)
		if wait > d.cfg.IdleRetry {
			wait = d.cfg.IdleRetry
		}
		if wait < time.Second {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs every piece of work due at now and returns when to wake next
func (d *Dispatcher) tick(ctx context.Context, now time.Time) time.Time {
	if !now.Before(d.replanAt()) {
		d.replan(now)
	}
	if c := d.cleanupAt(); c.IsZero() {
		d.scheduleMaintenance(now)
	} else if !now.Before(c) {
		d.cleanup(ctx, now)
	}

	today := d.clock.TimesForDate(now)
	for _, slot := range domain.AllSlots {
		if ctx.Err() != nil {
			break
		}
		today.TimeFor(slot).WhenSome(func(t time.Time) {
			if t.After(now) || d.isHandled(today.Date, slot) {
				return
			}
			d.markHandled(today.Date, slot)
			if now.Sub(t) > d.cfg.MaxLateness {
				d.skip(slot, today.Date, skipMissed)
				return
			}
			d.fire(ctx, today.Date, slot, now)
		})
	}

	return d.nextWake(now)
}

// nextWake is the earliest of the next unhandled fire, replan and cleanup
func (d *Dispatcher) nextWake(now time.Time) time.Time {
	wake := now.Add(d.cfg.IdleRetry)
	if _, t, ok := d.NextFire(now); ok && t.Before(wake) {
		wake = t
	}
	if r := d.replanAt(); r.Before(wake) {
		wake = r
	}
	if c := d.cleanupAt(); c.Before(wake) {
		wake = c
	}
	return wake
}

// NextFire returns the next unhandled, non-skipped fire after now across
// today and tomorrow
func (d *Dispatcher) NextFire(now time.Time) (domain.Slot, time.Time, bool) {
	today := d.clock.Today(now)
	for _, date := range []time.Time{today, today.AddDate(0, 0, 1)} {
		if d.isSkipDate(date) {
			continue
		}
		plan := d.clock.TimesForDate(date)
		slot, t, ok := plan.Next(now, func(s domain.Slot) bool { return d.isHandled(date, s) })
		if ok {
			return slot, t, true
		}
	}
	return "", time.Time{}, false
}

// catchUp sends immediately when now falls in a slot's window and that slot
// has no attempt today. Every other past slot of today is marked missed.
func (d *Dispatcher) catchUp(ctx context.Context, now time.Time) {
	today := d.clock.Today(now)
	plan := d.clock.TimesForDate(today)

	catchSlot, inWindow := d.clock.SlotForTime(domain.TimeOfDayOf(now.In(d.clock.Location())))
	for _, slot := range domain.AllSlots {
		if inWindow && slot == catchSlot {
			continue
		}
		plan.TimeFor(slot).WhenSome(func(t time.Time) {
			if !t.After(now) {
				d.markHandled(today, slot)
			}
		})
	}
	if !inWindow {
		return
	}

	d.markHandled(today, catchSlot)
	d.log.Info().Str("slot", catchSlot.String()).Msg("startup inside slot window, catching up")
	d.fire(ctx, today, catchSlot, now)
}

// fire composes and delivers one scheduled slot
func (d *Dispatcher) fire(ctx context.Context, date time.Time, slot domain.Slot, now time.Time) {
	if d.paused.Load() {
		d.skip(slot, date, skipPaused)
		return
	}
	if d.isSkipDate(date) {
		d.skip(slot, date, skipSkipDate)
		return
	}
	if d.clock.Schedule().Suppressed(slot, domain.TimeOfDayOf(now.In(d.clock.Location()))) {
		d.skip(slot, date, skipDND)
		return
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	_, attempted, err := d.ledger.MessageStatus(ctx, date, slot)
	if err != nil {
		d.log.Error().Err(err).Str("slot", slot.String()).Msg("ledger lookup failed, not sending")
		d.skip(slot, date, skipLedgerError)
		return
	}
	if attempted {
		d.skip(slot, date, skipAttempted)
		return
	}

	msg := d.compose(ctx, slot, date, false)
	if !msg.Sendable() {
		d.skip(slot, date, skipNotSendable)
		return
	}
	res := d.deliver(ctx, date, slot, msg)
	d.log.Info().
		Str("slot", slot.String()).
		Str("date", domain.DateKey(date)).
		Str("status", string(res.Status)).
		Str("compose_status", string(msg.Status)).
		Msg("scheduled message dispatched")
}

func (d *Dispatcher) compose(ctx context.Context, slot domain.Slot, date time.Time, force bool) domain.ComposedMessage {
	msg := d.composer.Compose(ctx, slot, date, force)
	composedTotal.WithLabelValues(slot.String(), string(msg.Status)).Inc()
	if msg.Status != domain.StatusAlreadySent {
		result := "none"
		if msg.Details["song_id"] != "" {
			result = "recommended"
		}
		songsTotal.WithLabelValues(slot.String(), result).Inc()
	}
	return msg
}

// deliver sends msg and records the attempt, plus the recommended song when
// the send went through. Recording is detached from ctx so a send in flight
// during shutdown is still written. Callers hold sendMu.
func (d *Dispatcher) deliver(ctx context.Context, date time.Time, slot domain.Slot, msg domain.ComposedMessage) SendResult {
	text := msg.Text
	res := SendResult{Provider: d.messenger.ProviderName(), Text: text}

	start := time.Now()
	id, err := d.safeSend(ctx, text)
	sendDuration.WithLabelValues(res.Provider).Observe(time.Since(start).Seconds())

	switch {
	case err != nil && errors.Is(err, errSendPanic):
		res.Status = domain.DeliveryError
		res.Message = err.Error()
	case err != nil:
		res.Status = domain.DeliveryFailed
		res.Message = err.Error()
	case id == "":
		res.Status = domain.DeliveryFailed
		res.Message = "provider did not accept the message"
	default:
		res.Status = domain.DeliverySent
		res.Success = true
		res.MessageID = id
		res.Message = "sent"
	}
	deliveriesTotal.WithLabelValues(slot.String(), string(res.Status)).Inc()

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err = d.ledger.RecordMessageSent(recordCtx, domain.MessageRecord{
		Date:       date,
		Slot:       slot,
		Text:       text,
		Status:     res.Status,
		ProviderID: id,
		CreatedAt:  d.now(),
	})
	if err != nil {
		d.log.Error().Err(err).Str("slot", slot.String()).Str("status", string(res.Status)).Msg("failed to record send attempt")
		if res.Success && errors.Is(err, repo.ErrAlreadyRecorded) {
			res.Message = "sent, but another delivery was already recorded"
		}
	}

	if !res.Success {
		d.log.Warn().Str("slot", slot.String()).Str("status", string(res.Status)).Str("reason", res.Message).Msg("send failed")
		return res
	}

	if songID := msg.Details["song_id"]; songID != "" {
		if err := d.ledger.RecordSongRecommendation(recordCtx, date, slot, songID, msg.Details["song_title"]); err != nil {
			d.log.Warn().Err(err).Str("song_id", songID).Msg("record song recommendation failed")
		}
	}
	return res
}

var errSendPanic = errors.New("messenger panicked")

func (d *Dispatcher) safeSend(ctx context.Context, text string) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errSendPanic, r)
		}
	}()
	return d.messenger.SendText(ctx, d.cfg.Recipient, text)
}

// SendNow composes and sends slot for today regardless of the plan
func (d *Dispatcher) SendNow(ctx context.Context, slot domain.Slot) SendResult {
	today := d.clock.Today(d.now())

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	sent, err := d.ledger.IsMessageSent(ctx, today, slot)
	if err != nil {
		return SendResult{Provider: d.messenger.ProviderName(), Message: fmt.Sprintf("ledger lookup failed: %v", err)}
	}
	if sent {
		return SendResult{Provider: d.messenger.ProviderName(), Message: fmt.Sprintf("%s message already sent today", slot)}
	}

	msg := d.compose(ctx, slot, today, false)
	if !msg.Sendable() {
		return SendResult{Provider: d.messenger.ProviderName(), Message: fmt.Sprintf("%s message already sent today", slot)}
	}
	res := d.deliver(ctx, today, slot, msg)
	d.markHandled(today, slot)
	return res
}

// SendCustom sends caller-provided text as today's slot message
func (d *Dispatcher) SendCustom(ctx context.Context, slot domain.Slot, text string) (SendResult, error) {
	if n := len([]rune(text)); n == 0 || n > d.composer.MaxMessageLength() {
		return SendResult{}, ErrInvalidCustomText
	}
	today := d.clock.Today(d.now())

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	sent, err := d.ledger.IsMessageSent(ctx, today, slot)
	if err != nil {
		return SendResult{}, fmt.Errorf("ledger lookup: %w", err)
	}
	if sent {
		return SendResult{Provider: d.messenger.ProviderName(), Message: fmt.Sprintf("%s message already sent today", slot)}, nil
	}

	res := d.deliver(ctx, today, slot, domain.ComposedMessage{Text: text})
	d.markHandled(today, slot)
	return res, nil
}

// DryRun composes every slot for today from templates without sending
func (d *Dispatcher) DryRun(ctx context.Context) map[domain.Slot]domain.ComposedMessage {
	today := d.clock.Today(d.now())
	out := make(map[domain.Slot]domain.ComposedMessage, len(domain.AllSlots))
	for _, slot := range domain.AllSlots {
		out[slot] = d.composer.Compose(ctx, slot, today, true)
	}
	return out
}

// Compose exposes the composer for front-ends
func (d *Dispatcher) Compose(ctx context.Context, slot domain.Slot, date time.Time, forceFallback bool) domain.ComposedMessage {
	return d.composer.Compose(ctx, slot, date, forceFallback)
}

// Preview renders a template preview
func (d *Dispatcher) Preview(slot domain.Slot, opts usecase.PreviewOptions) string {
	if opts.Date.IsZero() {
		opts.Date = d.clock.Today(d.now())
	}
	return d.composer.Preview(slot, opts)
}

// DailyPlan returns the plan for date
func (d *Dispatcher) DailyPlan(date time.Time) domain.DailyPlan {
	return d.clock.TimesForDate(date)
}

// Today returns the current date in the dispatcher's timezone
func (d *Dispatcher) Today() time.Time {
	return d.clock.Today(d.now())
}

// RecentMessages proxies the ledger history
func (d *Dispatcher) RecentMessages(ctx context.Context, days int) ([]domain.MessageRecord, error) {
	return d.ledger.RecentMessages(ctx, days)
}

// Cleanup purges ledger history older than the retention window
func (d *Dispatcher) Cleanup(ctx context.Context) (int64, error) {
	return d.ledger.CleanupOlderThan(ctx, d.cfg.RetentionDays)
}

// Pause stops scheduled fires until Resume; manual sends still work
func (d *Dispatcher) Pause() {
	if !d.paused.Swap(true) {
		d.log.Info().Msg("dispatcher paused")
	}
}

// Resume re-enables scheduled fires
func (d *Dispatcher) Resume() {
	if d.paused.Swap(false) {
		d.log.Info().Msg("dispatcher resumed")
	}
}

// Status reports the dispatcher state
func (d *Dispatcher) Status() Status {
	now := d.now()
	st := Status{
		Running:  d.running.Load(),
		Paused:   d.paused.Load(),
		Enabled:  d.cfg.Enabled,
		Provider: d.messenger.ProviderName(),
	}
	if slot, t, ok := d.NextFire(now); ok {
		st.NextSlot = slot.String()
		st.NextAt = &t
	}
	return st
}

func (d *Dispatcher) replan(now time.Time) {
	today := d.clock.Today(now)
	plan := d.clock.TimesForDate(today)

	d.stateMu.Lock()
	// only today's and tomorrow's entries can still matter
	yesterday := domain.DateKey(today.AddDate(0, 0, -1))
	for key := range d.handled {
		if key[:len(yesterday)] < yesterday {
			delete(d.handled, key)
		}
	}
	d.nextReplanAt = d.cfg.PlanAt.On(today.AddDate(0, 0, 1))
	if next := d.cfg.PlanAt.On(today); next.After(now) {
		d.nextReplanAt = next
	}
	d.stateMu.Unlock()

	ev := d.log.Info().Str("date", domain.DateKey(today))
	for slot, t := range plan.Formatted() {
		if t == nil {
			ev = ev.Str(slot, "suppressed")
		} else {
			ev = ev.Str(slot, *t)
		}
	}
	if d.isSkipDate(today) {
		ev = ev.Bool("skip_date", true)
	}
	ev.Msg("daily plan")
}

func (d *Dispatcher) scheduleMaintenance(now time.Time) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.nextCleanupAt = nextWeekly(now, d.cfg.CleanupWeekday, d.cfg.CleanupAt, d.clock.Location())
}

func (d *Dispatcher) cleanup(ctx context.Context, now time.Time) {
	d.stateMu.Lock()
	d.nextCleanupAt = nextWeekly(now, d.cfg.CleanupWeekday, d.cfg.CleanupAt, d.clock.Location())
	d.stateMu.Unlock()

	removed, err := d.Cleanup(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("ledger cleanup failed")
		return
	}
	d.log.Info().Int64("removed", removed).Int("retention_days", d.cfg.RetentionDays).Msg("ledger cleanup done")
}

// nextWeekly returns the first weekday at tod strictly after now
func nextWeekly(now time.Time, weekday time.Weekday, tod domain.TimeOfDay, loc *time.Location) time.Time {
	day := domain.DateOnly(now, loc)
	for i := 0; i <= 7; i++ {
		d := day.AddDate(0, 0, i)
		if d.Weekday() != weekday {
			continue
		}
		if t := tod.On(d); t.After(now) {
			return t
		}
	}
	return tod.On(day.AddDate(0, 0, 7))
}

func (d *Dispatcher) replanAt() time.Time {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.nextReplanAt
}

func (d *Dispatcher) cleanupAt() time.Time {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.nextCleanupAt
}

func handledKey(date time.Time, slot domain.Slot) string {
	return domain.DateKey(date) + "/" + slot.String()
}

func (d *Dispatcher) isHandled(date time.Time, slot domain.Slot) bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.handled[handledKey(date, slot)]
}

func (d *Dispatcher) markHandled(date time.Time, slot domain.Slot) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.handled[handledKey(date, slot)] = true
}

func (d *Dispatcher) isSkipDate(date time.Time) bool {
	_, ok := d.cfg.SkipDates[domain.DateKey(date)]
	return ok
}

func (d *Dispatcher) skip(slot domain.Slot, date time.Time, reason string) {
	skippedTotal.WithLabelValues(slot.String(), reason).Inc()
	d.log.Info().Str("slot", slot.String()).Str("date", domain.DateKey(date)).Str("reason", reason).Msg("scheduled fire skipped")
}
