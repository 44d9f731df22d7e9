package usecase

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/bubu-agent/bubu/internal/biz/domain"
)

// MaxJitterMinutes bounds the random offset applied to a slot's base time
const MaxJitterMinutes = 20

// JitterClock derives each day's send times from the date alone
type JitterClock struct {
	schedule domain.Schedule
	loc      *time.Location
}

// NewJitterClock creates a clock for the given windows and timezone
func NewJitterClock(schedule domain.Schedule, loc *time.Location) *JitterClock {
	if loc == nil {
		loc = time.Local
	}
	return &JitterClock{schedule: schedule, loc: loc}
}

// Location returns the timezone plans are localized to
func (c *JitterClock) Location() *time.Location {
	return c.loc
}

// Schedule returns the configured windows
func (c *JitterClock) Schedule() domain.Schedule {
	return c.schedule
}

// Today returns the current calendar date in the clock's timezone
func (c *JitterClock) Today(now time.Time) time.Time {
	return domain.DateOnly(now, c.loc)
}

// TimesForDate computes the send time of every slot on date. Each slot
// draws from its own generator keyed by (date, slot), base minute first
// and jitter second, so slots never influence one another.
func (c *JitterClock) TimesForDate(date time.Time) domain.DailyPlan {
	day := domain.DateOnly(date, c.loc)
	seed := domain.SeedForDate(day)

	plan := domain.DailyPlan{
		Date:  day,
		Times: make(map[domain.Slot]fn.Option[time.Time], len(domain.AllSlots)),
	}
	for _, slot := range domain.AllSlots {
		window, ok := c.schedule.Windows[slot]
		if !ok {
			plan.Times[slot] = fn.None[time.Time]()
			continue
		}

		tod := candidateMinute(window, seed.Rand("schedule:"+slot.String()))
		if c.schedule.Suppressed(slot, tod) {
			plan.Times[slot] = fn.None[time.Time]()
			continue
		}
		plan.Times[slot] = fn.Some(tod.On(day))
	}
	return plan
}

// candidateMinute draws base and jitter and clamps into the day. Clamping
// can compress windows that run close to midnight.
func candidateMinute(w domain.Window, r *domain.Rand) domain.TimeOfDay {
	start, end := int(w.Start), int(w.End)
	if end < start {
		end += domain.MinutesPerDay
	}

	base := r.IntBetween(start, end)
	jitter := r.IntBetween(-MaxJitterMinutes, MaxJitterMinutes)

	candidate := min(max(base+jitter, 0), domain.MinutesPerDay-1)
	return domain.TimeOfDay(candidate)
}

// SlotForTime returns the first slot, in preference order, whose window
// contains t and which is allowed to fire at t.
func (c *JitterClock) SlotForTime(t domain.TimeOfDay) (domain.Slot, bool) {
	for _, slot := range domain.AllSlots {
		window, ok := c.schedule.Windows[slot]
		if !ok || !window.Contains(t) {
			continue
		}
		if c.schedule.Suppressed(slot, t) {
			continue
		}
		return slot, true
	}
	return "", false
}
