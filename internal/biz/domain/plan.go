package domain

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DailyPlan maps each slot to its send time for one date. A None entry
// means the candidate time fell inside do-not-disturb.
type DailyPlan struct {
	Date  time.Time
	Times map[Slot]fn.Option[time.Time]
}

// TimeFor returns the planned time for slot
func (p DailyPlan) TimeFor(slot Slot) fn.Option[time.Time] {
	if t, ok := p.Times[slot]; ok {
		return t
	}
	return fn.None[time.Time]()
}

// Next returns the earliest planned time strictly after now that is not
// in skip. Slots are compared in time order.
func (p DailyPlan) Next(now time.Time, skip func(Slot) bool) (Slot, time.Time, bool) {
	var (
		bestSlot Slot
		bestTime time.Time
		found    bool
	)
	for _, slot := range AllSlots {
		if skip != nil && skip(slot) {
			continue
		}
		p.TimeFor(slot).WhenSome(func(t time.Time) {
			if !t.After(now) {
				return
			}
			if !found || t.Before(bestTime) {
				bestSlot, bestTime, found = slot, t, true
			}
		})
	}
	return bestSlot, bestTime, found
}

// Formatted renders the plan as slot -> "HH:MM", with nil for suppressed slots
func (p DailyPlan) Formatted() map[string]*string {
	out := make(map[string]*string, len(AllSlots))
	for _, slot := range AllSlots {
		out[slot.String()] = nil
		p.TimeFor(slot).WhenSome(func(t time.Time) {
			s := t.Format("15:04")
			out[slot.String()] = &s
		})
	}
	return out
}
