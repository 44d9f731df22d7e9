package domain

import (
	"fmt"
	"time"
)

// MinutesPerDay is the number of minutes in a calendar day
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time expressed as minutes since midnight
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from hour and minute
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// TimeOfDayOf returns the wall-clock part of t in t's location
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places the time of day on the calendar date of day, in day's location
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location())
}

// Window is an inclusive time-of-day range. End before Start means the
// window spans midnight.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Wraps reports whether the window crosses midnight
func (w Window) Wraps() bool {
	return w.End < w.Start
}

// Contains reports whether t lies inside the window, endpoints included
func (w Window) Contains(t TimeOfDay) bool {
	if w.Wraps() {
		return t >= w.Start || t <= w.End
	}
	return t >= w.Start && t <= w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Schedule holds the per-slot send windows and the global do-not-disturb window
type Schedule struct {
	Windows      map[Slot]Window
	DoNotDisturb Window
}

// DefaultSchedule returns the stock windows
func DefaultSchedule() Schedule {
	return Schedule{
		Windows: map[Slot]Window{
			SlotMorning: {Start: NewTimeOfDay(6, 45), End: NewTimeOfDay(9, 30)},
			SlotFlirty:  {Start: NewTimeOfDay(12, 0), End: NewTimeOfDay(17, 30)},
			SlotNight:   {Start: NewTimeOfDay(21, 30), End: NewTimeOfDay(23, 30)},
		},
		DoNotDisturb: Window{Start: NewTimeOfDay(23, 45), End: NewTimeOfDay(6, 30)},
	}
}

// Suppressed reports whether a slot firing at t would violate do-not-disturb
func (s Schedule) Suppressed(slot Slot, t TimeOfDay) bool {
	if slot.IgnoresDoNotDisturb() {
		return false
	}
	return s.DoNotDisturb.Contains(t)
}

// Validate checks that every slot has a window
func (s Schedule) Validate() error {
	for _, slot := range AllSlots {
		if _, ok := s.Windows[slot]; !ok {
			return fmt.Errorf("no send window for slot %s", slot)
		}
	}
	return nil
}
