package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bubu-agent/bubu/internal/biz/domain"
)

var ist = time.FixedZone("Asia/Kolkata", 5*3600+1800)

func TestJitterClock_Deterministic(t *testing.T) {
	clock := NewJitterClock(domain.DefaultSchedule(), ist)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, ist)

	first := clock.TimesForDate(date)
	second := clock.TimesForDate(date)
	require.Equal(t, first.Formatted(), second.Formatted())

	// Any instant on the same calendar day yields the same plan.
	later := clock.TimesForDate(date.Add(17 * time.Hour))
	require.Equal(t, first.Formatted(), later.Formatted())
}

func TestJitterClock_TimesWithinJitteredWindow(t *testing.T) {
	schedule := domain.DefaultSchedule()
	clock := NewJitterClock(schedule, ist)

	rapid.Check(t, func(t *rapid.T) {
		offset := rapid.IntRange(0, 3650).Draw(t, "days")
		date := time.Date(2020, 1, 1, 0, 0, 0, 0, ist).AddDate(0, 0, offset)
		plan := clock.TimesForDate(date)

		for _, slot := range domain.AllSlots {
			w := schedule.Windows[slot]
			plan.TimeFor(slot).WhenSome(func(at time.Time) {
				y, m, d := at.Date()
				dy, dm, dd := date.Date()
				if y != dy || m != dm || d != dd {
					t.Fatalf("%s planned on wrong day: %v", slot, at)
				}
				tod := int(domain.TimeOfDayOf(at))
				if tod < int(w.Start)-MaxJitterMinutes || tod > int(w.End)+MaxJitterMinutes {
					t.Fatalf("%s at %s outside jittered window %s", slot, domain.TimeOfDayOf(at), w)
				}
				if schedule.Suppressed(slot, domain.TimeOfDayOf(at)) {
					t.Fatalf("%s at %s falls in do-not-disturb", slot, domain.TimeOfDayOf(at))
				}
			})
		}
		if plan.TimeFor(domain.SlotNight).IsNone() {
			t.Fatalf("night slot must never be suppressed")
		}
	})
}

func TestJitterClock_DoNotDisturbSuppression(t *testing.T) {
	// A window buried inside do-not-disturb forces suppression for every
	// slot except night, which ignores it.
	buried := domain.Window{Start: domain.NewTimeOfDay(2, 0), End: domain.NewTimeOfDay(3, 0)}
	schedule := domain.Schedule{
		Windows: map[domain.Slot]domain.Window{
			domain.SlotMorning: buried,
			domain.SlotFlirty:  buried,
			domain.SlotNight:   buried,
		},
		DoNotDisturb: domain.DefaultSchedule().DoNotDisturb,
	}
	clock := NewJitterClock(schedule, ist)
	plan := clock.TimesForDate(time.Date(2024, 1, 15, 0, 0, 0, 0, ist))

	require.True(t, plan.TimeFor(domain.SlotMorning).IsNone())
	require.True(t, plan.TimeFor(domain.SlotFlirty).IsNone())
	require.True(t, plan.TimeFor(domain.SlotNight).IsSome())
}

func TestJitterClock_ClampsWrappedWindow(t *testing.T) {
	late := domain.Window{Start: domain.NewTimeOfDay(23, 50), End: domain.NewTimeOfDay(0, 30)}
	schedule := domain.Schedule{
		Windows: map[domain.Slot]domain.Window{
			domain.SlotMorning: domain.DefaultSchedule().Windows[domain.SlotMorning],
			domain.SlotFlirty:  domain.DefaultSchedule().Windows[domain.SlotFlirty],
			domain.SlotNight:   late,
		},
		DoNotDisturb: domain.DefaultSchedule().DoNotDisturb,
	}
	clock := NewJitterClock(schedule, ist)

	rapid.Check(t, func(t *rapid.T) {
		offset := rapid.IntRange(0, 3650).Draw(t, "days")
		date := time.Date(2020, 1, 1, 0, 0, 0, 0, ist).AddDate(0, 0, offset)
		at := clock.TimesForDate(date).TimeFor(domain.SlotNight)
		if at.IsNone() {
			t.Fatalf("night slot suppressed")
		}
		tod := domain.TimeOfDayOf(at.UnwrapOr(time.Time{}))
		if tod < domain.NewTimeOfDay(23, 30) {
			t.Fatalf("wrapped window produced %s", tod)
		}
	})
}

func TestJitterClock_SlotForTime(t *testing.T) {
	clock := NewJitterClock(domain.DefaultSchedule(), ist)

	slot, ok := clock.SlotForTime(domain.NewTimeOfDay(8, 0))
	require.True(t, ok)
	require.Equal(t, domain.SlotMorning, slot)

	slot, ok = clock.SlotForTime(domain.NewTimeOfDay(22, 0))
	require.True(t, ok)
	require.Equal(t, domain.SlotNight, slot)

	_, ok = clock.SlotForTime(domain.NewTimeOfDay(10, 30))
	require.False(t, ok)
}
