package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Slot is one of the three fixed daily message categories
type Slot string

const (
	SlotMorning Slot = "morning"
	SlotFlirty  Slot = "flirty"
	SlotNight   Slot = "night"
)

// AllSlots lists the slots in their stable preference order.
var AllSlots = []Slot{SlotMorning, SlotFlirty, SlotNight}

// ErrUnknownSlot is returned when a slot name is not recognised
var ErrUnknownSlot = errors.New("unknown slot")

// ParseSlot parses a slot name, case-insensitively
func ParseSlot(s string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case SlotMorning:
		return SlotMorning, nil
	case SlotFlirty:
		return SlotFlirty, nil
	case SlotNight:
		return SlotNight, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSlot, s)
}

func (s Slot) String() string {
	return string(s)
}

// IgnoresDoNotDisturb reports whether the slot may fire inside the DND window
func (s Slot) IgnoresDoNotDisturb() bool {
	return s == SlotNight
}
