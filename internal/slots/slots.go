// Package slots decides whether a start time has enough consecutive free
// capacity for a treatment and which slots a selection covers.
package slots

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultGranularityMinutes is the slot length returned by availability lookups.
const DefaultGranularityMinutes = 5

// ReasonNotEnoughConsecutive is the diagnostic attached to every rejected candidate.
const ReasonNotEnoughConsecutive = "not enough consecutive slots"

// TimeSlot is one fixed-length unit on a branch calendar.
type TimeSlot struct {
	Time      string `json:"time"` // "HH:MM"
	Available bool   `json:"available"`
}

// Check is the outcome of IsSelectable.
type Check struct {
	OK     bool
	Reason string
	Detail string
}

func rejected(detail string) Check {
	return Check{Reason: ReasonNotEnoughConsecutive, Detail: detail}
}

// RequiredSlots converts a treatment duration into a slot count, never below one.
func RequiredSlots(durationMinutes, granularityMinutes int) int {
	if granularityMinutes <= 0 {
		granularityMinutes = DefaultGranularityMinutes
	}
	if durationMinutes <= 0 {
		return 1
	}
	n := (durationMinutes + granularityMinutes - 1) / granularityMinutes
	if n < 1 {
		return 1
	}
	return n
}

// IndexOf returns the position of the slot starting at t, or -1.
func IndexOf(slots []TimeSlot, t string) int {
	t = strings.TrimSpace(t)
	if t == "" {
		return -1
	}
	for i, s := range slots {
		if s.Time == t {
			return i
		}
	}
	return -1
}

// IsSelectable reports whether candidate starts a run of required available
// slots spaced exactly granularityMinutes apart.
func IsSelectable(slots []TimeSlot, candidate string, required, granularityMinutes int) Check {
	if granularityMinutes <= 0 {
		granularityMinutes = DefaultGranularityMinutes
	}
	if required < 1 {
		required = 1
	}

	idx := IndexOf(slots, candidate)
	if idx < 0 {
		return rejected(fmt.Sprintf("%s is not offered", candidate))
	}

	if required == 1 {
		if !slots[idx].Available {
			return rejected(fmt.Sprintf("%s is unavailable", candidate))
		}
		return Check{OK: true}
	}

	if len(slots)-idx < required {
		return rejected(fmt.Sprintf("only %d slots remain after %s, need %d", len(slots)-idx, candidate, required))
	}

	prev := -1
	for i := idx; i < idx+required; i++ {
		if !slots[i].Available {
			return rejected(fmt.Sprintf("%s is unavailable", slots[i].Time))
		}
		minutes, err := ParseClock(slots[i].Time)
		if err != nil {
			return rejected(err.Error())
		}
		if prev >= 0 && minutes-prev != granularityMinutes {
			return rejected(fmt.Sprintf("gap before %s", slots[i].Time))
		}
		prev = minutes
	}
	return Check{OK: true}
}

// RangeOf returns the indices [i, i+required) highlighted for a selection.
// The range is clipped to the slot list and empty when nothing is selected.
func RangeOf(slots []TimeSlot, selected string, required int) []int {
	idx := IndexOf(slots, selected)
	if idx < 0 {
		return nil
	}
	if required < 1 {
		required = 1
	}
	end := idx + required
	if end > len(slots) {
		end = len(slots)
	}
	out := make([]int, 0, end-idx)
	for i := idx; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("slots: invalid clock time %q", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("slots: invalid hour in %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("slots: invalid minute in %q", value)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes after midnight as "HH:MM". Values past midnight wrap.
func FormatClock(minutes int) string {
	minutes = ((minutes % (24 * 60)) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// AddMinutes shifts an "HH:MM" value by n minutes.
func AddMinutes(value string, n int) (string, error) {
	start, err := ParseClock(value)
	if err != nil {
		return "", err
	}
	return FormatClock(start + n), nil
}
