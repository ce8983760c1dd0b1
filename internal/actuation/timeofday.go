package actuation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// MinutesPerDay is the length of the cyclic time-of-day domain.
const MinutesPerDay = 24 * 60

// Match "HH:MM" exactly, e.g. "06:30", "22:15"
var clockPattern = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// TimeOfDay is a wall-clock time with minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a strict "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	matches := clockPattern.FindStringSubmatch(s)
	if matches == nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}

	hour, _ := strconv.Atoi(matches[1])
	min, _ := strconv.Atoi(matches[2])

	if hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour: %d", hour)
	}
	if min > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute: %d", min)
	}

	return TimeOfDay{Hour: hour, Minute: min}, nil
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// At returns the time of day of t in t's location.
func At(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
