// Package actuation decides when the relay is switched automatically.
//
// Two independent threshold rules are evaluated on every polling tick:
// turn-on fires when the sample drops to or below its threshold, shutdown
// fires when the sample rises to or above its threshold. Each rule may be
// restricted to a time-of-day window, in which case it only fires while
// the clock is trusted.
package actuation

import (
	"fmt"
	"math"
	"strings"
)

// State is the binary actuator state.
type State int

const (
	Off State = iota
	On
)

// String returns "on" or "off".
func (s State) String() string {
	if s == On {
		return "on"
	}
	return "off"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState accepts on/off, true/false and 1/0 in any case.
func ParseState(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1":
		return On, nil
	case "off", "false", "0":
		return Off, nil
	default:
		return Off, fmt.Errorf("invalid relay state: %q", v)
	}
}

// Rule is one threshold rule with an optional window.
// A nil Window means the rule is not time gated.
type Rule struct {
	Enabled   bool
	Threshold float64
	Window    *Window
}

// Active reports whether the rule can ever fire.
// NaN and infinite thresholds are treated as unset.
func (r Rule) Active() bool {
	return r.Enabled && !math.IsNaN(r.Threshold) && !math.IsInf(r.Threshold, 0)
}

// Config holds both rules. The zero value disables automatic actuation.
type Config struct {
	TurnOn   Rule
	Shutdown Rule
}

// Now is the clock reading handed to the engine.
// Synced is false until the time source resolved at least once.
type Now struct {
	Time   TimeOfDay
	Synced bool
}

// Rule names reported in decisions.
const (
	RuleTurnOn   = "turn_on"
	RuleShutdown = "shutdown"
)
