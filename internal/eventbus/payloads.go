package eventbus

import (
	"time"

	"github.com/dokzlo13/relayd/internal/actuation"
)

// Sources of relay changes and settings updates.
const (
	SourceAuto   = "auto"
	SourceWeb    = "web"
	SourceMQTT   = "mqtt"
	SourceButton = "button"
	SourceBoot   = "boot"
)

// RelayChanged is published on every actual relay transition.
type RelayChanged struct {
	Previous actuation.State
	State    actuation.State
	Source   string
	Rule     string  // rule that fired for Source == SourceAuto
	Sample   float64 // sample that triggered an automatic change
}

// SampleTaken is published once per polling tick.
type SampleTaken struct {
	Value float64
	At    time.Time
	Err   error // set when sampling failed; Value is meaningless then
}

// ConfigChanged is published after settings were persisted and applied.
type ConfigChanged struct {
	Version int64 // 0 after a reset
	Source  string
	Reset   bool
}

// ClockSynced is published after a time sync attempt.
type ClockSynced struct {
	Server string
	Offset time.Duration
	Err    error
}
