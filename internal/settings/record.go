// Package settings holds the persisted device configuration: network
// credentials, the relay display name and the automatic actuation rules.
package settings

import (
	"github.com/dokzlo13/relayd/internal/actuation"
)

// DefaultDisplayName is used when no relay name was submitted.
const DefaultDisplayName = "Relay"

// Record is the persisted configuration record. Windows are stored as
// "HH:MM" strings; an empty string means the window end is unset.
type Record struct {
	SSID        string `json:"ssid"`
	Password    string `json:"password"`
	DisplayName string `json:"relay_display_name"`

	TurnOnEnabled       bool    `json:"turn_on_enabled"`
	TurnOnThreshold     float64 `json:"turn_on_threshold"`
	TurnOnWindowEnabled bool    `json:"turn_on_window_enabled"`
	TurnOnWindowStart   string  `json:"turn_on_window_start"`
	TurnOnWindowEnd     string  `json:"turn_on_window_end"`

	ShutdownEnabled       bool    `json:"shutdown_enabled"`
	ShutdownThreshold     float64 `json:"shutdown_threshold"`
	ShutdownWindowEnabled bool    `json:"shutdown_window_enabled"`
	ShutdownWindowStart   string  `json:"shutdown_window_start"`
	ShutdownWindowEnd     string  `json:"shutdown_window_end"`
}

// Default returns a record with every automatic rule disabled.
func Default() Record {
	return Record{DisplayName: DefaultDisplayName}
}

// Actuation converts the record into engine rules. A window that is
// enabled but not parseable disables the window, not the rule.
func (r Record) Actuation() actuation.Config {
	return actuation.Config{
		TurnOn: actuation.Rule{
			Enabled:   r.TurnOnEnabled,
			Threshold: r.TurnOnThreshold,
			Window:    parseWindow(r.TurnOnWindowEnabled, r.TurnOnWindowStart, r.TurnOnWindowEnd),
		},
		Shutdown: actuation.Rule{
			Enabled:   r.ShutdownEnabled,
			Threshold: r.ShutdownThreshold,
			Window:    parseWindow(r.ShutdownWindowEnabled, r.ShutdownWindowStart, r.ShutdownWindowEnd),
		},
	}
}

func parseWindow(enabled bool, start, end string) *actuation.Window {
	if !enabled {
		return nil
	}
	s, err := actuation.ParseTimeOfDay(start)
	if err != nil {
		return nil
	}
	e, err := actuation.ParseTimeOfDay(end)
	if err != nil {
		return nil
	}
	return &actuation.Window{Start: s, End: e}
}
