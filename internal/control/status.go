package control

import (
	"time"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/settings"
)

// Status is a point-in-time snapshot for the web and API surfaces.
type Status struct {
	DisplayName string          `json:"display_name"`
	State       actuation.State `json:"state"`
	Sample      *float64        `json:"sample"`
	SampleAt    *time.Time      `json:"sample_at,omitempty"`
	SampleError string          `json:"sample_error,omitempty"`
	Time        string          `json:"time"`
	TimeSynced  bool            `json:"time_synced"`
	Settings    settings.Record `json:"settings"`
}

// Status returns the current snapshot. The stored password is not included.
func (c *Controller) Status() Status {
	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		DisplayName: c.record.DisplayName,
		State:       c.engine.State(),
		Time:        now.Time.String(),
		TimeSynced:  now.Synced,
		Settings:    c.record,
	}
	st.Settings.Password = ""

	if !c.sampleAt.IsZero() {
		at := c.sampleAt
		st.SampleAt = &at
		if c.sampleErr != nil {
			st.SampleError = c.sampleErr.Error()
		} else {
			v := c.sample
			st.Sample = &v
		}
	}
	return st
}
