// Package relay drives the relay output and watches the reset button.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/config"
)

// Driver names.
const (
	DriverGPIO   = "gpio"
	DriverMemory = "memory"
)

// Actuator applies a relay state to hardware.
type Actuator interface {
	Write(s actuation.State) error
	Close() error
}

// New creates the actuator selected by cfg.
func New(cfg config.RelayConfig) (Actuator, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverGPIO:
		return newGPIO(cfg.Pin, cfg.IsActiveHigh())
	default:
		return nil, fmt.Errorf("unknown relay driver: %q", cfg.Driver)
	}
}

// Memory is an in-process actuator for hosts without GPIO and for tests.
type Memory struct {
	mu     sync.Mutex
	state  actuation.State
	writes []actuation.State
	err    error
}

// NewMemory creates a memory actuator in the off state.
func NewMemory() *Memory {
	return &Memory{state: actuation.Off}
}

// Write records s unless a failure was injected.
func (m *Memory) Write(s actuation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.state = s
	m.writes = append(m.writes, s)
	log.Info().Str("state", s.String()).Msg("Relay switched (memory driver)")
	return nil
}

// Close implements Actuator.
func (m *Memory) Close() error { return nil }

// State returns the last written state.
func (m *Memory) State() actuation.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Writes returns every successful write in order.
func (m *Memory) Writes() []actuation.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]actuation.State, len(m.writes))
	copy(out, m.writes)
	return out
}

// FailWith makes subsequent writes return err; nil restores normal writes.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// pressFilter drops presses that arrive within the debounce period of the
// previous accepted press.
type pressFilter struct {
	debounce time.Duration
	last     time.Time
}

func (f *pressFilter) accept(at time.Time) bool {
	if !f.last.IsZero() && at.Sub(f.last) < f.debounce {
		return false
	}
	f.last = at
	return true
}

// WatchButton calls onPress for each debounced press of the button on
// cfg.Pin until ctx is cancelled. It returns immediately when no pin is
// configured.
func WatchButton(ctx context.Context, cfg config.ButtonConfig, onPress func()) error {
	if cfg.Pin == "" {
		return nil
	}
	return watchGPIOButton(ctx, cfg.Pin, cfg.Debounce.Duration(), onPress)
}
