// Package control runs the polling loop that ties the sensor, the clock,
// the actuation engine and the relay together, and exposes the manual
// and configuration operations used by the web and MQTT surfaces.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/clock"
	"github.com/dokzlo13/relayd/internal/eventbus"
	"github.com/dokzlo13/relayd/internal/relay"
	"github.com/dokzlo13/relayd/internal/sensor"
	"github.com/dokzlo13/relayd/internal/settings"
)

// Clock is the time source used by the loop.
type Clock interface {
	Now() actuation.Now
	Time() time.Time
	NeedsSync(interval time.Duration) bool
	Sync(ctx context.Context) (clock.Result, error)
}

// Options tune the loop.
type Options struct {
	PollInterval time.Duration
	ClockRefresh time.Duration
	SyncTimeout  time.Duration
}

// Controller owns the engine and serializes every relay transition.
type Controller struct {
	engine  *actuation.Engine
	sampler sensor.Sampler
	clock   Clock
	relay   relay.Actuator
	repo    *settings.Repository
	bus     *eventbus.Bus
	opts    Options

	// switchMu serializes engine transitions with their hardware writes.
	switchMu sync.Mutex

	mu        sync.RWMutex
	record    settings.Record
	sample    float64
	sampleAt  time.Time
	sampleErr error
}

// New creates a controller. Start must be called before Run.
func New(
	sampler sensor.Sampler,
	clk Clock,
	act relay.Actuator,
	repo *settings.Repository,
	bus *eventbus.Bus,
	opts Options,
) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 10 * time.Second
	}
	return &Controller{
		engine:  actuation.NewEngine(settings.Default().Actuation()),
		sampler: sampler,
		clock:   clk,
		relay:   act,
		repo:    repo,
		bus:     bus,
		opts:    opts,
		record:  settings.Default(),
	}
}

// Start loads the stored settings into the engine and drives the relay to
// its default off state.
func (c *Controller) Start() error {
	rec, found := c.repo.Load()
	if !found {
		log.Info().Msg("No stored settings, automatic rules disabled")
	}

	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()
	c.engine.SetConfig(rec.Actuation())

	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	c.engine.Override(actuation.Off)
	if err := c.relay.Write(actuation.Off); err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}

	cfg := c.engine.Config()
	log.Info().
		Str("name", rec.DisplayName).
		Str("turn_on", describeRule(cfg.TurnOn)).
		Str("shutdown", describeRule(cfg.Shutdown)).
		Msg("Controller started")
	return nil
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", c.opts.PollInterval).Msg("Control loop started")

	for {
		c.refreshClock(ctx)
		c.Poll(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Control loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll takes one sample and runs one engine tick. A failed sample skips
// the tick and leaves the relay untouched.
func (c *Controller) Poll(ctx context.Context) actuation.Decision {
	value, err := c.sampler.Sample(ctx)
	at := c.clock.Time()

	c.mu.Lock()
	c.sampleAt = at
	c.sampleErr = err
	if err == nil {
		c.sample = value
	}
	c.mu.Unlock()

	c.bus.Publish(eventbus.EventTypeSample, eventbus.SampleTaken{Value: value, At: at, Err: err})

	if err != nil {
		log.Warn().Err(err).Msg("Sampling failed, skipping tick")
		state := c.engine.State()
		return actuation.Decision{Previous: state, State: state}
	}

	now := c.clock.Now()

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	d := c.engine.Tick(value, now)
	log.Debug().
		Float64("sample", value).
		Str("time", now.Time.String()).
		Bool("synced", now.Synced).
		Str("state", d.State.String()).
		Msg("Tick")

	if !d.Changed {
		return d
	}

	if err := c.relay.Write(d.State); err != nil {
		// Keep the engine in line with the hardware so the next tick retries.
		c.engine.Override(d.Previous)
		log.Error().Err(err).Str("state", d.State.String()).Msg("Failed to switch relay")
		return actuation.Decision{Previous: d.Previous, State: d.Previous, Sample: value}
	}

	log.Info().
		Str("rule", d.Rule).
		Float64("sample", value).
		Str("state", d.State.String()).
		Msg("Relay switched automatically")

	c.bus.Publish(eventbus.EventTypeRelay, eventbus.RelayChanged{
		Previous: d.Previous,
		State:    d.State,
		Source:   eventbus.SourceAuto,
		Rule:     d.Rule,
		Sample:   value,
	})
	return d
}

// SetRelay applies a manual override. It reports whether the state changed.
func (c *Controller) SetRelay(s actuation.State, source string) (bool, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	prev := c.engine.State()
	if prev == s {
		return false, nil
	}
	if err := c.relay.Write(s); err != nil {
		return false, fmt.Errorf("failed to switch relay: %w", err)
	}
	c.engine.Override(s)

	log.Info().Str("source", source).Str("state", s.String()).Msg("Relay switched manually")

	c.bus.Publish(eventbus.EventTypeRelay, eventbus.RelayChanged{
		Previous: prev,
		State:    s,
		Source:   source,
	})
	return true, nil
}

// Apply persists rec and then makes it visible to the engine.
func (c *Controller) Apply(rec settings.Record, source string) error {
	if rec.DisplayName == "" {
		rec.DisplayName = settings.DefaultDisplayName
	}

	version, err := c.repo.Save(rec)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()

	cfg := rec.Actuation()
	c.engine.SetConfig(cfg)

	log.Info().
		Str("source", source).
		Int64("version", version).
		Str("turn_on", describeRule(cfg.TurnOn)).
		Str("shutdown", describeRule(cfg.Shutdown)).
		Msg("Settings applied")

	c.bus.Publish(eventbus.EventTypeConfig, eventbus.ConfigChanged{Version: version, Source: source})
	return nil
}

// Reset deletes the stored settings and disables every automatic rule.
// The relay state is left as is.
func (c *Controller) Reset(source string) error {
	if err := c.repo.Reset(); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}

	rec := settings.Default()
	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()
	c.engine.SetConfig(rec.Actuation())

	log.Warn().Str("source", source).Msg("Settings reset to defaults")

	c.bus.Publish(eventbus.EventTypeConfig, eventbus.ConfigChanged{Source: source, Reset: true})
	return nil
}

// Settings returns the record currently in effect.
func (c *Controller) Settings() settings.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record
}

// State returns the current relay state.
func (c *Controller) State() actuation.State {
	return c.engine.State()
}

func (c *Controller) refreshClock(ctx context.Context) {
	if c.opts.ClockRefresh <= 0 || !c.clock.NeedsSync(c.opts.ClockRefresh) {
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, c.opts.SyncTimeout)
	defer cancel()

	res, err := c.clock.Sync(syncCtx)
	if err != nil {
		log.Warn().Err(err).Msg("Time sync failed")
	} else {
		log.Info().Str("server", res.Server).Dur("offset", res.Offset).Msg("Time synchronized")
	}
	c.bus.Publish(eventbus.EventTypeClock, eventbus.ClockSynced{Server: res.Server, Offset: res.Offset, Err: err})
}

func describeRule(r actuation.Rule) string {
	if !r.Active() {
		return "disabled"
	}
	s := fmt.Sprintf("%g", r.Threshold)
	if r.Window != nil {
		s += " @ " + r.Window.String()
	}
	return s
}
