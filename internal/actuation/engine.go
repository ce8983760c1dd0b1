package actuation

import (
	"sync"
	"sync/atomic"
)

// EvaluateTick returns the next actuator state for one polling tick.
// It performs no I/O; an inactive rule never changes the state.
func EvaluateTick(sample float64, now Now, cfg Config, current State) State {
	next, _ := evaluate(sample, now, cfg, current)
	return next
}

func evaluate(sample float64, now Now, cfg Config, current State) (State, string) {
	shouldTurnOn := cfg.TurnOn.Active() &&
		sample <= cfg.TurnOn.Threshold &&
		windowAllows(cfg.TurnOn.Window, now)

	shouldShutdown := cfg.Shutdown.Active() &&
		sample >= cfg.Shutdown.Threshold &&
		windowAllows(cfg.Shutdown.Window, now)

	if shouldTurnOn && current == Off {
		return On, RuleTurnOn
	}
	if shouldShutdown && current == On {
		return Off, RuleShutdown
	}
	return current, ""
}

// windowAllows gates a rule on its window. Without a trusted clock a
// windowed rule cannot be satisfied.
func windowAllows(w *Window, now Now) bool {
	if w == nil {
		return true
	}
	if !now.Synced {
		return false
	}
	return w.Contains(now.Time)
}

// Decision is the outcome of Engine.Tick.
type Decision struct {
	Previous State
	State    State
	Changed  bool
	Rule     string // rule that fired, empty when unchanged
	Sample   float64
}

// Engine owns the automatic actuation config and the current actuator
// state for a single relay.
//
// The config is replaced as a whole, so a tick never observes a
// partially applied config. Tick and Override are serialized.
type Engine struct {
	cfg atomic.Pointer[Config]

	mu    sync.Mutex
	state State
}

// NewEngine creates an engine with the actuator off.
func NewEngine(cfg Config) *Engine {
	e := &Engine{state: Off}
	e.SetConfig(cfg)
	return e
}

// SetConfig atomically replaces the rules used by subsequent ticks.
func (e *Engine) SetConfig(cfg Config) {
	c := cfg
	e.cfg.Store(&c)
}

// Config returns the rules currently in effect.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// State returns the current actuator state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Tick evaluates the rules against a sample and commits the result.
func (e *Engine) Tick(sample float64, now Now) Decision {
	cfg := e.Config()

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.state
	next, rule := evaluate(sample, now, cfg, prev)
	e.state = next

	return Decision{
		Previous: prev,
		State:    next,
		Changed:  next != prev,
		Rule:     rule,
		Sample:   sample,
	}
}

// Override sets the state from an external command and returns the
// previous state.
func (e *Engine) Override(s State) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.state
	e.state = s
	return prev
}
