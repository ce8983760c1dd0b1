package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/eventbus"
)

// Recorder appends bus events to the ledger. Samples are not recorded.
type Recorder struct {
	ledger *Ledger
}

// NewRecorder creates a recorder for l.
func NewRecorder(l *Ledger) *Recorder {
	return &Recorder{ledger: l}
}

// Subscribe registers the recorder on bus.
func (r *Recorder) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeRelay, r.handle)
	bus.Subscribe(eventbus.EventTypeConfig, r.handle)
	bus.Subscribe(eventbus.EventTypeClock, r.handle)
}

func (r *Recorder) handle(e eventbus.Event) {
	eventType, source, payload, ok := entryFor(e)
	if !ok {
		return
	}
	if _, err := r.ledger.Append(eventType, source, payload); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to record event")
	}
}

func entryFor(e eventbus.Event) (EventType, string, map[string]any, bool) {
	switch p := e.Data.(type) {
	case eventbus.RelayChanged:
		payload := map[string]any{
			"previous": p.Previous.String(),
			"state":    p.State.String(),
		}
		if p.Rule != "" {
			payload["rule"] = p.Rule
			payload["sample"] = p.Sample
		}
		return EventRelaySwitched, p.Source, payload, true

	case eventbus.ConfigChanged:
		if p.Reset {
			return EventConfigReset, p.Source, nil, true
		}
		return EventConfigApplied, p.Source, map[string]any{"version": p.Version}, true

	case eventbus.ClockSynced:
		// Failed attempts are only logged.
		if p.Err != nil {
			return "", "", nil, false
		}
		return EventClockSynced, "ntp", map[string]any{
			"server":    p.Server,
			"offset_ms": p.Offset.Milliseconds(),
		}, true
	}
	return "", "", nil, false
}

// RunCleanup deletes entries older than retention every interval until
// ctx is cancelled.
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
