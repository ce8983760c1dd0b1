// Package clock provides the wall clock used by the control loop together
// with the time-sync trust flag that gates windowed rules.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/actuation"
)

// Source names.
const (
	SourceSystem = "system"
	SourceNTP    = "ntp"
)

// QueryFunc returns the offset of the local clock against server.
type QueryFunc func(ctx context.Context, server string, timeout time.Duration) (time.Duration, error)

// Result describes a successful sync.
type Result struct {
	Server string
	Offset time.Duration
}

// Clock returns local time of day and whether it can be trusted.
// With the system source the host clock is trusted from the start; with
// the ntp source the clock becomes trusted on the first successful query
// and stays trusted afterwards.
type Clock struct {
	source  string
	servers []string
	timeout time.Duration
	loc     *time.Location
	query   QueryFunc
	now     func() time.Time

	mu       sync.RWMutex
	offset   time.Duration
	synced   bool
	lastSync time.Time
}

// New creates a clock. An unknown timezone falls back to UTC.
func New(source, timezone string, servers []string, timeout time.Duration) *Clock {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", timezone).Msg("Failed to load timezone, using UTC")
		loc = time.UTC
	}

	c := &Clock{
		source:  source,
		servers: servers,
		timeout: timeout,
		loc:     loc,
		query:   queryNTP,
		now:     time.Now,
	}
	if source == SourceSystem {
		c.synced = true
		c.lastSync = c.now()
	}
	return c
}

// WithQuery replaces the NTP query function, for tests and alternative sources.
func (c *Clock) WithQuery(q QueryFunc) *Clock {
	c.query = q
	return c
}

// WithNow replaces the host clock reading.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

// Source returns the configured source name.
func (c *Clock) Source() string {
	return c.source
}

// Location returns the timezone used for time of day.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Time returns the corrected wall-clock time in the configured timezone.
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return c.now().Add(offset).In(c.loc)
}

// Now returns the engine's view of the clock.
func (c *Clock) Now() actuation.Now {
	return actuation.Now{
		Time:   actuation.At(c.Time()),
		Synced: c.Synced(),
	}
}

// Synced reports whether the clock resolved at least once.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// LastSync returns the time of the last successful sync.
func (c *Clock) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}

// NeedsSync reports whether a sync is due after interval.
func (c *Clock) NeedsSync(interval time.Duration) bool {
	if c.source != SourceNTP {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.synced || c.now().Sub(c.lastSync) >= interval
}

// Sync queries the servers in order and applies the first valid offset.
// On failure the previous offset and trust flag are kept.
func (c *Clock) Sync(ctx context.Context) (Result, error) {
	if c.source != SourceNTP {
		return Result{}, nil
	}
	if len(c.servers) == 0 {
		return Result{}, errors.New("no ntp servers configured")
	}

	var errs []error
	for _, server := range c.servers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		offset, err := c.query(ctx, server, c.timeout)
		if err != nil {
			log.Debug().Err(err).Str("server", server).Msg("NTP query failed")
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}

		c.mu.Lock()
		c.offset = offset
		c.synced = true
		c.lastSync = c.now()
		c.mu.Unlock()

		return Result{Server: server, Offset: offset}, nil
	}

	return Result{}, fmt.Errorf("time sync failed: %w", errors.Join(errs...))
}

func queryNTP(ctx context.Context, server string, timeout time.Duration) (time.Duration, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}
