// Package sensor produces the scalar samples fed to the actuation engine.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sampler produces one reading per call.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// ErrNoSample is returned by Latest before the first value arrives.
var ErrNoSample = errors.New("no sample received yet")

// IIO reads a raw ADC value from a Linux IIO sysfs attribute such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type IIO struct {
	path string
}

// NewIIO creates a sampler reading path on every call.
func NewIIO(path string) *IIO {
	return &IIO{path: path}
}

// Sample reads and parses the attribute.
func (s *IIO) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read adc: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid adc value %q: %w", strings.TrimSpace(string(data)), err)
	}
	return v, nil
}

// Latest holds the most recent pushed value, e.g. from an MQTT topic.
type Latest struct {
	maxAge time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	value float64
	at    time.Time
}

// NewLatest creates an empty holder. A zero maxAge never expires values.
func NewLatest(maxAge time.Duration) *Latest {
	return &Latest{maxAge: maxAge, now: time.Now}
}

// Update stores a new value.
func (l *Latest) Update(v float64, at time.Time) {
	l.mu.Lock()
	l.value = v
	l.at = at
	l.mu.Unlock()
}

// Sample returns the last value unless none arrived or it is stale.
func (l *Latest) Sample(ctx context.Context) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.at.IsZero() {
		return 0, ErrNoSample
	}
	if l.maxAge > 0 {
		if age := l.now().Sub(l.at); age > l.maxAge {
			return 0, fmt.Errorf("sample is stale: age %s exceeds %s", age.Round(time.Second), l.maxAge)
		}
	}
	return l.value, nil
}

// Transformed applies a transform to every reading of a source.
type Transformed struct {
	Source    Sampler
	Transform Transform
}

// Sample reads the source and converts the raw value.
func (t *Transformed) Sample(ctx context.Context) (float64, error) {
	raw, err := t.Source.Sample(ctx)
	if err != nil {
		return 0, err
	}
	return t.Transform.Apply(ctx, raw)
}
