package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/config"
	"github.com/dokzlo13/relayd/internal/eventbus"
	"github.com/dokzlo13/relayd/internal/sensor"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    actuation.State
		wantErr bool
	}{
		{payload: "ON", want: actuation.On},
		{payload: "off", want: actuation.Off},
		{payload: " 1\n", want: actuation.On},
		{payload: "false", want: actuation.Off},
		{payload: `{"state":"on"}`, want: actuation.On},
		{payload: `{"state":"OFF"}`, want: actuation.Off},
		{payload: "toggle", wantErr: true},
		{payload: `{"state":`, wantErr: true},
		{payload: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCommand([]byte(tt.payload))
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCommand(%q) = %v, want error", tt.payload, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseCommand(%q) = %v, %v; want %v", tt.payload, got, err, tt.want)
		}
	}
}

func TestParseSample(t *testing.T) {
	tests := []struct {
		payload string
		want    float64
		wantErr bool
	}{
		{payload: "4.5", want: 4.5},
		{payload: " 512 ", want: 512},
		{payload: `{"value": 7.25}`, want: 7.25},
		{payload: `{"value": 0}`, want: 0},
		{payload: `{"lux": 3}`, wantErr: true},
		{payload: "NaN", wantErr: true},
		{payload: "dark", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSample([]byte(tt.payload))
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSample(%q) = %v, want error", tt.payload, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseSample(%q) = %v, %v; want %v", tt.payload, got, err, tt.want)
		}
	}
}

type fakeRelay struct {
	mu      sync.Mutex
	state   actuation.State
	sources []string
	err     error
}

func (f *fakeRelay) SetRelay(s actuation.State, source string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.sources = append(f.sources, source)
	changed := f.state != s
	f.state = s
	return changed, nil
}

func (f *fakeRelay) State() actuation.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type published struct {
	topic    string
	retained bool
	payload  string
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) publish(topic string, retained bool, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{topic, retained, string(payload)})
	return nil
}

func (r *recorder) snapshot() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]published, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func newTestClient(latest *sensor.Latest) (*Client, *fakeRelay, *recorder) {
	c := New(config.MQTTConfig{Prefix: "garden"}, "garden/lux", latest)
	rel := &fakeRelay{}
	rec := &recorder{}
	c.SetRelay(rel)
	c.publish = rec.publish
	return c, rel, rec
}

func TestClient_Commands(t *testing.T) {
	c, rel, rec := newTestClient(nil)

	c.handleMessage("garden/set", []byte("ON"))
	if rel.State() != actuation.On {
		t.Fatal("command should switch relay on")
	}
	if len(rel.sources) != 1 || rel.sources[0] != eventbus.SourceMQTT {
		t.Errorf("sources = %v, want [mqtt]", rel.sources)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("changed state is published via the bus, got direct publish %v", got)
	}

	// Unchanged state is echoed back.
	c.handleMessage("garden/set", []byte("on"))
	got := rec.snapshot()
	if len(got) != 1 || got[0].topic != "garden/state" || got[0].payload != "ON" || !got[0].retained {
		t.Errorf("echo = %+v, want retained ON on garden/state", got)
	}

	c.handleMessage("garden/set", []byte("maybe"))
	if rel.State() != actuation.On {
		t.Error("invalid command must be ignored")
	}

	rel.err = errors.New("coil open")
	c.handleMessage("garden/set", []byte("off"))
	if rel.State() != actuation.On {
		t.Error("failed command must not change state")
	}
}

func TestClient_SensorTopicFeedsLatest(t *testing.T) {
	latest := sensor.NewLatest(time.Minute)
	c, _, _ := newTestClient(latest)

	c.handleMessage("garden/lux", []byte(`{"value": 3.5}`))
	v, err := latest.Sample(context.Background())
	if err != nil || v != 3.5 {
		t.Errorf("latest = %v, %v; want 3.5", v, err)
	}

	c.handleMessage("garden/lux", []byte("garbage"))
	if v, _ := latest.Sample(context.Background()); v != 3.5 {
		t.Errorf("invalid payload should keep last value, got %v", v)
	}
}

func TestClient_PublishesBusEvents(t *testing.T) {
	c, _, rec := newTestClient(nil)
	bus := eventbus.NewWithConfig(1, 16)

	c.Subscribe(bus)
	bus.Publish(eventbus.EventTypeRelay, eventbus.RelayChanged{Previous: actuation.Off, State: actuation.On, Source: eventbus.SourceAuto})
	bus.Publish(eventbus.EventTypeSample, eventbus.SampleTaken{Value: 4.25})
	bus.Publish(eventbus.EventTypeSample, eventbus.SampleTaken{Err: errors.New("adc offline")})
	bus.Close(context.Background())

	got := rec.snapshot()
	want := []published{
		{topic: "garden/state", retained: true, payload: "ON"},
		{topic: "garden/sensor", retained: false, payload: "4.25"},
	}
	if len(got) != len(want) {
		t.Fatalf("published = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("published[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNewTopics(t *testing.T) {
	topics := NewTopics("home/relay1")
	if topics.State != "home/relay1/state" || topics.Set != "home/relay1/set" ||
		topics.Sensor != "home/relay1/sensor" || topics.Availability != "home/relay1/availability" {
		t.Errorf("NewTopics() = %+v", topics)
	}
}
