package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/config"
)

func TestNew_Drivers(t *testing.T) {
	a, err := New(config.RelayConfig{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New(memory) error: %v", err)
	}
	if _, ok := a.(*Memory); !ok {
		t.Errorf("New(memory) = %T, want *Memory", a)
	}

	if _, err := New(config.RelayConfig{Driver: "solenoid"}); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	if m.State() != actuation.Off {
		t.Fatal("memory relay should start off")
	}

	if err := m.Write(actuation.On); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if m.State() != actuation.On {
		t.Error("State() should be on after write")
	}

	m.FailWith(errors.New("coil open"))
	if err := m.Write(actuation.Off); err == nil {
		t.Error("Write() should return injected error")
	}
	if m.State() != actuation.On {
		t.Error("failed write must not change state")
	}

	m.FailWith(nil)
	_ = m.Write(actuation.Off)

	writes := m.Writes()
	if len(writes) != 2 || writes[0] != actuation.On || writes[1] != actuation.Off {
		t.Errorf("Writes() = %v, want [on off]", writes)
	}
}

func TestPressFilter(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := pressFilter{debounce: time.Second}

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{200 * time.Millisecond, false},
		{900 * time.Millisecond, false},
		{1100 * time.Millisecond, true},
		{2200 * time.Millisecond, true},
	}
	for _, s := range steps {
		if got := f.accept(base.Add(s.offset)); got != s.want {
			t.Errorf("accept(+%s) = %v, want %v", s.offset, got, s.want)
		}
	}
}

func TestWatchButton_NoPin(t *testing.T) {
	called := false
	err := WatchButton(context.Background(), config.ButtonConfig{}, func() { called = true })
	if err != nil {
		t.Errorf("WatchButton() without pin error: %v", err)
	}
	if called {
		t.Error("onPress should not be called")
	}
}
