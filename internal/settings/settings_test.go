package settings

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/db"
	"github.com/dokzlo13/relayd/internal/storage"
)

func TestFromForm(t *testing.T) {
	tests := []struct {
		name  string
		form  url.Values
		check func(t *testing.T, r Record)
	}{
		{
			name: "empty_form_disables_everything",
			form: url.Values{},
			check: func(t *testing.T, r Record) {
				if r.TurnOnEnabled || r.ShutdownEnabled || r.TurnOnWindowEnabled || r.ShutdownWindowEnabled {
					t.Errorf("rules should be disabled: %+v", r)
				}
				if r.DisplayName != DefaultDisplayName {
					t.Errorf("DisplayName = %q", r.DisplayName)
				}
			},
		},
		{
			name: "full_form",
			form: url.Values{
				FieldSSID:                  {"home"},
				FieldPassword:              {"secret"},
				FieldDisplayName:           {"Porch"},
				FieldTurnOnEnabled:         {"off", "on"},
				FieldTurnOnThreshold:       {"5.5"},
				FieldTurnOnWindowEnabled:   {"off", "on"},
				FieldTurnOnWindowBegin:     {"18:00"},
				FieldTurnOnWindowEnd:       {"23:30"},
				FieldShutdownEnabled:       {"off", "on"},
				FieldShutdownThreshold:     {"40"},
				FieldShutdownWindowEnabled: {"off"},
				FieldShutdownWindowBegin:   {"06:00"},
				FieldShutdownWindowEnd:     {"09:00"},
			},
			check: func(t *testing.T, r Record) {
				if r.SSID != "home" || r.Password != "secret" || r.DisplayName != "Porch" {
					t.Errorf("identity fields = %+v", r)
				}
				if !r.TurnOnEnabled || r.TurnOnThreshold != 5.5 {
					t.Errorf("turn on = %v %v", r.TurnOnEnabled, r.TurnOnThreshold)
				}
				if !r.TurnOnWindowEnabled || r.TurnOnWindowStart != "18:00" || r.TurnOnWindowEnd != "23:30" {
					t.Errorf("turn on window = %v %q %q", r.TurnOnWindowEnabled, r.TurnOnWindowStart, r.TurnOnWindowEnd)
				}
				if !r.ShutdownEnabled || r.ShutdownThreshold != 40 {
					t.Errorf("shutdown = %v %v", r.ShutdownEnabled, r.ShutdownThreshold)
				}
				if r.ShutdownWindowEnabled {
					t.Error("unchecked shutdown window should be disabled")
				}
			},
		},
		{
			name: "unchecked_rule_keeps_threshold",
			form: url.Values{
				FieldTurnOnEnabled:   {"off"},
				FieldTurnOnThreshold: {"5"},
			},
			check: func(t *testing.T, r Record) {
				if r.TurnOnEnabled {
					t.Error("unchecked rule should be disabled")
				}
				if r.TurnOnThreshold != 5 {
					t.Errorf("threshold = %v, want 5", r.TurnOnThreshold)
				}
			},
		},
		{
			name: "threshold_without_flag_positive",
			form: url.Values{FieldTurnOnThreshold: {"3"}, FieldShutdownThreshold: {"0"}},
			check: func(t *testing.T, r Record) {
				if !r.TurnOnEnabled {
					t.Error("positive threshold without flag should enable the rule")
				}
				if r.ShutdownEnabled {
					t.Error("zero threshold without flag should leave the rule disabled")
				}
			},
		},
		{
			name: "unparseable_threshold",
			form: url.Values{FieldTurnOnEnabled: {"on"}, FieldTurnOnThreshold: {"dark"}},
			check: func(t *testing.T, r Record) {
				if r.TurnOnEnabled {
					t.Error("unparseable threshold should disable the rule")
				}
			},
		},
		{
			name: "nan_threshold",
			form: url.Values{FieldShutdownEnabled: {"on"}, FieldShutdownThreshold: {"NaN"}},
			check: func(t *testing.T, r Record) {
				if r.ShutdownEnabled {
					t.Error("NaN threshold should disable the rule")
				}
			},
		},
		{
			name: "window_missing_end",
			form: url.Values{
				FieldTurnOnEnabled:       {"on"},
				FieldTurnOnThreshold:     {"5"},
				FieldTurnOnWindowEnabled: {"on"},
				FieldTurnOnWindowBegin:   {"18:00"},
			},
			check: func(t *testing.T, r Record) {
				if r.TurnOnWindowEnabled || r.TurnOnWindowStart != "" || r.TurnOnWindowEnd != "" {
					t.Errorf("half window should be reset: %v %q %q", r.TurnOnWindowEnabled, r.TurnOnWindowStart, r.TurnOnWindowEnd)
				}
				if !r.TurnOnEnabled {
					t.Error("threshold rule should survive an invalid window")
				}
			},
		},
		{
			name: "window_malformed",
			form: url.Values{
				FieldShutdownWindowEnabled: {"on"},
				FieldShutdownWindowBegin:   {"6:00"},
				FieldShutdownWindowEnd:     {"09:00"},
			},
			check: func(t *testing.T, r Record) {
				if r.ShutdownWindowEnabled || r.ShutdownWindowStart != "" || r.ShutdownWindowEnd != "" {
					t.Errorf("malformed window should be reset: %+v", r)
				}
			},
		},
		{
			name: "window_without_flag",
			form: url.Values{
				FieldTurnOnWindowBegin: {"22:00"},
				FieldTurnOnWindowEnd:   {"06:00"},
			},
			check: func(t *testing.T, r Record) {
				if !r.TurnOnWindowEnabled {
					t.Error("a valid pair without flag should enable the window")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, FromForm(tt.form))
		})
	}
}

func TestRecord_Actuation(t *testing.T) {
	r := Record{
		TurnOnEnabled:         true,
		TurnOnThreshold:       5,
		TurnOnWindowEnabled:   true,
		TurnOnWindowStart:     "22:00",
		TurnOnWindowEnd:       "06:00",
		ShutdownEnabled:       true,
		ShutdownThreshold:     30,
		ShutdownWindowEnabled: true,
		ShutdownWindowStart:   "bogus",
		ShutdownWindowEnd:     "06:00",
	}

	cfg := r.Actuation()
	if !cfg.TurnOn.Enabled || cfg.TurnOn.Threshold != 5 {
		t.Errorf("TurnOn = %+v", cfg.TurnOn)
	}
	if cfg.TurnOn.Window == nil || cfg.TurnOn.Window.String() != "22:00-06:00" {
		t.Errorf("TurnOn.Window = %v", cfg.TurnOn.Window)
	}
	if cfg.Shutdown.Window != nil {
		t.Errorf("invalid stored window should be dropped, got %v", cfg.Shutdown.Window)
	}

	if got := Default().Actuation(); got.TurnOn.Active() || got.Shutdown.Active() {
		t.Errorf("Default() rules should be inactive: %+v", got)
	}
}

func TestFromForm_DrivesEngine(t *testing.T) {
	rec := FromForm(url.Values{
		FieldTurnOnEnabled:   {"on"},
		FieldTurnOnThreshold: {"5.0"},
	})
	e := actuation.NewEngine(rec.Actuation())

	for i, s := range []float64{6.0, 5.0, 4.0} {
		d := e.Tick(s, actuation.Now{})
		if i == 0 && d.State != actuation.Off {
			t.Errorf("sample %v: state = %v, want off", s, d.State)
		}
		if i > 0 && d.State != actuation.On {
			t.Errorf("sample %v: state = %v, want on", s, d.State)
		}
	}
}

func openRepository(t *testing.T) (*Repository, *storage.Store) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "settings.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	store := storage.NewStore(database.DB)
	return NewRepository(store), store
}

func TestRepository_Lifecycle(t *testing.T) {
	repo, _ := openRepository(t)

	rec, ok := repo.Load()
	if ok {
		t.Fatal("Load() on empty store should report absence")
	}
	if rec != Default() {
		t.Errorf("Load() = %+v, want defaults", rec)
	}

	want := Record{SSID: "home", DisplayName: "Lamp", TurnOnEnabled: true, TurnOnThreshold: 4}
	version, err := repo.Save(want)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if version != 1 {
		t.Errorf("Save() version = %d, want 1", version)
	}

	got, ok := repo.Load()
	if !ok || got != want {
		t.Errorf("Load() = %+v, %v; want %+v", got, ok, want)
	}

	if err := repo.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if _, ok := repo.Load(); ok {
		t.Error("Load() after Reset should report absence")
	}
}

func TestRepository_CorruptFallsBackToDefault(t *testing.T) {
	repo, store := openRepository(t)
	if _, err := store.Set(kind, recordID, []byte(`{"turn_on_enabled": "yes"`)); err != nil {
		t.Fatal(err)
	}

	rec, ok := repo.Load()
	if ok {
		t.Error("corrupt record should not load")
	}
	if rec.Actuation().TurnOn.Active() {
		t.Error("corrupt record should leave automatic rules disabled")
	}
}
