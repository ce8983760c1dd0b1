package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/control"
	"github.com/dokzlo13/relayd/internal/ledger"
	"github.com/dokzlo13/relayd/internal/settings"
)

type fakeController struct {
	mu       sync.Mutex
	state    actuation.State
	record   settings.Record
	applied  []settings.Record
	setErr   error
	applyErr error
}

func newFakeController() *fakeController {
	return &fakeController{record: settings.Record{DisplayName: "Porch", SSID: "home", Password: "secret"}}
}

func (f *fakeController) Status() control.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := 4.25
	return control.Status{
		DisplayName: f.record.DisplayName,
		State:       f.state,
		Sample:      &v,
		Time:        "21:30",
		TimeSynced:  true,
		Settings:    f.record,
	}
}

func (f *fakeController) Settings() settings.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record
}

func (f *fakeController) SetRelay(s actuation.State, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	changed := f.state != s
	f.state = s
	return changed, nil
}

func (f *fakeController) Apply(rec settings.Record, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.record = rec
	f.applied = append(f.applied, rec)
	return nil
}

type fakeHistory struct {
	entries []*ledger.Entry
	limit   int
	typ     ledger.EventType
}

func (f *fakeHistory) Recent(limit int) ([]*ledger.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

func (f *fakeHistory) GetByType(t ledger.EventType, limit int) ([]*ledger.Entry, error) {
	f.limit = limit
	f.typ = t
	return f.entries, nil
}

func serve(h http.Handler, method, target string, body string, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_HomeAndManualSwitch(t *testing.T) {
	ctrl := newFakeController()
	h := NewServer(Options{}, ctrl, nil).Handler()

	rec := serve(h, http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Porch") || !strings.Contains(body, "/relay_on") || strings.Contains(body, "/relay_off\" class") {
		t.Errorf("home page for off relay should offer only the on button:\n%s", body)
	}

	rec = serve(h, http.MethodGet, "/relay_on", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http-equiv=\"refresh\"") {
		t.Errorf("GET /relay_on = %d, want redirect page", rec.Code)
	}
	if ctrl.state != actuation.On {
		t.Error("relay should be on")
	}

	rec = serve(h, http.MethodGet, "/", "", "")
	if !strings.Contains(rec.Body.String(), "/relay_off") {
		t.Error("home page for on relay should offer the off button")
	}

	ctrl.setErr = errors.New("coil open")
	if rec := serve(h, http.MethodGet, "/relay_off", "", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("failed switch = %d, want 500", rec.Code)
	}
}

func TestServer_PostConfig(t *testing.T) {
	ctrl := newFakeController()
	h := NewServer(Options{}, ctrl, nil).Handler()

	if rec := serve(h, http.MethodGet, "/postconfig", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /postconfig = %d, want 405", rec.Code)
	}

	form := url.Values{
		settings.FieldSSID:                {"attic"},
		settings.FieldPassword:            {""},
		settings.FieldDisplayName:         {"Garden"},
		settings.FieldTurnOnEnabled:       {"off", "on"},
		settings.FieldTurnOnThreshold:     {"5"},
		settings.FieldTurnOnWindowEnabled: {"off", "on"},
		settings.FieldTurnOnWindowBegin:   {"21:00"},
		settings.FieldTurnOnWindowEnd:     {"23:00"},
		settings.FieldShutdownEnabled:     {"off"},
		settings.FieldShutdownThreshold:   {"8"},
	}
	rec := serve(h, http.MethodPost, "/postconfig", form.Encode(), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /postconfig = %d: %s", rec.Code, rec.Body.String())
	}
	if len(ctrl.applied) != 1 {
		t.Fatalf("applied %d records, want 1", len(ctrl.applied))
	}
	got := ctrl.applied[0]
	if got.SSID != "attic" || got.DisplayName != "Garden" || got.Password != "secret" {
		t.Errorf("applied identity = %+v, want blank password to keep stored one", got)
	}
	if !got.TurnOnEnabled || got.TurnOnThreshold != 5 || !got.TurnOnWindowEnabled || got.TurnOnWindowStart != "21:00" {
		t.Errorf("applied turn-on rule = %+v", got)
	}
	if got.ShutdownEnabled {
		t.Error("unchecked shutdown rule should be disabled")
	}

	incomplete := url.Values{settings.FieldSSID: {"attic"}}
	rec = serve(h, http.MethodPost, "/postconfig", incomplete.Encode(), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("incomplete form = %d, want 400", rec.Code)
	}

	ctrl.applyErr = errors.New("disk full")
	rec = serve(h, http.MethodPost, "/postconfig", form.Encode(), "application/x-www-form-urlencoded")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("failed apply = %d, want 500", rec.Code)
	}
}

func TestServer_ConfigPageHidesPassword(t *testing.T) {
	ctrl := newFakeController()
	h := NewServer(Options{}, ctrl, nil).Handler()

	rec := serve(h, http.MethodGet, "/config", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /config = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret") {
		t.Error("config page must not render the stored password")
	}
	if !strings.Contains(body, `value="home"`) {
		t.Error("config page should prefill the SSID")
	}
}

func TestServer_StatusPage(t *testing.T) {
	ctrl := newFakeController()
	ctrl.record.TurnOnEnabled = true
	ctrl.record.TurnOnThreshold = 5
	h := NewServer(Options{}, ctrl, nil).Handler()

	rec := serve(h, http.MethodGet, "/status", "", "")
	body := rec.Body.String()
	for _, want := range []string{"4.25", "21:30", "at or below 5"} {
		if !strings.Contains(body, want) {
			t.Errorf("status page missing %q", want)
		}
	}
}

func TestServer_API(t *testing.T) {
	ctrl := newFakeController()
	history := &fakeHistory{entries: []*ledger.Entry{{ID: "a", EventType: ledger.EventRelaySwitched}}}
	h := NewServer(Options{}, ctrl, history).Handler()

	rec := serve(h, http.MethodGet, "/api/status", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"off"`) {
		t.Errorf("GET /api/status = %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, http.MethodPut, "/api/relay", `{"state":"on"}`, "application/json")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"changed":true`) {
		t.Errorf("PUT /api/relay = %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(h, http.MethodPut, "/api/relay", `{"state":"dim"}`, "application/json"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid state = %d, want 400", rec.Code)
	}
	if rec := serve(h, http.MethodPost, "/api/relay", `{"state":"on"}`, "application/json"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/relay = %d, want 405", rec.Code)
	}

	rec = serve(h, http.MethodGet, "/api/history?limit=10000&type=relay_switched", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/history = %d", rec.Code)
	}
	if history.limit != maxHistoryLimit || history.typ != ledger.EventRelaySwitched {
		t.Errorf("history query limit=%d type=%q", history.limit, history.typ)
	}
	if rec := serve(h, http.MethodGet, "/api/history?limit=-1", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit = %d, want 400", rec.Code)
	}
}

func TestServer_RateLimit(t *testing.T) {
	ctrl := newFakeController()
	h := NewServer(Options{RateLimitRPS: 1}, ctrl, nil).Handler()

	if rec := serve(h, http.MethodGet, "/relay_on", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/relay_off", "", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", rec.Code)
	}
	// Read-only pages are not limited.
	if rec := serve(h, http.MethodGet, "/status", "", ""); rec.Code != http.StatusOK {
		t.Errorf("status page = %d, want 200", rec.Code)
	}
}

type countingInstrumenter struct {
	mu     sync.Mutex
	routes []string
}

func (c *countingInstrumenter) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.routes = append(c.routes, route)
		c.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func TestServer_InstrumentsNamedRoutes(t *testing.T) {
	inst := &countingInstrumenter{}
	h := NewServer(Options{Instrumenter: inst}, newFakeController(), nil).Handler()

	serve(h, http.MethodGet, "/status", "", "")
	serve(h, http.MethodGet, "/api/status", "", "")

	if len(inst.routes) != 2 || inst.routes[0] != "status" || inst.routes[1] != "api_status" {
		t.Errorf("instrumented routes = %v", inst.routes)
	}
}

func TestServer_NotFound(t *testing.T) {
	h := NewServer(Options{}, newFakeController(), nil).Handler()
	if rec := serve(h, http.MethodGet, "/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", rec.Code)
	}
}
