package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/control"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	templates map[string]*template.Template
}

func loadPages() *pages {
	p := &pages{templates: make(map[string]*template.Template)}
	for _, name := range []string{"home", "config", "status", "redirect"} {
		p.templates[name] = template.Must(
			template.New("layout.html").ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"),
		)
	}
	return p
}

// render executes into a buffer first so a template error never leaves a
// half-written page.
func (p *pages) render(w http.ResponseWriter, name string, data any) {
	t, ok := p.templates[name]
	if !ok {
		http.Error(w, "Unknown page", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		log.Error().Err(err).Str("page", name).Msg("Failed to render page")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

type homeView struct {
	DisplayName string
	On          bool
}

type statusView struct {
	DisplayName string
	State       string
	Sample      string
	SampleAt    string
	SampleError string
	Time        string
	TimeSynced  bool
	TurnOn      string
	Shutdown    string
}

func newStatusView(st control.Status) statusView {
	v := statusView{
		DisplayName: st.DisplayName,
		State:       st.State.String(),
		Sample:      "N/A",
		SampleAt:    "N/A",
		SampleError: st.SampleError,
		Time:        st.Time,
		TimeSynced:  st.TimeSynced,
	}
	if st.Sample != nil {
		v.Sample = fmt.Sprintf("%.2f", *st.Sample)
	}
	if st.SampleAt != nil {
		v.SampleAt = st.SampleAt.Format(time.DateTime)
	}

	cfg := st.Settings.Actuation()
	v.TurnOn = describe(cfg.TurnOn, "at or below")
	v.Shutdown = describe(cfg.Shutdown, "at or above")
	return v
}

func describe(r actuation.Rule, cmp string) string {
	if !r.Active() {
		return "disabled"
	}
	s := fmt.Sprintf("%s %g", cmp, r.Threshold)
	if r.Window != nil {
		s += ", between " + r.Window.Start.String() + " and " + r.Window.End.String()
	}
	return s
}
