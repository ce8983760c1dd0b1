package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/eventbus"
	"github.com/dokzlo13/relayd/internal/ledger"
	"github.com/dokzlo13/relayd/internal/settings"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxFormBytes        = 16 << 10
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	s.pages.render(w, "home", homeView{
		DisplayName: st.DisplayName,
		On:          st.State == actuation.On,
	})
}

func (s *Server) relayHandler(state actuation.State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.ctrl.SetRelay(state, eventbus.SourceWeb); err != nil {
			log.Error().Err(err).Str("state", state.String()).Msg("Manual relay switch failed")
			http.Error(w, "Failed to switch relay", http.StatusInternalServerError)
			return
		}
		s.pages.render(w, "redirect", nil)
	})
}

func (s *Server) handleConfigPage(w http.ResponseWriter, r *http.Request) {
	rec := s.ctrl.Settings()
	rec.Password = ""
	s.pages.render(w, "config", rec)
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		log.Debug().Str("method", r.Method).Msg("Configuration only accepts POST")
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	for _, field := range []string{settings.FieldSSID, settings.FieldPassword, settings.FieldDisplayName} {
		if _, ok := r.PostForm[field]; !ok {
			log.Warn().Str("field", field).Msg("Configuration form incomplete")
			http.Error(w, "Missing field "+field, http.StatusBadRequest)
			return
		}
	}

	rec := settings.FromForm(r.PostForm)
	if rec.Password == "" {
		// The form never echoes the stored password; blank keeps it.
		rec.Password = s.ctrl.Settings().Password
	}

	if err := s.ctrl.Apply(rec, eventbus.SourceWeb); err != nil {
		log.Error().Err(err).Msg("Failed to apply configuration")
		http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}
	s.pages.render(w, "redirect", nil)
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	s.pages.render(w, "status", newStatusView(st))
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []*ledger.Entry{})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		entries []*ledger.Entry
		err     error
	)
	if t := r.URL.Query().Get("type"); t != "" {
		entries, err = s.history.GetByType(ledger.EventType(t), limit)
	} else {
		entries, err = s.history.Recent(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type relayRequest struct {
	State string `json:"state"`
}

type relayResponse struct {
	State   actuation.State `json:"state"`
	Changed bool            `json:"changed"`
}

func (s *Server) handleAPIRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	state, err := actuation.ParseState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	changed, err := s.ctrl.SetRelay(state, eventbus.SourceWeb)
	if err != nil {
		log.Error().Err(err).Str("state", state.String()).Msg("API relay switch failed")
		writeError(w, http.StatusInternalServerError, "failed to switch relay")
		return
	}
	writeJSON(w, http.StatusOK, relayResponse{State: state, Changed: changed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
