// Package web serves the relay control and configuration pages together
// with a small JSON API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/control"
	"github.com/dokzlo13/relayd/internal/ledger"
	"github.com/dokzlo13/relayd/internal/settings"
)

// Controller is the part of the control loop the web surface drives.
type Controller interface {
	Status() control.Status
	Settings() settings.Record
	SetRelay(s actuation.State, source string) (bool, error)
	Apply(rec settings.Record, source string) error
}

// History gives read access to the event ledger.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
}

// Instrumenter wraps a named route, e.g. with request metrics.
type Instrumenter interface {
	WrapHandler(route string, next http.Handler) http.Handler
}

// Options configure the server.
type Options struct {
	Host         string
	Port         int
	RateLimitRPS float64 // 0 disables rate limiting
	AccessLog    bool
	Instrumenter Instrumenter
}

// Server is the configuration web server.
type Server struct {
	addr    string
	opts    Options
	ctrl    Controller
	history History
	limiter *rate.Limiter
	pages   *pages

	httpServer *http.Server
}

// NewServer creates a server. history may be nil.
func NewServer(opts Options, ctrl Controller, history History) *Server {
	s := &Server{
		addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		opts:    opts,
		ctrl:    ctrl,
		history: history,
		pages:   loadPages(),
	}
	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}
	return s
}

// Handler builds the routed handler with recovery and optional access log.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet).Name("home")
	r.Handle("/relay_on", s.limit(s.relayHandler(actuation.On))).Methods(http.MethodGet).Name("relay_on")
	r.Handle("/relay_off", s.limit(s.relayHandler(actuation.Off))).Methods(http.MethodGet).Name("relay_off")
	r.HandleFunc("/config", s.handleConfigPage).Methods(http.MethodGet).Name("config")
	r.Handle("/postconfig", s.limit(http.HandlerFunc(s.handlePostConfig))).Name("postconfig")
	r.HandleFunc("/status", s.handleStatusPage).Methods(http.MethodGet).Name("status")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleAPIStatus).Methods(http.MethodGet).Name("api_status")
	api.HandleFunc("/history", s.handleAPIHistory).Methods(http.MethodGet).Name("api_history")
	api.Handle("/relay", s.limit(http.HandlerFunc(s.handleAPIRelay))).Methods(http.MethodPut).Name("api_relay")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log.Debug().Str("path", req.URL.Path).Msg("Page not found")
		http.NotFound(w, req)
	})

	if s.opts.Instrumenter != nil {
		r.Use(s.instrument)
	}

	var h http.Handler = r
	if s.opts.AccessLog {
		h = handlers.CombinedLoggingHandler(log.Logger.With().Str("component", "web").Logger(), h)
	}
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := "unknown"
		if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
			name = route.GetName()
		}
		s.opts.Instrumenter.WrapHandler(name, next).ServeHTTP(w, r)
	})
}

// limit rejects requests beyond the configured rate with 429.
func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Rate limit exceeded")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting web server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Web server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error().Str("panic", fmt.Sprint(v...)).Msg("Web handler panicked")
}
