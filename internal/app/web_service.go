package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/config"
	"github.com/dokzlo13/relayd/internal/control"
	"github.com/dokzlo13/relayd/internal/ledger"
	"github.com/dokzlo13/relayd/internal/metrics"
	"github.com/dokzlo13/relayd/internal/web"
)

// WebService wraps the configuration web server.
type WebService struct {
	cfg    *config.Config
	server *web.Server
}

// NewWebService creates a new WebService.
func NewWebService(cfg *config.Config, ctrl *control.Controller, l *ledger.Ledger, m *metrics.Metrics) *WebService {
	server := web.NewServer(web.Options{
		Host:         cfg.Web.Host,
		Port:         cfg.Web.Port,
		RateLimitRPS: cfg.Web.RateLimitRPS,
		AccessLog:    cfg.Web.AccessLog,
		Instrumenter: m,
	}, ctrl, l)
	return &WebService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the web server if enabled. A listen failure is fatal since
// the web UI is the only way to configure the device.
func (s *WebService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.Web.Enabled {
		log.Debug().Msg("Web server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Web server error")
			onFatalError(err)
		}
	}()
}
