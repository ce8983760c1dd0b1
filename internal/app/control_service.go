package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/config"
	"github.com/dokzlo13/relayd/internal/control"
	"github.com/dokzlo13/relayd/internal/eventbus"
	"github.com/dokzlo13/relayd/internal/ledger"
	"github.com/dokzlo13/relayd/internal/relay"
)

// ControlService runs the control loop, the reset button watcher and the
// ledger retention cleanup.
type ControlService struct {
	cfg    *config.Config
	ctrl   *control.Controller
	ledger *ledger.Ledger

	ready atomic.Bool
	done  chan struct{}
}

// NewControlService creates a new ControlService.
func NewControlService(cfg *config.Config, ctrl *control.Controller, l *ledger.Ledger) *ControlService {
	return &ControlService{
		cfg:    cfg,
		ctrl:   ctrl,
		ledger: l,
		done:   make(chan struct{}),
	}
}

// Start loads settings, drives the relay to its initial state and starts
// the background loops.
func (s *ControlService) Start(ctx context.Context) error {
	if err := s.ctrl.Start(); err != nil {
		return err
	}

	go func() {
		defer close(s.done)
		s.ctrl.Run(ctx)
	}()

	go func() {
		err := relay.WatchButton(ctx, s.cfg.Button, func() {
			if err := s.ctrl.Reset(eventbus.SourceButton); err != nil {
				log.Error().Err(err).Msg("Button reset failed")
			}
		})
		if err != nil {
			// The relay keeps working without the button.
			log.Error().Err(err).Str("pin", s.cfg.Button.Pin).Msg("Reset button unavailable")
		}
	}()

	go s.ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), s.cfg.Ledger.Retention())

	s.ready.Store(true)
	return nil
}

// Ready reports whether the controller started.
func (s *ControlService) Ready() bool {
	return s.ready.Load()
}

// Wait blocks until the control loop exits or timeout elapses.
func (s *ControlService) Wait(timeout time.Duration) {
	if !s.ready.Load() {
		return
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
		log.Warn().Msg("Control loop did not stop in time")
	}
}
