package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/clock"
	"github.com/dokzlo13/relayd/internal/config"
	"github.com/dokzlo13/relayd/internal/control"
	"github.com/dokzlo13/relayd/internal/db"
	"github.com/dokzlo13/relayd/internal/eventbus"
	"github.com/dokzlo13/relayd/internal/ledger"
	"github.com/dokzlo13/relayd/internal/metrics"
	"github.com/dokzlo13/relayd/internal/relay"
	"github.com/dokzlo13/relayd/internal/sensor"
	"github.com/dokzlo13/relayd/internal/settings"
	"github.com/dokzlo13/relayd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *storage.Store
	Settings *settings.Repository
	Bus      *eventbus.Bus
	Metrics  *metrics.Metrics

	// Device
	Clock    *clock.Clock
	Sampler  sensor.Sampler
	Actuator relay.Actuator

	// High-level services
	Control *ControlService
	MQTT    *MQTTService
	Web     *WebService
	Health  *HealthService

	closers []func()
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)
	s.Settings = settings.NewRepository(s.Store)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)
	s.Metrics = metrics.New()

	s.Clock = clock.New(cfg.Clock.Source, cfg.Clock.Timezone, cfg.Clock.Servers, cfg.Clock.Timeout.Duration())

	// The MQTT sensor source is fed by the MQTT client.
	var latest *sensor.Latest
	var source sensor.Sampler
	switch cfg.Sensor.Source {
	case "mqtt":
		latest = sensor.NewLatest(cfg.Sensor.MaxAge.Duration())
		source = latest
	default:
		source = sensor.NewIIO(cfg.Sensor.Path)
	}

	transform, err := sensor.NewTransform(cfg.Sensor.Transform, cfg.Sensor.Script)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("sensor: %w", err)
	}
	if lt, ok := transform.(*sensor.LuaTransform); ok {
		s.closers = append(s.closers, lt.Close)
	}
	s.Sampler = &sensor.Transformed{Source: source, Transform: transform}

	s.Actuator, err = relay.New(cfg.Relay)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("relay: %w", err)
	}

	ctrl := control.New(s.Sampler, s.Clock, s.Actuator, s.Settings, s.Bus, control.Options{
		PollInterval: cfg.Device.PollInterval.Duration(),
		ClockRefresh: cfg.Clock.RefreshInterval.Duration(),
		SyncTimeout:  cfg.Clock.Timeout.Duration() * 3,
	})

	s.Control = NewControlService(cfg, ctrl, s.Ledger)
	s.MQTT = NewMQTTService(cfg, ctrl, latest)
	s.Web = NewWebService(cfg, ctrl, s.Ledger, s.Metrics)
	s.Health = NewHealthService(cfg, s.Metrics, s.Control)

	// Subscribers must be registered before the first event is published.
	ledger.NewRecorder(s.Ledger).Subscribe(s.Bus)
	s.Metrics.Subscribe(s.Bus)
	s.MQTT.Subscribe(s.Bus)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Metrics.SetClockSynced(s.Clock.Synced())

	if err := s.Control.Start(ctx); err != nil {
		return err
	}
	s.MQTT.Start(ctx)
	s.Web.Start(ctx, onFatalError)
	s.Health.Start(ctx)

	return nil
}

// ResetSettings deletes the stored device settings.
func (s *Services) ResetSettings() error {
	return s.Settings.Reset()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Control != nil {
		s.Control.Wait(s.cfg.GetShutdownTimeout())
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Actuator != nil {
		if err := s.Actuator.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release relay")
		}
	}
	for _, c := range s.closers {
		c()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
