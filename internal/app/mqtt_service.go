package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/config"
	"github.com/dokzlo13/relayd/internal/control"
	"github.com/dokzlo13/relayd/internal/eventbus"
	"github.com/dokzlo13/relayd/internal/mqtt"
	"github.com/dokzlo13/relayd/internal/sensor"
)

// MQTTService wraps the MQTT client.
type MQTTService struct {
	cfg    *config.Config
	client *mqtt.Client
}

// NewMQTTService creates a new MQTTService. latest is fed from the sensor
// topic when the sensor source is mqtt.
func NewMQTTService(cfg *config.Config, ctrl *control.Controller, latest *sensor.Latest) *MQTTService {
	if !cfg.MQTT.Enabled {
		return &MQTTService{cfg: cfg}
	}

	sensorTopic := ""
	if latest != nil {
		sensorTopic = cfg.Sensor.Topic
	}
	client := mqtt.New(cfg.MQTT, sensorTopic, latest)
	client.SetRelay(ctrl)
	return &MQTTService{cfg: cfg, client: client}
}

// Subscribe forwards relay and sample events to the broker.
func (s *MQTTService) Subscribe(bus *eventbus.Bus) {
	if s.client != nil {
		s.client.Subscribe(bus)
	}
}

// Start connects in the background; the client retries until the broker
// is reachable.
func (s *MQTTService) Start(ctx context.Context) {
	if s.client == nil {
		log.Debug().Msg("MQTT disabled")
		return
	}

	go func() {
		if err := s.client.Connect(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("MQTT connect failed")
		}
	}()
}

// Close disconnects from the broker.
func (s *MQTTService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
