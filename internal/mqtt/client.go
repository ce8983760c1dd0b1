// Package mqtt connects the relay to an MQTT broker: it publishes the relay
// state and samples, accepts on/off commands and can feed the sensor from
// a topic.
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/actuation"
	"github.com/dokzlo13/relayd/internal/config"
	"github.com/dokzlo13/relayd/internal/eventbus"
	"github.com/dokzlo13/relayd/internal/sensor"
)

const (
	qosAtLeastOnce = 1

	payloadOnline  = "online"
	payloadOffline = "offline"

	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // ms
)

// RelaySetter is the part of the controller driven by commands.
type RelaySetter interface {
	SetRelay(s actuation.State, source string) (bool, error)
	State() actuation.State
}

// Topics derived from the configured prefix.
type Topics struct {
	State        string
	Sensor       string
	Set          string
	Availability string
}

// NewTopics builds the topic set for prefix.
func NewTopics(prefix string) Topics {
	return Topics{
		State:        prefix + "/state",
		Sensor:       prefix + "/sensor",
		Set:          prefix + "/set",
		Availability: prefix + "/availability",
	}
}

// Client wraps a paho client.
type Client struct {
	cfg         config.MQTTConfig
	topics      Topics
	sensorTopic string
	latest      *sensor.Latest
	relay       RelaySetter

	client  paho.Client
	publish func(topic string, retained bool, payload []byte) error
}

// New creates a client. latest is fed from sensorTopic when both are set.
func New(cfg config.MQTTConfig, sensorTopic string, latest *sensor.Latest) *Client {
	c := &Client{
		cfg:         cfg,
		topics:      NewTopics(cfg.Prefix),
		sensorTopic: sensorTopic,
		latest:      latest,
	}
	c.publish = c.pahoPublish
	return c
}

// SetRelay attaches the command target. Must be called before Connect.
func (c *Client) SetRelay(r RelaySetter) {
	c.relay = r
}

// Topics returns the topics in use.
func (c *Client) Topics() Topics {
	return c.topics
}

// Connect dials the broker. Subscriptions are restored on every
// reconnect.
func (c *Client) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.Broker).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetMaxReconnectInterval(time.Minute).
		SetWill(c.topics.Availability, payloadOffline, qosAtLeastOnce, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username).SetPassword(c.cfg.Password)
	}

	c.client = paho.NewClient(opts)

	log.Info().Str("broker", c.cfg.Broker).Str("client_id", c.cfg.ClientID).Msg("Connecting to MQTT broker")

	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		// ConnectRetry keeps trying in the background.
		return ctx.Err()
	}
	return nil
}

func (c *Client) onConnect(client paho.Client) {
	log.Info().Str("broker", c.cfg.Broker).Msg("MQTT connected")

	if c.relay != nil {
		if t := client.Subscribe(c.topics.Set, qosAtLeastOnce, c.onMessage); t.Wait() && t.Error() != nil {
			log.Error().Err(t.Error()).Str("topic", c.topics.Set).Msg("MQTT subscribe failed")
		}
	}
	if c.sensorTopic != "" && c.latest != nil {
		if t := client.Subscribe(c.sensorTopic, qosAtLeastOnce, c.onMessage); t.Wait() && t.Error() != nil {
			log.Error().Err(t.Error()).Str("topic", c.sensorTopic).Msg("MQTT subscribe failed")
		}
	}

	// Publish from a goroutine: paho handlers must not block on tokens
	// of the same client.
	go func() {
		if err := c.publish(c.topics.Availability, true, []byte(payloadOnline)); err != nil {
			log.Warn().Err(err).Msg("Failed to publish availability")
		}
		if c.relay != nil {
			c.publishState(c.relay.State())
		}
	}()
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	c.handleMessage(msg.Topic(), msg.Payload())
}

func (c *Client) handleMessage(topic string, payload []byte) {
	switch topic {
	case c.topics.Set:
		c.handleCommand(payload)
	case c.sensorTopic:
		c.handleSample(payload)
	default:
		log.Debug().Str("topic", topic).Msg("Ignoring MQTT message")
	}
}

func (c *Client) handleCommand(payload []byte) {
	state, err := ParseCommand(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", c.topics.Set).Msg("Invalid relay command")
		return
	}
	changed, err := c.relay.SetRelay(state, eventbus.SourceMQTT)
	if err != nil {
		log.Error().Err(err).Msg("Relay command failed")
		return
	}
	if !changed {
		// Echo the unchanged state so the sender sees the outcome.
		c.publishState(state)
	}
}

func (c *Client) handleSample(payload []byte) {
	v, err := ParseSample(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", c.sensorTopic).Msg("Invalid sensor payload")
		return
	}
	c.latest.Update(v, time.Now())
}

// Subscribe publishes relay changes and samples from the bus.
func (c *Client) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeRelay, func(e eventbus.Event) {
		if p, ok := e.Data.(eventbus.RelayChanged); ok {
			c.publishState(p.State)
		}
	})
	bus.Subscribe(eventbus.EventTypeSample, func(e eventbus.Event) {
		p, ok := e.Data.(eventbus.SampleTaken)
		if !ok || p.Err != nil {
			return
		}
		payload := []byte(strconv.FormatFloat(p.Value, 'f', -1, 64))
		if err := c.publish(c.topics.Sensor, false, payload); err != nil {
			log.Debug().Err(err).Msg("Failed to publish sample")
		}
	})
}

func (c *Client) publishState(s actuation.State) {
	if err := c.publish(c.topics.State, true, StatePayload(s)); err != nil {
		log.Warn().Err(err).Str("state", s.String()).Msg("Failed to publish relay state")
	}
}

func (c *Client) pahoPublish(topic string, retained bool, payload []byte) error {
	if c.client == nil || !c.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	token := c.client.Publish(topic, qosAtLeastOnce, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Close marks the device offline and disconnects.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	if c.client.IsConnectionOpen() {
		if err := c.publish(c.topics.Availability, true, []byte(payloadOffline)); err != nil {
			log.Debug().Err(err).Msg("Failed to publish offline availability")
		}
	}
	c.client.Disconnect(disconnectQuiesce)
	log.Info().Msg("MQTT disconnected")
}
