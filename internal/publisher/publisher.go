// internal/publisher/publisher.go

// Package publisher delivers poll results to an MQTT broker. It hangs
// off the scheduler as a plain listener; publish failures are logged
// and never reach the poll cycle.
package publisher

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/tamzrod/renogy-poller/internal/device"
	"github.com/tamzrod/renogy-poller/internal/health"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Config is the broker configuration.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// MQTT publishes device state and availability.
type MQTT struct {
	client mqtt.Client
	cfg    Config
	log    logrus.FieldLogger
}

// New builds the client. Connection happens in Connect.
func New(cfg Config, log logrus.FieldLogger) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "renogy-poller"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "renogy"
	}

	m := &MQTT{cfg: cfg, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	m.client = mqtt.NewClient(opts)
	return m
}

// Connect dials the broker, bounded by ctx and the connect timeout.
func (m *MQTT) Connect(ctx context.Context) error {
	token := m.client.Connect()

	done := make(chan struct{})
	go func() {
		token.WaitTimeout(connectTimeout)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publisher: connecting to %s: %w", m.cfg.Broker, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// OnDeviceUpdated is the scheduler listener: publish the merged
// telemetry and the (retained) availability of the updated device.
func (m *MQTT) OnDeviceUpdated(d *device.Device) {
	log := m.log.WithField("device", d.Address)

	state, err := health.EncodeState(d)
	if err != nil {
		log.WithError(err).Error("failed to encode state payload")
		return
	}

	m.publish(log, StateTopic(m.cfg.TopicPrefix, d.Address), state, false)
	m.publish(log, AvailabilityTopic(m.cfg.TopicPrefix, d.Address),
		[]byte(health.AvailabilityPayload(health.FromDevice(d))), true)
}

func (m *MQTT) publish(log logrus.FieldLogger, topic string, payload []byte, retain bool) {
	token := m.client.Publish(topic, 0, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.WithField("topic", topic).Warn("publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.WithField("topic", topic).WithError(err).Error("publish failed")
	}
}

// StateTopic is where a device's telemetry JSON goes.
func StateTopic(prefix, addr string) string {
	return fmt.Sprintf("%s/%s/state", prefix, topicID(addr))
}

// AvailabilityTopic is where a device's online/offline marker goes.
func AvailabilityTopic(prefix, addr string) string {
	return fmt.Sprintf("%s/%s/availability", prefix, topicID(addr))
}

// topicID makes a MAC-like address safe inside an MQTT topic.
func topicID(addr string) string {
	out := make([]byte, 0, len(addr))
	for i := 0; i < len(addr); i++ {
		if addr[i] == ':' {
			continue
		}
		out = append(out, lower(addr[i]))
	}
	return string(out)
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b - 'A' + 'a'
	}
	return b
}
