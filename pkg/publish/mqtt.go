// Package publish mirrors readings to an MQTT broker so they can be picked up
// by home automation alongside the EnergyID webhook.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/common"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/types"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// client is the subset of mqtt.Client used here.
type client interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes readings as retained messages under a topic prefix. A zero
// MQTT is disabled and Publish is a no-op.
type MQTT struct {
	mu      sync.Mutex
	client  client
	topic   string
	timeout time.Duration
}

// NewMQTT returns a publisher using c. c is connected on first use.
func NewMQTT(c client, topic string, timeout time.Duration) *MQTT {
	return &MQTT{
		client:  c,
		topic:   topic,
		timeout: timeout,
	}
}

// Configured registers the MQTT flags. Publishing is disabled unless
// -mqtt-broker is set.
func Configured() *MQTT {
	broker := lflag.String("mqtt-broker", common.Env("MQTT_BROKER", ""), "MQTT broker to mirror readings to, e.g. tcp://127.0.0.1:1883 (empty disables)")
	topic := lflag.String("mqtt-topic", common.Env("MQTT_TOPIC", "energyid"), "MQTT topic prefix")
	clientID := lflag.String("mqtt-client-id", "energyid-monitor", "MQTT client id")
	username := lflag.String("mqtt-username", common.Env("MQTT_USERNAME", ""), "MQTT username")
	password := lflag.String("mqtt-password", common.Env("MQTT_PASSWORD", ""), "MQTT password")
	timeout := lflag.Duration("mqtt-timeout", 5*time.Second, "Timeout for MQTT connect and publish")

	m := &MQTT{}
	lflag.Do(func() {
		if *broker == "" {
			return
		}
		if *topic == "" {
			panic("mqtt-topic is required when mqtt-broker is set")
		}
		opts := mqtt.NewClientOptions().
			AddBroker(*broker).
			SetClientID(*clientID).
			SetUsername(*username).
			SetPassword(*password).
			SetConnectTimeout(*timeout).
			SetWill(*topic+"/status", "offline", 0, true).
			SetAutoReconnect(true).
			SetOrderMatters(false)
		opts.OnConnectionLost = func(_ mqtt.Client, err error) {
			log.Ctx(context.Background()).WarnContext(context.Background(), "mqtt connection lost", slog.Any("error", err))
		}
		m.client = mqtt.NewClient(opts)
		m.topic = *topic
		m.timeout = *timeout
	})
	return m
}

// Enabled reports whether a broker is configured.
func (m *MQTT) Enabled() bool {
	return m != nil && m.client != nil
}

func (m *MQTT) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(m.timeout) {
		return ErrTimeout
	}
	return tok.Error()
}

func (m *MQTT) connect(ctx context.Context) error {
	if m.client.IsConnected() {
		return nil
	}
	if err := m.wait(m.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "mqtt connected", slog.String("topic", m.topic))
	return m.publish("status", "online")
}

func (m *MQTT) publish(subtopic string, payload interface{}) error {
	if err := m.wait(m.client.Publish(m.topic+"/"+subtopic, 0, true, payload)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subtopic, err)
	}
	return nil
}

type statePayload struct {
	Timestamp   int64   `json:"ts"`
	OutputKW    float64 `json:"outputKW"`
	LifetimeKWH float64 `json:"lifetimeKWH"`
}

// Publish sends r as individual retained values plus a JSON state message.
func (m *MQTT) Publish(ctx context.Context, r types.Reading) error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		return err
	}

	state, err := json.Marshal(statePayload{
		Timestamp:   r.Timestamp.Unix(),
		OutputKW:    r.OutputKW,
		LifetimeKWH: r.LifetimeKWH,
	})
	if err != nil {
		return err
	}

	values := []struct {
		subtopic string
		payload  interface{}
	}{
		{"output_kw", strconv.FormatFloat(r.OutputKW, 'f', -1, 64)},
		{"lifetime_kwh", strconv.FormatFloat(r.LifetimeKWH, 'f', -1, 64)},
		{"timestamp", strconv.FormatInt(r.Timestamp.Unix(), 10)},
		{"state", state},
	}
	for _, v := range values {
		if err := m.publish(v.subtopic, v.payload); err != nil {
			return err
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "published reading to mqtt", slog.String("topic", m.topic))
	return nil
}

// Close marks the publisher offline and disconnects.
func (m *MQTT) Close() error {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.client.IsConnected() {
		return nil
	}
	err := m.publish("status", "offline")
	m.client.Disconnect(250)
	return err
}
