package utils

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQoS            = 1
	mqttPublishTimeout = 5 * time.Second
)

// MQTTConfig configures the event mirror.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// EventPublisher receives every device event the relay handles.
type EventPublisher interface {
	Publish(event DeviceEvent) error
}

type eventPayload struct {
	Serial    string    `json:"serial"`
	Event     string    `json:"event"`
	State     bool      `json:"state"`
	Property  string    `json:"property,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTMirror republishes device events to an MQTT broker.
type MQTTMirror struct {
	config MQTTConfig
	client mqtt.Client
	logger Logger
}

// NewMQTTMirror connects to the broker. The bridge status topic is set to
// "online" on connect and to "offline" by the broker's will when the
// connection drops.
func NewMQTTMirror(config MQTTConfig, logger Logger) (*MQTTMirror, error) {
	statusTopic := fmt.Sprintf("%s/bridge/status", config.TopicPrefix)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetWill(statusTopic, "offline", mqttQoS, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Infof("MQTT mirror connected to %s", config.BrokerURL)
		c.Publish(statusTopic, mqttQoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return &MQTTMirror{config: config, client: client, logger: logger}, nil
}

func (m *MQTTMirror) Publish(event DeviceEvent) error {
	topic := EventTopic(m.config.TopicPrefix, event)
	data, err := json.Marshal(newEventPayload(event, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	token := m.client.Publish(topic, mqttQoS, false, data)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	m.logger.Tracef("Mirrored %s to %s", event.Kind, topic)
	return nil
}

// Close marks the bridge offline and disconnects.
func (m *MQTTMirror) Close() {
	statusTopic := fmt.Sprintf("%s/bridge/status", m.config.TopicPrefix)
	m.client.Publish(statusTopic, mqttQoS, true, "offline").WaitTimeout(mqttPublishTimeout)
	m.client.Disconnect(250)
}

// EventTopic returns <prefix>/<serial>/<event>, with spaces in the event name
// replaced by underscores.
func EventTopic(prefix string, event DeviceEvent) string {
	return fmt.Sprintf("%s/%s/%s", prefix, event.SerialNumber, strings.ReplaceAll(string(event.Kind), " ", "_"))
}

func newEventPayload(event DeviceEvent, now time.Time) eventPayload {
	return eventPayload{
		Serial:    event.SerialNumber,
		Event:     string(event.Kind),
		State:     event.State,
		Property:  event.Property,
		Timestamp: now,
	}
}
