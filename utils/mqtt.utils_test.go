package utils

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeMQTTClient struct {
	mqtt.Client
	err  error
	msgs []published
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func TestEventTopic(t *testing.T) {
	assert.Equal(t, "doorbell/T8200P1234/motion_detected",
		EventTopic("doorbell", DeviceEvent{Kind: EventMotionDetected, SerialNumber: "T8200P1234"}))
	assert.Equal(t, "home/T8200P1234/rings",
		EventTopic("home", DeviceEvent{Kind: EventRings, SerialNumber: "T8200P1234"}))
}

func TestMirrorPublish(t *testing.T) {
	client := &fakeMQTTClient{}
	logger, _ := test.NewNullLogger()
	mirror := &MQTTMirror{config: MQTTConfig{TopicPrefix: "doorbell"}, client: client, logger: logger}

	event := DeviceEvent{
		Kind:         EventPropertyChanged,
		SerialNumber: "T8200P1234",
		Property:     PropertyPicture,
		Value:        PropertyValue(`{"data":"AQID"}`),
	}
	require.NoError(t, mirror.Publish(event))

	require.Len(t, client.msgs, 1)
	assert.Equal(t, "doorbell/T8200P1234/property_changed", client.msgs[0].topic)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(client.msgs[0].payload, &payload))
	assert.Equal(t, "T8200P1234", payload["serial"])
	assert.Equal(t, "property changed", payload["event"])
	assert.Equal(t, "picture", payload["property"])
	assert.NotContains(t, string(client.msgs[0].payload), "AQID", "picture bytes stay out of MQTT")
}

func TestMirrorPublishError(t *testing.T) {
	client := &fakeMQTTClient{err: errors.New("not connected")}
	logger, _ := test.NewNullLogger()
	mirror := &MQTTMirror{config: MQTTConfig{TopicPrefix: "doorbell"}, client: client, logger: logger}

	err := mirror.Publish(DeviceEvent{Kind: EventRings, SerialNumber: "T8200P1234", State: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doorbell/T8200P1234/rings")
}
