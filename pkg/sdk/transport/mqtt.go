package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/mqttsrc"
)

const publishQoS = 1

// Publisher is the part of a paho client the MQTT transport needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTTransport publishes each sample to <prefix>/<device>/state
type MQTTTransport struct {
	client Publisher
	prefix string
}

// NewMQTT wraps a connected publisher
func NewMQTT(client Publisher, topicPrefix string) *MQTTTransport {
	return &MQTTTransport{client: client, prefix: strings.Trim(topicPrefix, "/")}
}

// DialMQTT connects to broker and returns a transport plus a disconnect func.
func DialMQTT(broker, clientID, topicPrefix string) (*MQTTTransport, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, nil, fmt.Errorf("connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	return NewMQTT(client, topicPrefix), func() { client.Disconnect(250) }, nil
}

// Topic returns the state topic for device
func (t *MQTTTransport) Topic(device string) string {
	return t.prefix + "/" + device + "/state"
}

// Send publishes samples one message at a time, stopping at the first failure.
func (t *MQTTTransport) Send(ctx context.Context, samples []ingest.Sample) error {
	for _, s := range samples {
		body, err := json.Marshal(mqttsrc.Payload{
			Temperature: s.Temperature,
			Status:      s.Status,
			Time:        s.Time,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal sample: %w", err)
		}

		token := t.client.Publish(t.Topic(s.Device), publishQoS, false, body)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", s.Device, err)
		}
	}
	return nil
}
