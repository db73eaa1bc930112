// Package mqttsrc feeds sensor readings published over MQTT into the
// telemetry log. Sensors publish JSON to <prefix>/<device>/state.
package mqttsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/storage"
)

const (
	stateSuffix    = "state"
	subscribeQoS   = 1
	connectTimeout = 10 * time.Second
	disconnectWait = 250 // ms
)

// Payload is the message body a sensor publishes
type Payload struct {
	Temperature *float64          `json:"temperature,omitempty"`
	Status      map[string]string `json:"status,omitempty"`
	Time        *int64            `json:"time,omitempty"`
}

// Options configures the subscriber
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Source subscribes to sensor state topics
type Source struct {
	opts   Options
	writer *ingest.Writer
	log    logrus.FieldLogger
	client mqtt.Client
}

// New creates a source. Call Run to connect.
func New(opts Options, writer *ingest.Writer, logger logrus.FieldLogger) *Source {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts.TopicPrefix = strings.Trim(opts.TopicPrefix, "/")
	return &Source{
		opts:   opts,
		writer: writer,
		log:    logger.WithField("component", "mqtt"),
	}
}

// Topic is the wildcard subscription covering every device.
func (s *Source) Topic() string {
	return s.opts.TopicPrefix + "/+/" + stateSuffix
}

// DeviceFromTopic extracts the device name from <prefix>/<device>/state.
func (s *Source) DeviceFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, s.opts.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	device, ok := strings.CutSuffix(rest, "/"+stateSuffix)
	if !ok || device == "" || strings.Contains(device, "/") {
		return "", false
	}
	return device, true
}

// HandleMessage decodes one message and writes it. Errors are returned for the
// caller to log; a bad message never stops the subscription.
func (s *Source) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	device, ok := s.DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", storage.ErrInvalidInput, topic)
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: payload on %s: %v", storage.ErrInvalidInput, topic, err)
	}
	_, err := s.writer.Write(ctx, ingest.Sample{
		Device:      device,
		Time:        p.Time,
		Temperature: p.Temperature,
		Status:      p.Status,
	})
	return err
}

// Run connects, subscribes and blocks until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout)

	topic := s.Topic()
	// Resubscribe after every reconnect
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(topic, subscribeQoS, func(_ mqtt.Client, msg mqtt.Message) {
			if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
				s.log.WithError(err).WithField("topic", msg.Topic()).Warn("Dropped MQTT reading")
			}
		})
		if token.Wait() && token.Error() != nil {
			s.log.WithError(token.Error()).Errorf("Failed to subscribe to %s", topic)
			return
		}
		s.log.Infof("Subscribed to %s", topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.WithError(err).Warn("MQTT connection lost")
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", s.opts.Broker, token.Error())
	}

	<-ctx.Done()
	s.client.Disconnect(disconnectWait)
	s.log.Info("MQTT source stopped")
	return nil
}
