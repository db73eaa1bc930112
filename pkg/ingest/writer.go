package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

// Store is the part of the telemetry store ingestion writes through
type Store interface {
	storage.Registry
	storage.TelemetryLog
}

// Sample is one reading addressed by device name, as received from HTTP, MQTT
// or the device poller.
type Sample struct {
	Device string `json:"device"`

	// Time in epoch seconds; nil means now
	Time *int64 `json:"time,omitempty"`

	Temperature *float64          `json:"temperature,omitempty"`
	Status      map[string]string `json:"status,omitempty"`
	Force       bool              `json:"force,omitempty"`
}

// Writer resolves device names and records samples in the telemetry log.
// It is safe for concurrent use.
type Writer struct {
	store   Store
	devices *DeviceTracker
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewWriter creates a writer. A nil tracker disables the device limit.
func NewWriter(store Store, devices *DeviceTracker, logger logrus.FieldLogger) *Writer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Writer{
		store:   store,
		devices: devices,
		log:     logger.WithField("component", "ingest"),
		now:     time.Now,
	}
}

// Write validates s and ingests it, returning the device id.
func (w *Writer) Write(ctx context.Context, s Sample) (int64, error) {
	if err := ValidateSample(s); err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if w.devices != nil {
		if err := w.devices.Check(s.Device); err != nil {
			return 0, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	id, err := w.store.DeviceID(ctx, s.Device)
	if err != nil {
		return 0, err
	}

	t := w.now().Unix()
	if s.Time != nil {
		t = *s.Time
	}
	err = w.store.Ingest(ctx, storage.Reading{
		DeviceID:    id,
		Time:        t,
		Temperature: s.Temperature,
		Snapshot:    storage.Snapshot(s.Status),
		Force:       s.Force,
	})
	if err != nil {
		w.log.WithFields(logrus.Fields{"device": s.Device, "logtime": t}).WithError(err).Warn("Failed to ingest reading")
		return 0, err
	}

	if w.devices != nil {
		w.devices.Record(s.Device)
	}
	return id, nil
}
