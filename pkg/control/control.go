// Package control commands fan speed changes on controller units and keeps
// the change log and telemetry log in step with them.
package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/devices"
	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/storage"
)

// ErrUnitUnreachable is returned when the command could not be delivered to the unit
var ErrUnitUnreachable = errors.New("controller unit unreachable")

// Store is the slice of the store speed control needs
type Store interface {
	ingest.Store
	storage.ChangeLog
}

// SpeedRequest asks for one unit to run at a fan speed (0 turns it off)
type SpeedRequest struct {
	Unit    int64  `json:"unit"`
	Speed   int    `json:"speed"`
	Origin  string `json:"-"`
	Agent   string `json:"-"`
	Comment string `json:"comment,omitempty"`
}

// SpeedResult is the unit state read back after the change
type SpeedResult struct {
	Device string         `json:"device"`
	Unit   int64          `json:"unit"`
	Speed  int            `json:"speed"`
	Status devices.Status `json:"status"`
}

// Controller applies speed changes
type Controller struct {
	store  Store
	client devices.Client
	writer *ingest.Writer
	log    logrus.FieldLogger
	now    func() time.Time
}

// New creates a controller. writer is used to record the state read back.
func New(store Store, client devices.Client, writer *ingest.Writer, logger logrus.FieldLogger) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		store:  store,
		client: client,
		writer: writer,
		log:    logger.WithField("component", "control"),
		now:    time.Now,
	}
}

// SetSpeed records the request in the change log, sends it to the unit and
// ingests the state the unit reports afterwards. A failed read-back is logged
// but does not fail the call; the command was already delivered.
func (c *Controller) SetSpeed(ctx context.Context, req SpeedRequest) (*SpeedResult, error) {
	if req.Speed < devices.SpeedOff || req.Speed > devices.SpeedMax {
		return nil, fmt.Errorf("%w: speed %d outside %d..%d", storage.ErrInvalidInput, req.Speed, devices.SpeedOff, devices.SpeedMax)
	}
	if req.Unit < 0 {
		return nil, fmt.Errorf("%w: unit %d", storage.ErrInvalidInput, req.Unit)
	}

	device, err := c.deviceForUnit(ctx, req.Unit)
	if err != nil {
		return nil, err
	}
	log := c.log.WithFields(logrus.Fields{"device": device.Name, "unit": req.Unit, "speed": req.Speed})

	if err := c.store.RecordChange(ctx, storage.Change{
		DeviceID: device.ID,
		Time:     c.now().Unix(),
		Origin:   req.Origin,
		NewValue: strconv.Itoa(req.Speed),
		Agent:    req.Agent,
		Comment:  req.Comment,
	}); err != nil {
		return nil, err
	}

	for _, attrs := range commandsFor(req.Speed) {
		if err := c.client.SetAttributes(ctx, req.Unit, attrs); err != nil {
			log.WithError(err).Error("Failed to send command")
			return nil, fmt.Errorf("%w: unit %d: %v", ErrUnitUnreachable, req.Unit, err)
		}
	}
	log.Info("Fan speed changed")

	res := &SpeedResult{Device: device.Name, Unit: req.Unit, Speed: req.Speed}
	info, err := c.client.GetDeviceInfo(ctx, req.Unit)
	if err != nil {
		log.WithError(err).Warn("Failed to read back unit state")
		return res, nil
	}
	if res.Status, err = devices.ExtractStatus(info); err != nil {
		log.WithError(err).Warn("Unit reported an unknown fan state")
	}

	t := c.now().Unix()
	temp, _ := devices.InletTemperature(info)
	if _, err := c.writer.Write(ctx, ingest.Sample{
		Device:      device.Name,
		Time:        &t,
		Temperature: temp,
		Status:      info,
	}); err != nil {
		log.WithError(err).Warn("Failed to record unit state")
	}
	return res, nil
}

// deviceForUnit finds the registered device bound to a controller unit.
func (c *Controller) deviceForUnit(ctx context.Context, unit int64) (storage.Device, error) {
	all, err := c.store.Devices(ctx)
	if err != nil {
		return storage.Device{}, err
	}
	for _, d := range all {
		if d.ExternalID != nil && *d.ExternalID == unit {
			return d, nil
		}
	}
	return storage.Device{}, fmt.Errorf("unit %d: %w", unit, storage.ErrNotFound)
}

// commandsFor returns the attribute writes for a speed, in send order.
// The controller drops a fan speed sent to a unit that is still off.
func commandsFor(speed int) []map[string]string {
	if speed == devices.SpeedOff {
		return []map[string]string{{"Drive": "OFF"}}
	}
	name, _ := devices.SpeedName(speed)
	return []map[string]string{{"Drive": "ON"}, {"FanSpeed": name}}
}
