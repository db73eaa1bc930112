// Package devices talks to the HVAC controller and feeds its unit states into
// the telemetry log.
package devices

import (
	"context"
	"errors"
)

// ErrUnitNotFound is returned when the controller has no unit with the requested group id
var ErrUnitNotFound = errors.New("controller unit not found")

// Unit is one controllable group on the controller
type Unit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client is the controller protocol
type Client interface {
	// ListDevices returns every unit the controller manages
	ListDevices(ctx context.Context) ([]Unit, error)

	// GetDeviceInfo returns the unit's non-empty status attributes
	GetDeviceInfo(ctx context.Context, unitID int64) (map[string]string, error)

	// SetAttributes writes attributes (e.g. Drive, FanSpeed) to the unit
	SetAttributes(ctx context.Context, unitID int64, attrs map[string]string) error
}
