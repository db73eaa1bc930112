package ingest

import (
	"fmt"
	"strings"

	"github.com/hvacdash/hvacdash/pkg/config"
)

// Validation limits
const (
	// Per-reading limits
	MaxDeviceNameLength  = 255 // matches the devices.device_name column
	MaxStatusKeys        = 128
	MaxStatusKeyLength   = 64
	MaxStatusValueLength = 1024

	// Global limits
	MaxDevices            = 1000 // distinct device names accepted through ingestion
	MaxReadingsPerRequest = config.MaxReadingsPerBatch
)

var (
	// ErrDeviceNameEmpty is returned when a reading names no device
	ErrDeviceNameEmpty = fmt.Errorf("device name cannot be empty")

	// ErrDeviceNameTooLong is returned when a device name is too long
	ErrDeviceNameTooLong = fmt.Errorf("device name too long (max %d chars)", MaxDeviceNameLength)

	// ErrTooManyStatusKeys is returned when a status snapshot has too many keys
	ErrTooManyStatusKeys = fmt.Errorf("too many status keys (max %d)", MaxStatusKeys)

	// ErrStatusKeyTooLong is returned when a status key is too long
	ErrStatusKeyTooLong = fmt.Errorf("status key too long (max %d chars)", MaxStatusKeyLength)

	// ErrStatusValueTooLong is returned when a status value is too long
	ErrStatusValueTooLong = fmt.Errorf("status value too long (max %d chars)", MaxStatusValueLength)

	// ErrEmptyReading is returned when a reading has neither temperature nor status
	ErrEmptyReading = fmt.Errorf("reading carries neither temperature nor status")

	// ErrNegativeTime is returned for timestamps before the epoch
	ErrNegativeTime = fmt.Errorf("time must not be negative")

	// ErrDeviceLimit is returned when a reading would register one device too many
	ErrDeviceLimit = fmt.Errorf("device limit exceeded (max %d devices)", MaxDevices)

	// ErrTooManyReadings is returned when an ingest request contains too many readings
	ErrTooManyReadings = fmt.Errorf("too many readings in request (max %d)", MaxReadingsPerRequest)
)

// ValidateSample checks a sample against the limits above
func ValidateSample(s Sample) error {
	name := strings.TrimSpace(s.Device)
	if name == "" {
		return ErrDeviceNameEmpty
	}
	if len(s.Device) > MaxDeviceNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrDeviceNameTooLong, s.Device[:32], len(s.Device))
	}
	if s.Time != nil && *s.Time < 0 {
		return fmt.Errorf("%w: device %q", ErrNegativeTime, s.Device)
	}
	if s.Temperature == nil && len(s.Status) == 0 {
		return fmt.Errorf("%w: device %q", ErrEmptyReading, s.Device)
	}

	if len(s.Status) > MaxStatusKeys {
		return fmt.Errorf("%w: device %q has %d keys", ErrTooManyStatusKeys, s.Device, len(s.Status))
	}
	for k, v := range s.Status {
		if len(k) > MaxStatusKeyLength {
			return fmt.Errorf("%w: key %q of device %q", ErrStatusKeyTooLong, k, s.Device)
		}
		if len(v) > MaxStatusValueLength {
			return fmt.Errorf("%w: value for key %q of device %q", ErrStatusValueTooLong, k, s.Device)
		}
	}

	return nil
}
