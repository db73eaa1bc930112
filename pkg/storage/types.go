package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Device is a registered device.
type Device struct {
	ID   int64  `json:"device_id"`
	Name string `json:"device_name"`

	// ExternalID binds the device to a unit on the external controller (optional)
	ExternalID *int64 `json:"external_id,omitempty"`
}

// Entry is one run-length-encoded telemetry row covering [Logtime, Logtime+Duration).
type Entry struct {
	LogID      int64  `json:"log_id"`
	DeviceID   int64  `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`

	// Logtime is the inclusive start in epoch seconds
	Logtime  int64 `json:"logtime"`
	Duration int64 `json:"duration"`

	// Temp10x is the temperature in tenths of a degree
	Temp10x *int64 `json:"temp10x"`

	// Snapshot is the canonical status blob, nil when absent
	Snapshot []byte `json:"-"`
}

// End returns the exclusive end of the interval the entry covers.
func (e Entry) End() int64 {
	return e.Logtime + e.Duration
}

// Temperature returns the decoded temperature if the entry has one.
func (e Entry) Temperature() (float64, bool) {
	if e.Temp10x == nil {
		return 0, false
	}
	return DecodeTemp(*e.Temp10x), true
}

// Status decodes the snapshot. A nil snapshot decodes to a nil map.
func (e Entry) Status() (Snapshot, error) {
	if len(e.Snapshot) == 0 {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(e.Snapshot, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot of log entry %d: %w", e.LogID, err)
	}
	return s, nil
}

// Reading is a single observation handed to Ingest.
type Reading struct {
	DeviceID int64

	// Time is the observation time in epoch seconds
	Time int64

	// Temperature in degrees; nil when the reading carries none
	Temperature *float64

	// Snapshot is the device status; empty means none
	Snapshot Snapshot

	// Force always starts a new entry instead of extending
	Force bool
}

// Validate rejects readings that must never reach the database.
func (r Reading) Validate() error {
	if r.DeviceID <= 0 {
		return fmt.Errorf("%w: device id %d", ErrInvalidInput, r.DeviceID)
	}
	if r.Time < 0 {
		return fmt.Errorf("%w: negative logtime %d", ErrInvalidInput, r.Time)
	}
	if r.Temperature != nil && (math.IsNaN(*r.Temperature) || math.IsInf(*r.Temperature, 0)) {
		return fmt.Errorf("%w: temperature %v", ErrInvalidInput, *r.Temperature)
	}
	if r.Temperature == nil && len(r.Snapshot) == 0 {
		return fmt.Errorf("%w: reading carries neither temperature nor snapshot", ErrInvalidInput)
	}
	return nil
}

// Change is a commanded state change to be appended to the change log.
type Change struct {
	DeviceID int64

	// Time in epoch seconds; zero means now
	Time int64

	Origin   string
	NewValue string
	Agent    string
	Comment  string
}

// ChangeLogEntry is a stored change log row.
type ChangeLogEntry struct {
	EntryID  int64  `json:"entry_id"`
	Logtime  int64  `json:"logtime"`
	Origin   string `json:"ipaddr"`
	DeviceID int64  `json:"device_id"`
	NewValue string `json:"new_value"`
	Agent    string `json:"agent"`
	Comment  string `json:"comment"`
}

// Snapshot is an opaque key/value device status.
type Snapshot map[string]string

// Canonical returns the key-sorted serialization used for equality checks.
// Empty snapshots encode to nil.
func (s Snapshot) Canonical() ([]byte, error) {
	if len(s) == 0 {
		return nil, nil
	}
	// encoding/json writes map keys in sorted order
	b, err := json.Marshal(map[string]string(s))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Fingerprint hashes the canonical form. Equal snapshots share a fingerprint.
func (s Snapshot) Fingerprint() uint64 {
	b, err := s.Canonical()
	if err != nil || b == nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// EncodeTemp converts degrees to tenths, rounding half up.
func EncodeTemp(t float64) int64 {
	return int64(math.Floor(t*10 + 0.5))
}

// DecodeTemp converts tenths back to degrees.
func DecodeTemp(t10 int64) float64 {
	return float64(t10) / 10
}

// Epoch converts a time to the store's epoch-second representation.
func Epoch(t time.Time) int64 {
	return t.Unix()
}
