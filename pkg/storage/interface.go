package storage

import (
	"context"
)

// Registry maps human-readable device names to stable integer identities.
type Registry interface {
	// DeviceID returns the id for name, creating the device on first sight
	DeviceID(ctx context.Context, name string) (int64, error)

	// LookupDevice returns the device with the given name without creating it.
	// Returns ErrNotFound for unknown names.
	LookupDevice(ctx context.Context, name string) (Device, error)

	// Device returns the device with the given id, or ErrNotFound
	Device(ctx context.Context, id int64) (Device, error)

	// Devices lists all known devices ordered by name
	Devices(ctx context.Context) ([]Device, error)

	// BindExternalID binds a device (created if needed) to an external controller unit
	BindExternalID(ctx context.Context, name string, externalID int64) (int64, error)
}

// TelemetryLog is the run-length-encoded reading log.
type TelemetryLog interface {
	// Ingest records a reading, extending the open entry when nothing changed
	Ingest(ctx context.Context, r Reading) error

	// Latest returns the most recent entry of every device, ordered by device name
	Latest(ctx context.Context) ([]Entry, error)

	// Range returns entries overlapping [req.Start, req.End)
	Range(ctx context.Context, req RangeQuery) ([]Entry, error)
}

// ChangeLog is the append-only audit trail of commanded changes.
type ChangeLog interface {
	// RecordChange appends one entry in its own transaction
	RecordChange(ctx context.Context, c Change) error

	// Changes returns a page of entries (newest first) and the total entry count
	Changes(ctx context.Context, req ChangeQuery) ([]ChangeLogEntry, int64, error)
}

// BucketStore is the narrow view the compaction engine needs.
type BucketStore interface {
	// FirstUnderWidth returns any entry with logtime in [start, end) and duration < width.
	// The bool is false when no such entry exists.
	FirstUnderWidth(ctx context.Context, start, end, width int64) (Entry, bool, error)

	// ReplaceWindow loads every entry with logtime in [start, end), passes them to fn,
	// deletes them and inserts whatever fn returns, all in one transaction.
	ReplaceWindow(ctx context.Context, start, end int64, fn func([]Entry) ([]Entry, error)) error
}

// Store is the full telemetry store used by the server and tools.
type Store interface {
	Registry
	TelemetryLog
	ChangeLog
	BucketStore

	// WithReducedDurability runs fn with relaxed engine durability and restores the
	// normal setting afterwards, whether fn returns, fails or panics.
	WithReducedDurability(ctx context.Context, fn func(ctx context.Context) error) error

	// Reset drops and recreates the schema and invalidates derived caches
	Reset(ctx context.Context) error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// RangeQuery specifies which entries to retrieve
type RangeQuery struct {
	// Device to query (required)
	DeviceID int64

	// Time range in epoch seconds; End == 0 means open-ended
	Start int64
	End   int64

	// Limit number of results (0 = no limit)
	Limit int
}

// ChangeQuery specifies a page of the change log
type ChangeQuery struct {
	// Optional inclusive bounds in epoch seconds
	Start *int64
	End   *int64

	Offset int
	Limit  int
}

// Stats provides storage health and usage info
type Stats struct {
	Devices       int64 `json:"devices"`
	Entries       int64 `json:"entries"`
	ChangeEntries int64 `json:"change_entries"`

	// Oldest and newest logtime in the telemetry log (0 when empty)
	OldestLogtime int64 `json:"oldest_logtime"`
	NewestLogtime int64 `json:"newest_logtime"`
}

// IngestOutcome says what Ingest did with a reading.
type IngestOutcome string

const (
	OutcomeInserted  IngestOutcome = "inserted"
	OutcomeExtended  IngestOutcome = "extended"
	OutcomeCovered   IngestOutcome = "covered"
	OutcomeCorrected IngestOutcome = "corrected"
	OutcomeIgnored   IngestOutcome = "ignored"
	OutcomeSplit     IngestOutcome = "split"
)

// Observer is notified of committed store events (metrics hook).
type Observer interface {
	ObserveIngest(outcome IngestOutcome)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ObserveIngest(IngestOutcome) {}
