/*
Package storage defines the telemetry store contract for hvacdash.

# Tables

The store owns three relational tables:

  - devices: device name to stable integer id, plus an optional binding to a unit
    on the external HVAC controller
  - devlog: the telemetry log, one row per run of unchanged readings
  - changelog: append-only audit trail of commanded changes

The only implementation is sqlstore, which runs on SQLite, Postgres or MySQL through
GORM. There is no separate time-series engine.

# Run-Length Encoding

Each devlog row covers the interval [logtime, logtime+duration). A device that keeps
reporting the same temperature and status does not grow the log; the newest row (the
"open" entry) has its duration stretched instead:

	Ingest(dev=1, t=100, temp=20.0)   → (100, 1, 200)
	Ingest(dev=1, t=101, temp=20.0)   → (100, 2, 200)
	Ingest(dev=1, t=112, temp=20.0)   → (100, 13, 200)
	Ingest(dev=1, t=113, temp=20.5)   → (100, 13, 200), (113, 1, 205)

Temperatures are stored as tenths of a degree (EncodeTemp rounds half up). Status
snapshots are stored as key-sorted JSON so two equal snapshots always compare equal
byte for byte.

# Coarsening

The compaction engine (pkg/compaction) re-bins old rows through the BucketStore view:
FirstUnderWidth finds work and ReplaceWindow swaps a bucket's rows for its aggregates
in one transaction.

# Errors

Every failure is one of:

  - ErrInvalidInput: rejected before any write
  - ErrNotFound: a lookup that does not create found nothing
  - *StorageError: the engine failed, the transaction was rolled back

Use errors.Is / IsStorage to tell them apart.

# Usage Example

	store, err := sqlstore.Open(sqlstore.Config{Driver: "sqlite", DSN: "hvac.db"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	id, err := store.DeviceID(ctx, "Kitchen ERV")
	temp := 21.5
	err = store.Ingest(ctx, storage.Reading{DeviceID: id, Time: now, Temperature: &temp})

	latest, err := store.Latest(ctx)
*/
package storage
