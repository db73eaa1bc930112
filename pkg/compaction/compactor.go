package compaction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

// Compactor coarsens old telemetry into fixed-width buckets
type Compactor struct {
	store    storage.BucketStore
	log      logrus.FieldLogger
	recorder WindowRecorder
}

// New creates a new compactor
func New(store storage.BucketStore, logger logrus.FieldLogger) *Compactor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Compactor{
		store: store,
		log:   logger.WithField("component", "compaction"),
	}
}

// WithRecorder reports every retention window outcome to r
func (c *Compactor) WithRecorder(r WindowRecorder) *Compactor {
	c.recorder = r
	return c
}

// Compact rewrites every bucket of [start, end) that still holds an entry
// shorter than the bucket width. Each bucket becomes one entry per device,
// starting at the bucket start and lasting the full bucket.
//
// Buckets are aligned to start. When the window is not a whole number of
// buckets, the tail is treated as one narrower bucket.
//
// Each bucket is rewritten in its own transaction, so a failure leaves earlier
// buckets compacted and the failing one untouched. Visiting the same bucket
// twice means the store did not apply a rewrite; that aborts with ErrNoProgress.
func (c *Compactor) Compact(ctx context.Context, start, end time.Time, bucket time.Duration) (Result, error) {
	began := time.Now()
	var res Result

	if bucket < time.Second || bucket%time.Second != 0 {
		return res, fmt.Errorf("%w: bucket %v is not a whole number of seconds", storage.ErrInvalidInput, bucket)
	}
	if !end.After(start) {
		return res, fmt.Errorf("%w: window %v..%v is empty", storage.ErrInvalidInput, start, end)
	}

	s, e, b := storage.Epoch(start), storage.Epoch(end), int64(bucket/time.Second)
	full := s + ((e-s)/b)*b

	if full > s {
		r, err := c.compactSpan(ctx, s, full, b)
		res.merge(r)
		if err != nil {
			res.Elapsed = time.Since(began)
			return res, err
		}
	}
	if e > full {
		r, err := c.compactSpan(ctx, full, e, e-full)
		res.merge(r)
		if err != nil {
			res.Elapsed = time.Since(began)
			return res, err
		}
	}

	res.Elapsed = time.Since(began)
	if res.Buckets > 0 {
		c.log.WithFields(logrus.Fields{
			"start":       s,
			"end":         e,
			"bucket":      b,
			"buckets":     res.Buckets,
			"entries_in":  res.EntriesIn,
			"entries_out": res.EntriesOut,
		}).Infof("Compacted window in %v", res.Elapsed.Round(time.Millisecond))
	}
	return res, nil
}

// compactSpan compacts [s, e) with bucket width b; e-s is a multiple of b.
func (c *Compactor) compactSpan(ctx context.Context, s, e, b int64) (Result, error) {
	var res Result
	visited := make(map[int64]bool)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entry, found, err := c.store.FirstUnderWidth(ctx, s, e, b)
		if err != nil {
			return res, fmt.Errorf("failed to find entry to compact: %w", err)
		}
		if !found {
			return res, nil
		}

		index := (entry.Logtime - s) / b
		if visited[index] {
			return res, fmt.Errorf("%w: bucket %d of [%d, %d) still holds entry %d (duration %d)",
				storage.ErrNoProgress, index, s, e, entry.LogID, entry.Duration)
		}
		visited[index] = true

		bucketStart := s + index*b
		in, out, err := c.compactBucket(ctx, bucketStart, b)
		if err != nil {
			return res, fmt.Errorf("failed to compact bucket at %d: %w", bucketStart, err)
		}
		res.Buckets++
		res.EntriesIn += in
		res.EntriesOut += out
	}
}

func (c *Compactor) compactBucket(ctx context.Context, bucketStart, b int64) (int, int, error) {
	var in, out int
	err := c.store.ReplaceWindow(ctx, bucketStart, bucketStart+b, func(entries []storage.Entry) ([]storage.Entry, error) {
		aggregates := Aggregates(entries, bucketStart, b)
		in, out = len(entries), len(aggregates)
		return aggregates, nil
	})
	return in, out, err
}

// Aggregates folds entries into one bucket entry per device, ordered by device id.
// Devices without entries get nothing.
func Aggregates(entries []storage.Entry, bucketStart, bucket int64) []storage.Entry {
	byDevice := make(map[int64]*Aggregate)
	for _, e := range entries {
		agg, ok := byDevice[e.DeviceID]
		if !ok {
			agg = &Aggregate{DeviceID: e.DeviceID, BucketStart: bucketStart, Bucket: bucket}
			byDevice[e.DeviceID] = agg
		}
		agg.Add(e)
	}

	out := make([]storage.Entry, 0, len(byDevice))
	for _, agg := range byDevice {
		out = append(out, agg.ToEntry())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Coarsen compacts [start, end) with the given bucket only if some entry there
// is shorter than probe. ran reports whether compaction was attempted.
func (c *Compactor) Coarsen(ctx context.Context, start, end time.Time, probe, bucket time.Duration) (res Result, ran bool, err error) {
	if !end.After(start) {
		return res, false, fmt.Errorf("%w: window %v..%v is empty", storage.ErrInvalidInput, start, end)
	}
	_, found, err := c.store.FirstUnderWidth(ctx, storage.Epoch(start), storage.Epoch(end), int64(probe/time.Second))
	if err != nil {
		return res, false, fmt.Errorf("failed to probe window: %w", err)
	}
	if !found {
		return res, false, nil
	}
	res, err = c.Compact(ctx, start, end, bucket)
	return res, true, err
}
