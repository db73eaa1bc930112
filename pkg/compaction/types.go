package compaction

import (
	"time"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

// Resolution names the bucket width of a retention tier
type Resolution string

const (
	ResolutionRaw Resolution = "raw" // Original readings
	Resolution5m  Resolution = "5m"  // 5-minute buckets, kept for the week window
	Resolution20m Resolution = "20m" // 20-minute buckets, kept for the month window
)

// Bucket returns the bucket width of the resolution (0 for raw)
func (r Resolution) Bucket() time.Duration {
	switch r {
	case Resolution5m:
		return 5 * time.Minute
	case Resolution20m:
		return 20 * time.Minute
	default:
		return 0
	}
}

// Aggregate accumulates one device's entries within a bucket.
//
// Temperatures are weighted by each entry's own duration, so a bucket that
// only saw three seconds of data averages over those three seconds, not over
// the full bucket width.
type Aggregate struct {
	DeviceID    int64
	BucketStart int64
	Bucket      int64

	// Sum of temp10x * duration over entries that carry a temperature
	WeightedSum int64
	// Sum of duration over the same entries
	Weight int64

	// Entries folded in, with or without temperature
	Count int
}

// Add folds an entry into the aggregate
func (a *Aggregate) Add(e storage.Entry) {
	a.Count++
	if e.Temp10x == nil {
		return
	}
	a.WeightedSum += *e.Temp10x * e.Duration
	a.Weight += e.Duration
}

// Average returns the duration-weighted mean in tenths, rounded half up.
// The bool is false when no entry carried a temperature.
func (a *Aggregate) Average() (int64, bool) {
	if a.Weight == 0 {
		return 0, false
	}
	// floor(sum/weight + 1/2) without leaving integers
	return floorDiv(2*a.WeightedSum+a.Weight, 2*a.Weight), true
}

// ToEntry converts the aggregate into its replacement entry.
// Snapshots do not survive coarsening.
func (a *Aggregate) ToEntry() storage.Entry {
	e := storage.Entry{
		DeviceID: a.DeviceID,
		Logtime:  a.BucketStart,
		Duration: a.Bucket,
	}
	if avg, ok := a.Average(); ok {
		e.Temp10x = &avg
	}
	return e
}

// Result summarizes one compaction run
type Result struct {
	// Buckets rewritten
	Buckets int

	// Entries removed and entries written in their place
	EntriesIn  int
	EntriesOut int

	Elapsed time.Duration
}

func (r *Result) merge(o Result) {
	r.Buckets += o.Buckets
	r.EntriesIn += o.EntriesIn
	r.EntriesOut += o.EntriesOut
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
