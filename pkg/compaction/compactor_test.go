package compaction

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/storage"
	"github.com/hvacdash/hvacdash/pkg/storage/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(sqlstore.Config{
		DSN:                filepath.Join(t.TempDir(), "hvac.db"),
		DisableDeviceCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ingest(t *testing.T, s *sqlstore.Store, dev, at int64, temp float64) {
	t.Helper()
	require.NoError(t, s.Ingest(context.Background(), storage.Reading{DeviceID: dev, Time: at, Temperature: &temp}))
}

func entries(t *testing.T, s *sqlstore.Store, dev int64) []storage.Entry {
	t.Helper()
	got, err := s.Range(context.Background(), storage.RangeQuery{DeviceID: dev})
	require.NoError(t, err)
	return got
}

func assertNoOverlap(t *testing.T, got []storage.Entry) {
	t.Helper()
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].End(), got[i].Logtime, "entries %d and %d overlap", got[i-1].LogID, got[i].LogID)
	}
}

func epoch(sec int64) time.Time { return time.Unix(sec, 0) }

// seedScenario loads dev1 with one extended entry and dev2 with three changes.
func seedScenario(t *testing.T, s *sqlstore.Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	dev1, err := s.DeviceID(ctx, "dev1")
	require.NoError(t, err)
	dev2, err := s.DeviceID(ctx, "dev2")
	require.NoError(t, err)

	ingest(t, s, dev1, 100, 20.0)
	ingest(t, s, dev1, 101, 20.0)
	ingest(t, s, dev1, 112, 20.0)

	ingest(t, s, dev2, 100, 20.0)
	ingest(t, s, dev2, 111, 21.0)
	ingest(t, s, dev2, 112, 22.0)
	return dev1, dev2
}

func TestCompact_WeightsByObservedDuration(t *testing.T) {
	s := newStore(t)
	dev1, dev2 := seedScenario(t, s)

	res, err := New(s, nil).Compact(context.Background(), epoch(100), epoch(150), 50*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Buckets)
	assert.Equal(t, 4, res.EntriesIn)
	assert.Equal(t, 2, res.EntriesOut)

	got := entries(t, s, dev1)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].Logtime)
	assert.Equal(t, int64(50), got[0].Duration)
	assert.Equal(t, int64(200), *got[0].Temp10x)

	got = entries(t, s, dev2)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].Logtime)
	assert.Equal(t, int64(50), got[0].Duration)
	assert.Equal(t, int64(210), *got[0].Temp10x)
	assert.Nil(t, got[0].Snapshot)
}

func TestCompact_Idempotent(t *testing.T) {
	s := newStore(t)
	dev1, dev2 := seedScenario(t, s)
	c := New(s, nil)
	ctx := context.Background()

	_, err := c.Compact(ctx, epoch(100), epoch(150), 50*time.Second)
	require.NoError(t, err)
	first1, first2 := entries(t, s, dev1), entries(t, s, dev2)

	res, err := c.Compact(ctx, epoch(100), epoch(150), 50*time.Second)
	require.NoError(t, err)
	assert.Zero(t, res.Buckets)
	assert.Equal(t, first1, entries(t, s, dev1))
	assert.Equal(t, first2, entries(t, s, dev2))
}

func TestCompact_EmptyWindowCreatesNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dev, err := s.DeviceID(ctx, "quiet")
	require.NoError(t, err)
	ingest(t, s, dev, 1000, 19.0)

	res, err := New(s, nil).Compact(ctx, epoch(100), epoch(150), 50*time.Second)
	require.NoError(t, err)
	assert.Zero(t, res.Buckets)

	got := entries(t, s, dev)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1000), got[0].Logtime)
}

func TestCompact_OnlyDevicesWithData(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	busy, err := s.DeviceID(ctx, "busy")
	require.NoError(t, err)
	idle, err := s.DeviceID(ctx, "idle")
	require.NoError(t, err)

	ingest(t, s, busy, 10, 20.0)
	ingest(t, s, busy, 70, 21.0)
	ingest(t, s, idle, 500, 18.0)

	_, err = New(s, nil).Compact(ctx, epoch(0), epoch(120), time.Minute)
	require.NoError(t, err)

	got := entries(t, s, busy)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].Logtime)
	assert.Equal(t, int64(60), got[1].Logtime)
	assert.Len(t, entries(t, s, idle), 1)
}

func TestCompact_Conservation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dev, err := s.DeviceID(ctx, "dev")
	require.NoError(t, err)

	// 30s @ 18.0, 10s @ 22.0, 20s @ 19.5 within one 300s bucket
	ingest(t, s, dev, 0, 18.0)
	ingest(t, s, dev, 29, 18.0)
	ingest(t, s, dev, 30, 22.0)
	ingest(t, s, dev, 39, 22.0)
	ingest(t, s, dev, 40, 19.5)
	ingest(t, s, dev, 59, 19.5)

	var weighted, weight int64
	for _, e := range entries(t, s, dev) {
		weighted += *e.Temp10x * e.Duration
		weight += e.Duration
	}
	want := float64(weighted) / float64(weight)

	_, err = New(s, nil).Compact(ctx, epoch(0), epoch(300), 5*time.Minute)
	require.NoError(t, err)

	got := entries(t, s, dev)
	require.Len(t, got, 1)
	assert.InDelta(t, want, float64(*got[0].Temp10x), 0.5)
}

func TestCompact_SnapshotOnlyDeviceKeepsNullTemperature(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dev, err := s.DeviceID(ctx, "switch")
	require.NoError(t, err)

	require.NoError(t, s.Ingest(ctx, storage.Reading{DeviceID: dev, Time: 5, Snapshot: storage.Snapshot{"Drive": "ON"}}))
	require.NoError(t, s.Ingest(ctx, storage.Reading{DeviceID: dev, Time: 9, Snapshot: storage.Snapshot{"Drive": "OFF"}}))

	_, err = New(s, nil).Compact(ctx, epoch(0), epoch(60), time.Minute)
	require.NoError(t, err)

	got := entries(t, s, dev)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Temp10x)
	assert.Equal(t, int64(60), got[0].Duration)
}

func TestCompact_NonOverlapAcrossBuckets(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dev, err := s.DeviceID(ctx, "dev")
	require.NoError(t, err)

	// A long entry straddles the first boundary; the second bucket holds short ones
	ingest(t, s, dev, 40, 20.0)
	ingest(t, s, dev, 109, 20.0) // [40, 110), longer than the bucket
	ingest(t, s, dev, 110, 21.0)
	ingest(t, s, dev, 111, 22.0)
	ingest(t, s, dev, 200, 23.0)

	_, err = New(s, nil).Compact(ctx, epoch(0), epoch(180), time.Minute)
	require.NoError(t, err)

	got := entries(t, s, dev)
	assertNoOverlap(t, got)
	for _, e := range got {
		assert.GreaterOrEqual(t, e.Duration, int64(1))
	}
}

func TestCompact_KeepsCoverageBeyondWindow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	steady, err := s.DeviceID(ctx, "steady")
	require.NoError(t, err)
	noisy, err := s.DeviceID(ctx, "noisy")
	require.NoError(t, err)

	ingest(t, s, steady, 100, 20.0)
	ingest(t, s, steady, 10099, 20.0) // [100, 10100)
	ingest(t, s, noisy, 110, 20.0)
	ingest(t, s, noisy, 111, 21.0)

	_, err = New(s, nil).Compact(ctx, epoch(100), epoch(150), 50*time.Second)
	require.NoError(t, err)

	got := entries(t, s, steady)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].Logtime)
	assert.Equal(t, int64(50), got[0].Duration)
	assert.Equal(t, int64(150), got[1].Logtime)
	assert.Equal(t, int64(9950), got[1].Duration)
	assert.Equal(t, int64(200), *got[1].Temp10x)
	assertNoOverlap(t, got)

	covering, err := s.Range(ctx, storage.RangeQuery{DeviceID: steady, Start: 5000, End: 5001})
	require.NoError(t, err)
	assert.Len(t, covering, 1, "the reading at 5000 is still covered")
}

func TestCompact_TailBucket(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dev, err := s.DeviceID(ctx, "dev")
	require.NoError(t, err)

	ingest(t, s, dev, 60, 20.0)
	ingest(t, s, dev, 61, 21.0)

	c := New(s, nil)
	// 90s window with 60s buckets: [0,60) full, [60,90) tail
	_, err = c.Compact(ctx, epoch(0), epoch(90), time.Minute)
	require.NoError(t, err)

	got := entries(t, s, dev)
	require.Len(t, got, 1)
	assert.Equal(t, int64(60), got[0].Logtime)
	assert.Equal(t, int64(30), got[0].Duration)

	res, err := c.Compact(ctx, epoch(0), epoch(90), time.Minute)
	require.NoError(t, err)
	assert.Zero(t, res.Buckets)
}

func TestCompact_InvalidArguments(t *testing.T) {
	c := New(newStore(t), nil)
	ctx := context.Background()

	_, err := c.Compact(ctx, epoch(100), epoch(100), time.Minute)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = c.Compact(ctx, epoch(0), epoch(100), 1500*time.Millisecond)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

// stuckStore never applies a rewrite.
type stuckStore struct {
	replaced int
}

func (s *stuckStore) FirstUnderWidth(_ context.Context, start, _, _ int64) (storage.Entry, bool, error) {
	return storage.Entry{LogID: 1, DeviceID: 1, Logtime: start, Duration: 1}, true, nil
}

func (s *stuckStore) ReplaceWindow(context.Context, int64, int64, func([]storage.Entry) ([]storage.Entry, error)) error {
	s.replaced++
	return nil
}

func TestCompact_NoProgress(t *testing.T) {
	store := &stuckStore{}

	_, err := New(store, nil).Compact(context.Background(), epoch(0), epoch(600), 5*time.Minute)
	assert.ErrorIs(t, err, storage.ErrNoProgress)
	assert.Equal(t, 1, store.replaced)
}

// failingStore fails every rewrite.
type failingStore struct {
	stuckStore
}

func (s *failingStore) ReplaceWindow(context.Context, int64, int64, func([]storage.Entry) ([]storage.Entry, error)) error {
	return &storage.StorageError{Op: "replace window", Err: errors.New("database is locked")}
}

func TestCompact_PropagatesStorageError(t *testing.T) {
	_, err := New(&failingStore{}, nil).Compact(context.Background(), epoch(0), epoch(600), 5*time.Minute)
	assert.True(t, storage.IsStorage(err))
}

func TestCompact_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&stuckStore{}, nil).Compact(ctx, epoch(0), epoch(600), 5*time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoarsen_SkipsCoarsenedWindow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dev, err := s.DeviceID(ctx, "dev")
	require.NoError(t, err)

	ingest(t, s, dev, 0, 20.0)
	ingest(t, s, dev, 899, 20.0) // one entry of 900s

	_, ran, err := New(s, nil).Coarsen(ctx, epoch(0), epoch(1200), 10*time.Minute, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ran)

	ingest(t, s, dev, 900, 21.0)
	res, ran, err := New(s, nil).Coarsen(ctx, epoch(0), epoch(1200), 10*time.Minute, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, res.Buckets)
}

func TestAggregate_Average(t *testing.T) {
	tests := []struct {
		name    string
		entries []storage.Entry
		want    int64
		ok      bool
	}{
		{"none", nil, 0, false},
		{"rounds half up", []storage.Entry{temp(200, 1), temp(201, 1)}, 201, true},
		{"weighted", []storage.Entry{temp(200, 3), temp(220, 1)}, 205, true},
		{"negative rounds half up", []storage.Entry{temp(-5, 1), temp(-6, 1)}, -5, true},
		{"missing temperatures ignored", []storage.Entry{temp(180, 2), {Duration: 100}}, 180, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := &Aggregate{}
			for _, e := range tt.entries {
				agg.Add(e)
			}
			got, ok := agg.Average()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func temp(t10, duration int64) storage.Entry {
	return storage.Entry{DeviceID: 1, Temp10x: &t10, Duration: duration}
}
