package sqlstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		DSN:                filepath.Join(t.TempDir(), "hvac.db"),
		DisableDeviceCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func deg(v float64) *float64 { return &v }

func ingestTemp(t *testing.T, s *Store, dev, at int64, temp float64) {
	t.Helper()
	require.NoError(t, s.Ingest(context.Background(), storage.Reading{DeviceID: dev, Time: at, Temperature: deg(temp)}))
}

func entriesOf(t *testing.T, s *Store, dev int64) []storage.Entry {
	t.Helper()
	got, err := s.Range(context.Background(), storage.RangeQuery{DeviceID: dev})
	require.NoError(t, err)
	return got
}

func requireNoOverlap(t *testing.T, entries []storage.Entry) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		require.LessOrEqual(t, entries[i-1].End(), entries[i].Logtime,
			"entry %d [%d,%d) overlaps entry %d starting at %d",
			entries[i-1].LogID, entries[i-1].Logtime, entries[i-1].End(), entries[i].LogID, entries[i].Logtime)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []storage.IngestOutcome
}

func (o *recordingObserver) ObserveIngest(outcome storage.IngestOutcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}
