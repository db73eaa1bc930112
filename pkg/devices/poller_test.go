package devices

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/storage"
	"github.com/hvacdash/hvacdash/pkg/storage/sqlstore"
)

type countingFailures struct{ n int }

func (c *countingFailures) PollFailed() { c.n++ }

func newPollerStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(sqlstore.Config{DSN: filepath.Join(t.TempDir(), "poll.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestPoller(store *sqlstore.Store, client Client, failures FailureRecorder, at int64) *Poller {
	log, _ := test.NewNullLogger()
	p := NewPoller(client, ingest.NewWriter(store, nil, log), store, time.Minute, failures, log)
	p.now = func() time.Time { return time.Unix(at, 0) }
	return p
}

func TestPoller_RecordsAndBinds(t *testing.T) {
	store := newPollerStore(t)
	f := newFakeController(t)
	client := newTestClient(t, f)
	ctx := context.Background()

	res, err := newTestPoller(store, client, nil, 1000).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Units: 2, Recorded: 2}, res)

	// Same state a minute later extends instead of inserting
	_, err = newTestPoller(store, client, nil, 1060).Poll(ctx)
	require.NoError(t, err)

	kitchen, err := store.LookupDevice(ctx, "Kitchen ERV")
	require.NoError(t, err)
	require.NotNil(t, kitchen.ExternalID)
	assert.Equal(t, int64(12), *kitchen.ExternalID)

	entries, err := store.Range(ctx, storage.RangeQuery{DeviceID: kitchen.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(61), entries[0].Duration)
	temp, ok := entries[0].Temperature()
	require.True(t, ok)
	assert.Equal(t, 21.5, temp)

	status, err := entries[0].Status()
	require.NoError(t, err)
	assert.Equal(t, "LOW", status["FanSpeed"])
}

func TestPoller_UnitFailureDoesNotAbortTick(t *testing.T) {
	store := newPollerStore(t)
	failures := &countingFailures{}
	client := &stubClient{
		units:   []Unit{{ID: 1, Name: "broken"}, {ID: 2, Name: "fine"}},
		info:    map[int64]map[string]string{2: {"Drive": "ON"}},
		infoErr: map[int64]error{1: errors.New("timeout")},
	}

	res, err := newTestPoller(store, client, failures, 500).Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{Units: 2, Recorded: 1, Failed: 1}, res)
	assert.Equal(t, 1, failures.n)

	_, err = store.LookupDevice(context.Background(), "broken")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoller_ListFailure(t *testing.T) {
	failures := &countingFailures{}
	client := &stubClient{listErr: errors.New("connection refused")}

	_, err := newTestPoller(newPollerStore(t), client, failures, 500).Poll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, failures.n)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	client := &stubClient{}
	p := newTestPoller(newPollerStore(t), client, nil, 500)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
