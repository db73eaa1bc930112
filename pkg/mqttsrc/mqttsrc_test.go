package mqttsrc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/storage"
	"github.com/hvacdash/hvacdash/pkg/storage/sqlstore"
)

func newSource(t *testing.T) (*Source, *sqlstore.Store) {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.Config{DSN: filepath.Join(t.TempDir(), "mqtt.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log, _ := test.NewNullLogger()
	src := New(Options{Broker: "tcp://localhost:1883", ClientID: "test", TopicPrefix: "/hvacdash/"}, ingest.NewWriter(store, nil, log), log)
	return src, store
}

func TestTopics(t *testing.T) {
	src, _ := newSource(t)
	assert.Equal(t, "hvacdash/+/state", src.Topic())

	tests := []struct {
		topic  string
		device string
		ok     bool
	}{
		{"hvacdash/attic/state", "attic", true},
		{"hvacdash/Living Room/state", "Living Room", true},
		{"hvacdash//state", "", false},
		{"hvacdash/attic/config", "", false},
		{"other/attic/state", "", false},
		{"hvacdash/a/b/state", "", false},
	}
	for _, tt := range tests {
		device, ok := src.DeviceFromTopic(tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.device, device, tt.topic)
	}
}

func TestHandleMessage(t *testing.T) {
	src, store := newSource(t)
	ctx := context.Background()

	require.NoError(t, src.HandleMessage(ctx, "hvacdash/attic/state", []byte(`{"temperature":31.24,"time":1000}`)))
	require.NoError(t, src.HandleMessage(ctx, "hvacdash/attic/state", []byte(`{"temperature":31.2,"time":1030}`)))
	require.NoError(t, src.HandleMessage(ctx, "hvacdash/attic/state", []byte(`{"status":{"Fan":"ON"},"temperature":31.2,"time":1060}`)))

	dev, err := store.LookupDevice(ctx, "attic")
	require.NoError(t, err)
	entries, err := store.Range(ctx, storage.RangeQuery{DeviceID: dev.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(31), entries[0].Duration)
	assert.Equal(t, int64(312), *entries[0].Temp10x)
	assert.Equal(t, int64(1060), entries[1].Logtime)
}

func TestHandleMessage_Rejects(t *testing.T) {
	src, store := newSource(t)
	ctx := context.Background()

	assert.ErrorIs(t, src.HandleMessage(ctx, "hvacdash/attic/config", []byte(`{"temperature":1}`)), storage.ErrInvalidInput)
	assert.ErrorIs(t, src.HandleMessage(ctx, "hvacdash/attic/state", []byte(`not json`)), storage.ErrInvalidInput)
	assert.ErrorIs(t, src.HandleMessage(ctx, "hvacdash/attic/state", []byte(`{}`)), storage.ErrInvalidInput)

	devices, err := store.Devices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}
