package sqlstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

func TestDeviceID_GetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kitchen, err := s.DeviceID(ctx, "Kitchen ERV")
	require.NoError(t, err)
	assert.Positive(t, kitchen)

	again, err := s.DeviceID(ctx, "Kitchen ERV")
	require.NoError(t, err)
	assert.Equal(t, kitchen, again)

	bath, err := s.DeviceID(ctx, "Bathroom")
	require.NoError(t, err)
	assert.NotEqual(t, kitchen, bath)

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Bathroom", devices[0].Name)
	assert.Equal(t, "Kitchen ERV", devices[1].Name)
}

func TestDeviceID_EmptyName(t *testing.T) {
	s := newTestStore(t)

	_, err := s.DeviceID(context.Background(), "  ")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestDeviceID_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.DeviceID(ctx, "attic")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestLookupDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LookupDevice(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Lookup must not have created it
	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	id, err := s.DeviceID(ctx, "ghost")
	require.NoError(t, err)

	d, err := s.LookupDevice(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)
	assert.Nil(t, d.ExternalID)

	_, err = s.Device(ctx, id+100)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBindExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.BindExternalID(ctx, "Basement ERV", 17)
	require.NoError(t, err)

	d, err := s.Device(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d.ExternalID)
	assert.Equal(t, int64(17), *d.ExternalID)
	assert.Equal(t, "Basement ERV", d.Name)

	// Rebinding keeps the id
	again, err := s.BindExternalID(ctx, "Basement ERV", 18)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestDeviceCache(t *testing.T) {
	ctx := context.Background()

	s := newTestStore(t)
	s.cache = newDeviceCache(true)

	id, err := s.DeviceID(ctx, "porch")
	require.NoError(t, err)

	// A cached id is served without touching the table
	require.NoError(t, s.db.Exec("DELETE FROM devices").Error)
	cached, err := s.DeviceID(ctx, "porch")
	require.NoError(t, err)
	assert.Equal(t, id, cached)

	require.NoError(t, s.Reset(ctx))
	_, ok := s.cache.get("porch")
	assert.False(t, ok, "reset must invalidate the cache")

	fresh, err := s.DeviceID(ctx, "porch")
	require.NoError(t, err)
	d, err := s.Device(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "porch", d.Name)
}

func TestDeviceCache_Disabled(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.DeviceID(ctx, "porch")
	require.NoError(t, err)
	require.NoError(t, s.db.Exec("DELETE FROM devices").Error)

	// With the cache disabled the device is registered again
	id, err := s.DeviceID(ctx, "porch")
	require.NoError(t, err)
	d, err := s.Device(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "porch", d.Name)
}
