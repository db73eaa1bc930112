package devices

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, f *fakeController) *ControllerClient {
	t.Helper()
	log, _ := test.NewNullLogger()
	c, err := NewControllerClient(f.url(), 2*time.Second, log)
	require.NoError(t, err)
	return c
}

func TestControllerClient_ListDevices(t *testing.T) {
	c := newTestClient(t, newFakeController(t))

	units, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Unit{{ID: 12, Name: "Kitchen ERV"}, {ID: 13, Name: "Bathroom ERV"}}, units)
}

func TestControllerClient_GetDeviceInfo(t *testing.T) {
	c := newTestClient(t, newFakeController(t))

	info, err := c.GetDeviceInfo(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "LOW", info["FanSpeed"])
	assert.Equal(t, "21.5", info["InletTemp"])
	assert.NotContains(t, info, "Mode", "empty attributes are dropped")
	assert.NotContains(t, info, "Group")

	_, err = c.GetDeviceInfo(context.Background(), 99)
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestControllerClient_SetAttributes(t *testing.T) {
	f := newFakeController(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.SetAttributes(ctx, 13, map[string]string{"Drive": "ON"}))

	require.Eventually(t, func() bool { return len(f.setRequests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]string{"Drive": "ON"}, f.setRequests()[0])
}

func TestNewControllerClient_RejectsHTTP(t *testing.T) {
	_, err := NewControllerClient("http://10.0.0.5/", time.Second, nil)
	assert.Error(t, err)
}
