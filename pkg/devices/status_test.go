package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriveSpeedValue(t *testing.T) {
	tests := []struct {
		drive, speed string
		want         int
		wantErr      bool
	}{
		{"OFF", "HIGH", 0, false},
		{"ON", "AUTO", -1, false},
		{"ON", "LOW", 1, false},
		{"ON", "MID2", 2, false},
		{"ON", "MID1", 3, false},
		{"ON", "HIGH", 4, false},
		{"ON", "TURBO", 0, true},
	}

	for _, tt := range tests {
		got, err := DriveSpeedValue(tt.drive, tt.speed)
		if tt.wantErr {
			assert.Error(t, err, "%s/%s", tt.drive, tt.speed)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s", tt.drive, tt.speed)
	}
}

func TestExtractStatus(t *testing.T) {
	st, err := ExtractStatus(map[string]string{"Drive": "ON", "FanSpeed": "MID1", "InletTemp": "21.5"})
	require.NoError(t, err)
	require.NotNil(t, st.DriveSpeedVal)
	assert.Equal(t, 3, *st.DriveSpeedVal)
	assert.True(t, st.HasSpeedControl)
	assert.Equal(t, "ON", *st.Drive)

	// A unit without fan control reports drive only
	st, err = ExtractStatus(map[string]string{"Drive": "ON"})
	require.NoError(t, err)
	assert.False(t, st.HasSpeedControl)
	assert.Nil(t, st.DriveSpeedVal)
	assert.Nil(t, st.Speed)

	// Off units decode to 0 whatever the fan says
	st, err = ExtractStatus(map[string]string{"Drive": "OFF", "FanSpeed": "??"})
	require.NoError(t, err)
	assert.False(t, st.HasSpeedControl)
	assert.Equal(t, 0, *st.DriveSpeedVal)

	_, err = ExtractStatus(map[string]string{"Drive": "ON", "FanSpeed": "??"})
	assert.Error(t, err)
}

func TestSpeedName(t *testing.T) {
	name, ok := SpeedName(4)
	assert.True(t, ok)
	assert.Equal(t, "HIGH", name)

	_, ok = SpeedName(7)
	assert.False(t, ok)
}

func TestInletTemperature(t *testing.T) {
	v, ok := InletTemperature(map[string]string{"InletTemp": "19.5"})
	require.True(t, ok)
	assert.Equal(t, 19.5, *v)

	_, ok = InletTemperature(map[string]string{"InletTemp": "n/a"})
	assert.False(t, ok)
	_, ok = InletTemperature(nil)
	assert.False(t, ok)
}
