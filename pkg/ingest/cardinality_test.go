package ingest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSample(t *testing.T) {
	tests := []struct {
		name    string
		sample  Sample
		wantErr error
	}{
		{
			name:   "valid temperature",
			sample: Sample{Device: "Kitchen ERV", Temperature: deg(21.5)},
		},
		{
			name:   "valid status",
			sample: Sample{Device: "Kitchen ERV", Status: map[string]string{"Drive": "ON"}},
		},
		{
			name:    "empty device",
			sample:  Sample{Device: "  ", Temperature: deg(20)},
			wantErr: ErrDeviceNameEmpty,
		},
		{
			name:    "device name too long",
			sample:  Sample{Device: strings.Repeat("x", MaxDeviceNameLength+1), Temperature: deg(20)},
			wantErr: ErrDeviceNameTooLong,
		},
		{
			name:    "negative time",
			sample:  Sample{Device: "a", Time: at(-5), Temperature: deg(20)},
			wantErr: ErrNegativeTime,
		},
		{
			name:    "empty reading",
			sample:  Sample{Device: "a"},
			wantErr: ErrEmptyReading,
		},
		{
			name:    "status key too long",
			sample:  Sample{Device: "a", Status: map[string]string{strings.Repeat("k", MaxStatusKeyLength+1): "v"}},
			wantErr: ErrStatusKeyTooLong,
		},
		{
			name:    "status value too long",
			sample:  Sample{Device: "a", Status: map[string]string{"k": strings.Repeat("v", MaxStatusValueLength+1)}},
			wantErr: ErrStatusValueTooLong,
		},
		{
			name:    "too many status keys",
			sample:  Sample{Device: "a", Status: generateStatus(MaxStatusKeys + 1)},
			wantErr: ErrTooManyStatusKeys,
		},
		{
			name:   "max valid status keys",
			sample: Sample{Device: "a", Status: generateStatus(MaxStatusKeys)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSample(tt.sample)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDeviceTracker(t *testing.T) {
	tracker := newDeviceTracker(2)

	require.NoError(t, tracker.Check("kitchen"))
	tracker.Record("kitchen")

	// Known devices are always accepted
	require.NoError(t, tracker.Check("kitchen"))

	tracker.Seed("bathroom", "kitchen")
	assert.ErrorIs(t, tracker.Check("garage"), ErrDeviceLimit)
	assert.NoError(t, tracker.Check("bathroom"))

	stats := tracker.Stats(time.Hour)
	assert.Equal(t, 2, stats.Devices)
	assert.Equal(t, 1, stats.Reporting)
	assert.Equal(t, 100.0, stats.UtilizationPct)
	assert.Empty(t, stats.Stale)
}

func TestDeviceTracker_Stale(t *testing.T) {
	tracker := newDeviceTracker(10)
	base := time.Unix(1_700_000_000, 0)

	tracker.now = func() time.Time { return base }
	tracker.Record("old")
	tracker.now = func() time.Time { return base.Add(30 * time.Minute) }
	tracker.Record("fresh")

	stats := tracker.Stats(15 * time.Minute)
	assert.Equal(t, []string{"old"}, stats.Stale)
	assert.Equal(t, 2, stats.Reporting)
}

func generateStatus(n int) map[string]string {
	status := make(map[string]string, n)
	for i := 0; i < n; i++ {
		status[fmt.Sprintf("key%d", i)] = "value"
	}
	return status
}
