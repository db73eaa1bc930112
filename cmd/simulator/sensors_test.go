package main

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hvacdash/hvacdash/pkg/ingest"
)

type recorded struct {
	samples []ingest.Sample
	reject  string
}

func (r *recorded) Record(s ingest.Sample) error {
	if s.Device == r.reject {
		return errors.New("rejected")
	}
	if err := ingest.ValidateSample(s); err != nil {
		return err
	}
	r.samples = append(r.samples, s)
	return nil
}

func TestHouse_ProducesValidReadings(t *testing.T) {
	rec := &recorded{}
	log, _ := test.NewNullLogger()
	at := time.Date(2026, 7, 1, 15, 0, 0, 0, time.UTC)

	recordAll(rec, house(1), at, log)

	require.Len(t, rec.samples, 4)
	for _, s := range rec.samples {
		require.NotNil(t, s.Time)
		assert.Equal(t, at.Unix(), *s.Time)
		require.NotNil(t, s.Temperature, s.Device)
	}
	erv := rec.samples[3]
	assert.Equal(t, "Kitchen ERV", erv.Device)
	assert.Contains(t, []string{"ON", "OFF"}, erv.Status["Drive"])
	assert.NotEmpty(t, erv.Status["InletTemp"])
}

func TestHouse_SameSeedSameReadings(t *testing.T) {
	at := time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)
	a, b := house(42), house(42)
	for i := range a {
		assert.Equal(t, a[i].sample(at), b[i].sample(at))
	}
}

func TestThermometer_DailyCycle(t *testing.T) {
	th := &thermometer{device: "attic", base: 27, amplitude: 8}
	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	afternoon := *th.sample(day.Add(15 * time.Hour)).Temperature
	night := *th.sample(day.Add(3 * time.Hour)).Temperature
	assert.InDelta(t, 35.0, afternoon, 0.01)
	assert.InDelta(t, 19.0, night, 0.01)
}

func TestRecordAll_LogsRejections(t *testing.T) {
	rec := &recorded{reject: "basement"}
	log, hook := test.NewNullLogger()

	recordAll(rec, house(7), time.Unix(1700000000, 0), log)

	assert.Len(t, rec.samples, 3)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "basement", hook.LastEntry().Data["device"])
}
