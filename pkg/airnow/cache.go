package airnow

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/httpx"
	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/storage"
)

// Device is the pseudo-device AQI readings are logged under
const Device = "aqi"

// Source fetches a fresh AQI value
type Source interface {
	Current(ctx context.Context) (int, error)
}

// Store is what the cache reads cached values from
type Store interface {
	LookupDevice(ctx context.Context, name string) (storage.Device, error)
	Range(ctx context.Context, req storage.RangeQuery) ([]storage.Entry, error)
}

// Reading is the AQI answer served to the dashboard. Error is set instead
// of the value fields when nothing could be obtained.
type Reading struct {
	Value  int    `json:"value,omitempty"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	Cached bool   `json:"cached"`
	Error  string `json:"error,omitempty"`
}

// Cache serves the logged AQI while it is younger than maxAge and asks the
// source otherwise. A nil source means AirNow is disabled.
type Cache struct {
	source Source
	store  Store
	writer *ingest.Writer
	maxAge time.Duration
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewCache creates a cache. source may be nil.
func NewCache(source Source, store Store, writer *ingest.Writer, maxAge time.Duration, logger logrus.FieldLogger) *Cache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{
		source: source,
		store:  store,
		writer: writer,
		maxAge: maxAge,
		log:    logger.WithField("component", "aqi"),
		now:    time.Now,
	}
}

// Get returns the current AQI. Source failures are reported in Reading.Error;
// only store failures are returned as errors.
func (c *Cache) Get(ctx context.Context) (Reading, error) {
	now := c.now()
	v, ok, err := c.cached(ctx, now)
	if err != nil {
		return Reading{}, err
	}
	if ok {
		return newReading(v, true), nil
	}

	if c.source == nil {
		return Reading{Error: "AirNow is disabled"}, nil
	}
	aqi, err := c.source.Current(ctx)
	if err != nil {
		c.log.WithError(err).Error("Failed to fetch AQI")
		return Reading{Error: err.Error()}, nil
	}
	r := newReading(aqi, false)
	if r.Error != "" {
		c.log.WithField("aqi", aqi).Warn("AirNow returned an out-of-range AQI")
		return r, nil
	}

	t := now.Unix()
	value := float64(aqi)
	if _, err := c.writer.Write(ctx, ingest.Sample{Device: Device, Time: &t, Temperature: &value}); err != nil {
		c.log.WithError(err).Warn("Failed to log AQI")
	}
	return r, nil
}

// cached returns the logged value whose interval reaches into the last maxAge.
func (c *Cache) cached(ctx context.Context, now time.Time) (int, bool, error) {
	dev, err := c.store.LookupDevice(ctx, Device)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	entries, err := c.store.Range(ctx, storage.RangeQuery{
		DeviceID: dev.ID,
		Start:    now.Add(-c.maxAge).Unix(),
	})
	if err != nil {
		return 0, false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if v, ok := entries[i].Temperature(); ok {
			return int(math.Round(v)), true, nil
		}
	}
	return 0, false, nil
}

func newReading(aqi int, cached bool) Reading {
	cat, err := CategoryFor(aqi)
	if err != nil {
		return Reading{Value: aqi, Cached: cached, Error: err.Error()}
	}
	return Reading{Value: aqi, Name: cat.Name, Color: cat.Color, Cached: cached}
}

// HandleAQI serves the current AQI as JSON.
func (c *Cache) HandleAQI(w http.ResponseWriter, r *http.Request) {
	reading, err := c.Get(r.Context())
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, reading)
}
