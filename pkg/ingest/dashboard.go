package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/httpx"
	"github.com/hvacdash/hvacdash/pkg/storage"
)

const (
	defaultMaxPoints = 1000
	maxPointsLimit   = 5000

	// A device silent for this long shows up as stale in the stats
	staleDeviceAge = 15 * time.Minute
)

// DevicesResponse lists registered devices
type DevicesResponse struct {
	Devices []storage.Device `json:"devices"`
	Count   int              `json:"count"`
}

// DeviceLogResponse returns one device's entries plus a chart-ready temperature series
type DeviceLogResponse struct {
	Device  storage.Device `json:"device"`
	Start   int64          `json:"start"`
	End     int64          `json:"end"`
	Entries []EntryJSON    `json:"entries"`
	Series  []Point        `json:"series"`
}

// EntryJSON is a log entry with the temperature decoded and the status parsed
type EntryJSON struct {
	Logtime     int64             `json:"logtime"`
	Duration    int64             `json:"duration"`
	Temperature *float64          `json:"temperature"`
	Status      map[string]string `json:"status,omitempty"`
}

// Point represents a single data point
type Point struct {
	Timestamp int64   `json:"t"` // Unix timestamp in milliseconds
	Value     float64 `json:"v"`
}

// NewEntryJSON converts a stored entry for the API.
func NewEntryJSON(e storage.Entry) EntryJSON {
	out := EntryJSON{Logtime: e.Logtime, Duration: e.Duration}
	if t, ok := e.Temperature(); ok {
		out.Temperature = &t
	}
	// A malformed blob is shown as no status rather than failing the page
	if st, err := e.Status(); err == nil {
		out.Status = st
	}
	return out
}

// HandleDevices returns every registered device.
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	devices, err := h.store.Devices(ctx)
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, DevicesResponse{Devices: devices, Count: len(devices)})
}

// HandleDeviceLog handles GET /api/v1/devices/{id}/log?start=&end=&maxPoints=
func (h *Handler) HandleDeviceLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "device id must be a positive integer")
		return
	}

	query := r.URL.Query()
	now := time.Now()
	start := httpx.ParseTimeParam(query.Get("start"), now.Add(-config.DefaultDeviceWindow))
	end := httpx.ParseTimeParam(query.Get("end"), now)

	if !end.After(start) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "end must be after start")
		return
	}
	if end.Sub(start) > config.MaxDeviceWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("query window too large (max %v)", config.MaxDeviceWindow))
		return
	}

	maxPoints := defaultMaxPoints
	if mp := query.Get("maxPoints"); mp != "" {
		parsed, err := strconv.Atoi(mp)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid maxPoints: %q is not an integer", mp))
			return
		}
		if parsed <= 0 || parsed > maxPointsLimit {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("maxPoints must be between 1 and %d", maxPointsLimit))
			return
		}
		maxPoints = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	device, err := h.store.Device(ctx, id)
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}

	entries, err := h.store.Range(ctx, storage.RangeQuery{
		DeviceID: id,
		Start:    start.Unix(),
		End:      end.Unix(),
	})
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}

	resp := DeviceLogResponse{
		Device:  device,
		Start:   start.Unix(),
		End:     end.Unix(),
		Entries: make([]EntryJSON, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, NewEntryJSON(e))
	}
	resp.Series = downsamplePoints(temperatureSeries(entries), maxPoints)

	w.Header().Set("Cache-Control", "no-cache")
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// temperatureSeries draws each entry as a flat segment: one point at its start
// and, when it spans more than a second, one at its last covered second.
func temperatureSeries(entries []storage.Entry) []Point {
	points := make([]Point, 0, 2*len(entries))
	for _, e := range entries {
		t, ok := e.Temperature()
		if !ok {
			continue
		}
		points = append(points, Point{Timestamp: e.Logtime * 1000, Value: t})
		if e.Duration > 1 {
			points = append(points, Point{Timestamp: (e.End() - 1) * 1000, Value: t})
		}
	}
	return points
}

// downsamplePoints reduces points using average bucketing
func downsamplePoints(points []Point, maxPoints int) []Point {
	if len(points) <= maxPoints {
		return points
	}

	bucketSize := (len(points) + maxPoints - 1) / maxPoints
	downsampled := make([]Point, 0, maxPoints)

	for i := 0; i < len(points); i += bucketSize {
		end := i + bucketSize
		if end > len(points) {
			end = len(points)
		}

		// Average the bucket
		var sumValue float64
		for j := i; j < end; j++ {
			sumValue += points[j].Value
		}
		downsampled = append(downsampled, Point{
			Timestamp: points[i].Timestamp,
			Value:     sumValue / float64(end-i),
		})
	}

	return downsampled
}
