package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hvacdash/hvacdash/pkg/airnow"
	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/devices"
	"github.com/hvacdash/hvacdash/pkg/httpx"
	"github.com/hvacdash/hvacdash/pkg/server/monitor"
	"github.com/hvacdash/hvacdash/pkg/storage"
	"github.com/hvacdash/hvacdash/pkg/weather"
)

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64          `json:"used_bytes"`
	MaxBytes  int64          `json:"max_bytes"`
	Store     *storage.Stats `json:"store"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string                   `json:"status"`
	Version    string                   `json:"version"`
	Uptime     string                   `json:"uptime"`
	Database   string                   `json:"database"`
	Compaction monitor.CompactionStatus `json:"compaction"`
}

// DeviceStatus is the latest entry of one device with its decoded fan state.
type DeviceStatus struct {
	DeviceID    int64             `json:"device_id"`
	Device      string            `json:"device_name"`
	Logtime     int64             `json:"logtime"`
	Duration    int64             `json:"duration"`
	Temperature *float64          `json:"temperature"`
	Snapshot    map[string]string `json:"status,omitempty"`
	devices.Status
}

// StatusResponse lists every device's latest state.
type StatusResponse struct {
	Devices []DeviceStatus `json:"devices"`
}

// LogsResponse is a DataTables page of the change log.
type LogsResponse struct {
	Draw            int                      `json:"draw"`
	RecordsTotal    int64                    `json:"recordsTotal"`
	RecordsFiltered int64                    `json:"recordsFiltered"`
	Data            []storage.ChangeLogEntry `json:"data"`
}

// WeatherResponse pairs the cached AQI with the NWS report.
type WeatherResponse struct {
	AQI     airnow.Reading `json:"aqi"`
	Weather weather.Report `json:"weather"`
}

// CompactResponse reports a manual compaction.
type CompactResponse struct {
	Status  string `json:"status"`
	Buckets int    `json:"buckets,omitempty"`
	Entries int    `json:"entries_removed,omitempty"`
	Elapsed string `json:"elapsed"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// handleStatus returns the latest entry of every device.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatusTimeout)
	defer cancel()

	statuses, err := s.deviceStatuses(ctx)
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, StatusResponse{Devices: statuses})
}

func (s *Server) deviceStatuses(ctx context.Context) ([]DeviceStatus, error) {
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]DeviceStatus, 0, len(latest))
	for _, e := range latest {
		ds := DeviceStatus{
			DeviceID: e.DeviceID,
			Device:   e.DeviceName,
			Logtime:  e.Logtime,
			Duration: e.Duration,
		}
		if t, ok := e.Temperature(); ok {
			ds.Temperature = &t
		}
		status, err := e.Status()
		if err != nil {
			return nil, err
		}
		if len(status) > 0 {
			ds.Snapshot = status
			ds.Status, err = devices.ExtractStatus(status)
			if err != nil {
				s.log.WithError(err).WithField("device", e.DeviceName).Debug("Undecodable fan state")
			}
		}
		out = append(out, ds)
	}
	return out, nil
}

// handleLogs serves the change log in DataTables paging form:
// draw, start_row, length and optional start/end epoch bounds.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	draw, err := httpx.IntParam(q.Get("draw"), 1)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := httpx.IntParam(q.Get("start_row"), 0)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	length, err := httpx.IntParam(q.Get("length"), config.DefaultLogPageSize)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if length == 0 || length > config.MaxLogPageSize {
		length = config.MaxLogPageSize
	}

	req := storage.ChangeQuery{Offset: offset, Limit: length}
	for param, dst := range map[string]**int64{"start": &req.Start, "end": &req.End} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "invalid "+param+" parameter")
			return
		}
		*dst = &v
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	entries, total, err := s.store.Changes(ctx, req)
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, LogsResponse{
		Draw:            draw,
		RecordsTotal:    total,
		RecordsFiltered: total,
		Data:            entries,
	})
}

// handleWeather serves the AQI and the weather report, fetched side by side.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.WeatherTimeout)
	defer cancel()

	resp := WeatherResponse{Weather: weather.Report{Forecast: []weather.Period{}, Error: "weather is disabled"}}
	var wg sync.WaitGroup
	if s.weather != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp.Weather = s.weather.Report(ctx)
		}()
	}
	reading, err := s.aqi.Get(ctx)
	wg.Wait()
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}
	resp.AQI = reading
	httpx.RespondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	if s.control == nil {
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "no device controller configured")
		return
	}
	s.control.HandleSetSpeed(w, r)
}

// handleCompact runs compaction on demand. With start, end and bucket (seconds)
// it compacts that window; without, it runs the daily retention pass now.
func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx, cancel := context.WithTimeout(r.Context(), config.ManualCompactTimeout)
	defer cancel()
	began := time.Now()

	if q.Get("bucket") == "" {
		if err := s.compactor.DailyCleanup(ctx, time.Now().Truncate(time.Hour)); err != nil {
			httpx.RespondStoreError(w, r, err)
			return
		}
		s.compaction.RecordSuccess()
		httpx.RespondJSON(w, http.StatusOK, CompactResponse{Status: "ok", Elapsed: time.Since(began).Round(time.Millisecond).String()})
		return
	}

	bucket, err := httpx.IntParam(q.Get("bucket"), 0)
	if err != nil || bucket == 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "bucket must be a positive number of seconds")
		return
	}
	if q.Get("start") == "" || q.Get("end") == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start and end are required with bucket")
		return
	}
	start := httpx.ParseTimeParam(q.Get("start"), time.Time{})
	end := httpx.ParseTimeParam(q.Get("end"), time.Time{})

	res, err := s.compactor.Compact(ctx, start, end, time.Duration(bucket)*time.Second)
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, CompactResponse{
		Status:  "ok",
		Buckets: res.Buckets,
		Entries: res.EntriesIn,
		Elapsed: time.Since(began).Round(time.Millisecond).String(),
	})
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatusTimeout)
	defer cancel()

	overallStatus := "healthy"
	statusCode := http.StatusOK
	database := "ok"

	if _, err := s.store.Stats(ctx); err != nil {
		httpx.FromRequest(r).WithError(err).Warn("Health check could not reach the database")
		database = "unreachable"
		overallStatus = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if s.cfg.Retention.Enabled && !s.compaction.IsHealthy() {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, statusCode, HealthResponse{
		Status:     overallStatus,
		Version:    Version,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Database:   database,
		Compaction: s.compaction.Status(),
	})
}

// handleStorageUsage returns current storage usage.
func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usedBytes, err := s.storageMonitor.GetUsage()
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.StatusTimeout)
	defer cancel()
	stats, err := s.store.Stats(ctx)
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StorageUsage{
		UsedBytes: usedBytes,
		MaxBytes:  s.storageMonitor.GetLimit(),
		Store:     stats,
	})
}
