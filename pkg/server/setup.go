// Package server wires the store, ingestion sources, background tasks and
// HTTP API into one process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/airnow"
	"github.com/hvacdash/hvacdash/pkg/compaction"
	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/control"
	"github.com/hvacdash/hvacdash/pkg/devices"
	"github.com/hvacdash/hvacdash/pkg/export"
	"github.com/hvacdash/hvacdash/pkg/httpx"
	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/mqttsrc"
	"github.com/hvacdash/hvacdash/pkg/server/monitor"
	"github.com/hvacdash/hvacdash/pkg/storage"
	"github.com/hvacdash/hvacdash/pkg/storage/sqlstore"
	"github.com/hvacdash/hvacdash/pkg/weather"
)

// Version is set at build time with -ldflags "-X github.com/hvacdash/hvacdash/pkg/server.Version=..."
var Version = "0.9.0"

// Server owns every long-lived component of the dashboard.
type Server struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	started time.Time

	store          storage.Store
	metrics        *monitor.Metrics
	compaction     *monitor.CompactionMonitor
	storageMonitor *monitor.StorageMonitor
	compactor      *compaction.Compactor

	devices *ingest.DeviceTracker
	writer  *ingest.Writer
	hub     *ingest.StatusHub
	ingest  *ingest.Handler
	export  *export.Handler
	aqi     *airnow.Cache

	// nil when weather is disabled
	weather weather.Source

	// nil when no controller is configured
	control *control.Controller
	poller  *devices.Poller

	// nil when no broker is configured
	mqtt *mqttsrc.Source

	wg sync.WaitGroup
}

// Option customizes New
type Option func(*options)

type options struct {
	client  devices.Client
	aqi     airnow.Source
	weather weather.Source
}

// WithDeviceClient replaces the controller client built from the config.
func WithDeviceClient(c devices.Client) Option {
	return func(o *options) { o.client = c }
}

// WithAQISource replaces the AirNow client built from the config.
func WithAQISource(src airnow.Source) Option {
	return func(o *options) { o.aqi = src }
}

// WithWeatherSource replaces the NWS client built from the config.
func WithWeatherSource(src weather.Source) Option {
	return func(o *options) { o.weather = src }
}

// InitializeStorage opens the configured database. For SQLite the data
// directory is created first.
func InitializeStorage(cfg *config.Config, metrics *monitor.Metrics, logger logrus.FieldLogger) (*sqlstore.Store, error) {
	if cfg.Database.Driver == sqlstore.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(sqlitePath(cfg.Database.DSN)), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Opening telemetry store")
	return sqlstore.Open(sqlstore.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		Logger:   logger,
		Observer: metrics,
	})
}

// New builds the server around an open store. metrics should be the
// collector the store was opened with.
func New(cfg *config.Config, store storage.Store, metrics *monitor.Metrics, logger logrus.FieldLogger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = monitor.NewMetrics()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:        cfg,
		log:        logger.WithField("component", "server"),
		started:    time.Now(),
		store:      store,
		metrics:    metrics,
		compaction: &monitor.CompactionMonitor{},
	}

	dbPath := ""
	if cfg.Database.Driver == sqlstore.DriverSQLite {
		dbPath = sqlitePath(cfg.Database.DSN)
	}
	s.storageMonitor = monitor.NewStorageMonitor(dbPath, cfg.Server.MaxStorageMB*1024*1024)
	s.compactor = compaction.New(store, logger).
		WithRecorder(compaction.Recorders{s.compaction, metrics})

	// Seed the device cap with what is already registered
	s.devices = ingest.NewDeviceTracker()
	ctx, cancel := context.WithTimeout(context.Background(), config.QueryTimeout)
	defer cancel()
	known, err := store.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	names := make([]string, 0, len(known))
	for _, d := range known {
		names = append(names, d.Name)
	}
	s.devices.Seed(names...)

	s.writer = ingest.NewWriter(store, s.devices, logger)
	s.ingest = ingest.NewHandler(s.writer, s.storageMonitor)
	s.hub = ingest.NewStatusHub(logger)
	s.export = export.NewHandler(store, logger)

	client := o.client
	if client == nil && cfg.Controller.URL != "" {
		client, err = devices.NewControllerClient(cfg.Controller.URL, config.ControllerTimeout, logger)
		if err != nil {
			return nil, err
		}
	}
	if client != nil {
		interval := cfg.Controller.PollInterval
		if interval <= 0 {
			interval = config.DefaultPollInterval
		}
		s.control = control.New(store, client, s.writer, logger)
		s.poller = devices.NewPoller(client, s.writer, store, interval, metrics, logger)
	}

	source := o.aqi
	if source == nil && cfg.AirNow.Enabled {
		source = airnow.NewClient(cfg.AirNow.BaseURL, cfg.AirNow.Zipcode, cfg.AirNow.APIKey, config.ControllerTimeout, logger)
	}
	s.aqi = airnow.NewCache(source, store, s.writer, config.AQICacheAge, logger)

	s.weather = o.weather
	if s.weather == nil && cfg.Weather.Enabled {
		s.weather = weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.Lat, cfg.Weather.Lon,
			cfg.Weather.UserAgent, config.ControllerTimeout, logger)
	}

	if cfg.MQTT.Broker != "" {
		s.mqtt = mqttsrc.New(mqttsrc.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, s.writer, logger)
	}

	s.log.WithFields(logrus.Fields{
		"devices":    len(known),
		"controller": s.control != nil,
		"airnow":     source != nil,
		"weather":    s.weather != nil,
		"mqtt":       s.mqtt != nil,
	}).Info("Server components ready")
	return s, nil
}

// Router builds the HTTP handler for every route.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(httpx.RequestID(s.log), httpx.Recoverer, httpx.Logger, httpx.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	route := func(path string, h http.HandlerFunc, methods ...string) {
		api.Handle(path, s.metrics.WrapHandler(path, h)).Methods(append(methods, http.MethodOptions)...)
	}

	route("/version", s.handleVersion, http.MethodGet)
	route("/status", s.handleStatus, http.MethodGet)
	route("/logs", s.handleLogs, http.MethodGet)
	route("/devices", s.ingest.HandleDevices, http.MethodGet)
	route("/devices/{id}/log", s.ingest.HandleDeviceLog, http.MethodGet)
	route("/readings", s.ingest.HandleReadings, http.MethodPost)
	route("/ingest/stats", s.ingest.HandleDeviceStats, http.MethodGet)
	route("/set_speed", s.handleSetSpeed, http.MethodPost)
	route("/aqi", s.aqi.HandleAQI, http.MethodGet)
	route("/weather", s.handleWeather, http.MethodGet)
	route("/compact", s.handleCompact, http.MethodPost)
	route("/health", s.handleHealth, http.MethodGet)
	route("/storage", s.handleStorageUsage, http.MethodGet)
	route("/export", s.export.HandleExport, http.MethodGet)
	route("/import", s.export.HandleImport, http.MethodPost)

	// The upgrade needs the raw ResponseWriter, so no metrics wrapper here
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	return router
}

// sqlitePath strips the URI scheme and query from a SQLite DSN.
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}
