package export

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/httpx"
)

// maxImportBytes bounds the body of an import request
const maxImportBytes = 64 << 20

// Store is everything the export and import endpoints need
type Store interface {
	Source
	Target
}

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	log      logrus.FieldLogger
}

// NewHandler creates a new export/import handler
func NewHandler(store Store, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store, logger),
		log:      logger.WithField("component", "export"),
	}
}

// HandleExport handles GET /api/v1/export
// Query params:
//   - format: "json" or "csv" (default: csv)
//   - start: RFC3339 or epoch seconds (default: 24h ago)
//   - end: RFC3339 or epoch seconds (default: now)
//   - device: device name filter, repeatable (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	// Parse time range
	end := httpx.ParseTimeParam(query.Get("end"), time.Now())
	start := httpx.ParseTimeParam(query.Get("start"), end.Add(-config.DefaultExportWindow))

	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("Time range too large. Maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{
		Start:   start,
		End:     end,
		Devices: query["device"],
		Format:  format,
	}

	timestamp := time.Now().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=hvacdash-export-%s.%s", timestamp, format))

	var result *ExportResult
	var err error
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		// Headers may be gone already; the client sees a truncated file
		h.log.WithError(err).Error("Export failed")
		httpx.RespondStoreError(w, r, err)
		return
	}

	h.log.Infof("Exported %d entries of %d devices (%s) from %s",
		result.EntriesExported, result.Devices, format, result.TimeRange)
}

// HandleImport handles POST /api/v1/import with a JSON or CSV body
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json or text/csv")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	var result *ImportResult
	switch strings.ToLower(mediaType) {
	case "application/json":
		result, err = h.importer.ImportFromJSON(r.Context(), body)
	case "text/csv":
		result, err = h.importer.ImportFromCSV(r.Context(), body)
	default:
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/csv")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("Import failed")
		httpx.RespondStoreError(w, r, err)
		return
	}

	// Log warnings if there were validation errors
	if result.ErrorCount > 0 {
		entry := h.log.WithField("batch_id", result.BatchID)
		entry.Warnf("Import completed with %d validation errors", result.ErrorCount)
		for i, msg := range result.Errors {
			if i == 10 {
				entry.Warnf("... and %d more errors", result.ErrorCount-10)
				break
			}
			entry.Warn(msg)
		}
	}

	httpx.RespondJSON(w, http.StatusOK, result)
}
