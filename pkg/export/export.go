package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

// Source is what the exporter reads from
type Source interface {
	Devices(ctx context.Context) ([]storage.Device, error)
	Range(ctx context.Context, req storage.RangeQuery) ([]storage.Entry, error)
}

// Exporter handles exporting log entries to various formats
type Exporter struct {
	store Source
}

// NewExporter creates a new exporter
func NewExporter(store Source) *Exporter {
	return &Exporter{store: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Time range to export; entries overlapping [Start, End) are included
	Start time.Time
	End   time.Time

	// Filter by device names (nil = all devices)
	Devices []string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	EntriesExported int       `json:"entries_exported"`
	Devices         int       `json:"devices"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Record is one exported log entry
type Record struct {
	Logtime     int64             `json:"logtime"`
	Device      string            `json:"device"`
	Duration    int64             `json:"duration"`
	Temperature *float64          `json:"temperature,omitempty"`
	Status      map[string]string `json:"status,omitempty"`
}

// Metadata heads a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	RecordCount int       `json:"record_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Document is the JSON export layout, also accepted by the importer
type Document struct {
	Metadata Metadata `json:"metadata"`
	Records  []Record `json:"records"`
}

// csvHeader is the column layout of CSV exports and imports
var csvHeader = []string{"logtime", "device", "duration", "temperature", "status"}

// ExportToJSON exports entries as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, devices, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:  time.Now(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			RecordCount: len(records),
			Format:      "json",
			Version:     "1.0",
		},
		Records: records,
	}

	// Encode as pretty JSON
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		EntriesExported: len(records),
		Devices:         devices,
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "json",
		ExportedAt:      doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports entries as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, devices, err := e.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row, err := rec.csvRow()
		if err != nil {
			return nil, err
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		EntriesExported: len(records),
		Devices:         devices,
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "csv",
		ExportedAt:      time.Now(),
	}, nil
}

// collect gathers the entries of every selected device, ordered by device name then logtime.
func (e *Exporter) collect(ctx context.Context, opts ExportOptions) ([]Record, int, error) {
	devices, err := e.store.Devices(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list devices: %w", err)
	}

	wanted := make(map[string]bool, len(opts.Devices))
	for _, name := range opts.Devices {
		wanted[name] = true
	}

	var records []Record
	exported := 0
	for _, d := range devices {
		if len(wanted) > 0 && !wanted[d.Name] {
			continue
		}
		entries, err := e.store.Range(ctx, storage.RangeQuery{
			DeviceID: d.ID,
			Start:    opts.Start.Unix(),
			End:      opts.End.Unix(),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to query device %q: %w", d.Name, err)
		}
		if len(entries) > 0 {
			exported++
		}
		for _, entry := range entries {
			rec, err := newRecord(d.Name, entry)
			if err != nil {
				return nil, 0, err
			}
			records = append(records, rec)
		}
	}
	return records, exported, nil
}

func newRecord(device string, e storage.Entry) (Record, error) {
	rec := Record{Logtime: e.Logtime, Device: device, Duration: e.Duration}
	if t, ok := e.Temperature(); ok {
		rec.Temperature = &t
	}
	status, err := e.Status()
	if err != nil {
		return Record{}, err
	}
	rec.Status = status
	return rec, nil
}

func (r Record) csvRow() ([]string, error) {
	temp := ""
	if r.Temperature != nil {
		temp = strconv.FormatFloat(*r.Temperature, 'f', 1, 64)
	}
	canonical, err := storage.Snapshot(r.Status).Canonical()
	if err != nil {
		return nil, err
	}
	return []string{
		strconv.FormatInt(r.Logtime, 10),
		r.Device,
		strconv.FormatInt(r.Duration, 10),
		temp,
		string(canonical),
	}, nil
}

// sortRecords orders records for replay: by logtime, then device.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Logtime != records[j].Logtime {
			return records[i].Logtime < records[j].Logtime
		}
		return records[i].Device < records[j].Device
	})
}

func timeRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}
