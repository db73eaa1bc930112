package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/storage"
)

// maxReportedErrors caps how many row errors an ImportResult carries
const maxReportedErrors = 100

// Target is what the importer writes to
type Target interface {
	ingest.Store
	WithReducedDurability(ctx context.Context, fn func(ctx context.Context) error) error
}

// Importer replays exported records through the normal ingestion path
type Importer struct {
	store  Target
	writer *ingest.Writer
	log    logrus.FieldLogger
}

// NewImporter creates a new importer
func NewImporter(store Target, logger logrus.FieldLogger) *Importer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Importer{
		store:  store,
		writer: ingest.NewWriter(store, nil, logger),
		log:    logger.WithField("component", "import"),
	}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	BatchID         string    `json:"batch_id"`
	RecordsImported int       `json:"records_imported"`
	ReadingsWritten int       `json:"readings_written"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
	ErrorCount      int       `json:"error_count"`
}

func (r *ImportResult) addError(msg string) {
	r.ErrorCount++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// ImportFromJSON imports a JSON document produced by ExportToJSON
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON: %v", storage.ErrInvalidInput, err)
	}

	result := im.newResult()
	valid := make([]Record, 0, len(doc.Records))
	for i, rec := range doc.Records {
		if err := validateRecord(rec); err != nil {
			result.addError(fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		valid = append(valid, rec)
	}
	return im.replay(ctx, valid, result)
}

// ImportFromCSV imports CSV with the columns logtime,device,duration,temperature,status
func (im *Importer) ImportFromCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", storage.ErrInvalidInput, err)
	}
	for i, col := range csvHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != col {
			return nil, fmt.Errorf("%w: CSV column %d is %q, want %q", storage.ErrInvalidInput, i+1, header[i], col)
		}
	}

	result := im.newResult()
	var valid []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				result.addError(fmt.Sprintf("line %d: %v", line, err))
				continue
			}
			return nil, fmt.Errorf("%w: line %d: %v", storage.ErrInvalidInput, line, err)
		}
		rec, err := parseRow(row)
		if err == nil {
			err = validateRecord(rec)
		}
		if err != nil {
			result.addError(fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		valid = append(valid, rec)
	}
	return im.replay(ctx, valid, result)
}

func (im *Importer) newResult() *ImportResult {
	return &ImportResult{BatchID: uuid.NewString(), ImportedAt: time.Now()}
}

// replay ingests records oldest first with relaxed durability. Each record
// becomes a forced reading at its start and, for longer entries, a plain
// reading at its last covered second, which extension stretches back into
// the original entry. Cancellation is checked between records.
func (im *Importer) replay(ctx context.Context, records []Record, result *ImportResult) (*ImportResult, error) {
	log := im.log.WithField("batch_id", result.BatchID)
	if len(records) == 0 {
		result.TimeRange = "empty"
		return result, nil
	}
	sortRecords(records)
	result.TimeRange = timeRange(time.Unix(records[0].Logtime, 0), time.Unix(records[len(records)-1].Logtime, 0))

	started := time.Now()
	err := im.store.WithReducedDurability(ctx, func(ctx context.Context) error {
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("import cancelled after %d of %d records: %w", i, len(records), err)
			}
			n, err := im.replayRecord(ctx, rec)
			result.ReadingsWritten += n
			if errors.Is(err, storage.ErrInvalidInput) {
				result.addError(fmt.Sprintf("record %s@%d: %v", rec.Device, rec.Logtime, err))
				continue
			}
			if err != nil {
				return fmt.Errorf("record %s@%d: %w", rec.Device, rec.Logtime, err)
			}
			result.RecordsImported++
		}
		return nil
	})

	log.WithFields(logrus.Fields{
		"records":  result.RecordsImported,
		"readings": result.ReadingsWritten,
		"errors":   result.ErrorCount,
	}).Infof("Import finished in %v", time.Since(started).Round(time.Millisecond))
	return result, err
}

// replayRecord writes one record. Once its first reading is in, the rest of
// the record is written even if ctx is cancelled, so a record is never left
// half imported.
func (im *Importer) replayRecord(ctx context.Context, rec Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := rec.Logtime
	s := ingest.Sample{
		Device:      rec.Device,
		Time:        &start,
		Temperature: rec.Temperature,
		Status:      rec.Status,
		Force:       true,
	}
	if _, err := im.writer.Write(ctx, s); err != nil {
		return 0, err
	}
	if rec.Duration <= 1 {
		return 1, nil
	}

	last := rec.Logtime + rec.Duration - 1
	s.Time = &last
	s.Force = false
	if _, err := im.writer.Write(context.WithoutCancel(ctx), s); err != nil {
		return 1, err
	}
	return 2, nil
}

func parseRow(row []string) (Record, error) {
	logtime, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid logtime %q", row[0])
	}
	duration := int64(1)
	if d := strings.TrimSpace(row[2]); d != "" {
		duration, err = strconv.ParseInt(d, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid duration %q", row[2])
		}
	}

	rec := Record{Logtime: logtime, Device: row[1], Duration: duration}
	if t := strings.TrimSpace(row[3]); t != "" {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid temperature %q", row[3])
		}
		rec.Temperature = &v
	}
	if st := strings.TrimSpace(row[4]); st != "" {
		if err := json.Unmarshal([]byte(st), &rec.Status); err != nil {
			return Record{}, fmt.Errorf("invalid status: %v", err)
		}
	}
	return rec, nil
}

// validateRecord validates a record before import
func validateRecord(r Record) error {
	if strings.TrimSpace(r.Device) == "" {
		return fmt.Errorf("device cannot be empty")
	}
	if r.Logtime < 0 {
		return fmt.Errorf("logtime %d is negative", r.Logtime)
	}
	if r.Duration < 1 {
		return fmt.Errorf("duration %d is below 1", r.Duration)
	}
	if r.Temperature != nil && (math.IsNaN(*r.Temperature) || math.IsInf(*r.Temperature, 0)) {
		return fmt.Errorf("temperature %v is not finite", *r.Temperature)
	}
	if r.Temperature == nil && len(r.Status) == 0 {
		return fmt.Errorf("record has neither temperature nor status")
	}
	return nil
}
