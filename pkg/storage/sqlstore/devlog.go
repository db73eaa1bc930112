package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

// Ingest records one reading. Equal consecutive readings stretch the open entry
// instead of adding rows; anything else starts a new entry of duration 1.
func (s *Store) Ingest(ctx context.Context, r storage.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}

	var temp *int64
	if r.Temperature != nil {
		v := storage.EncodeTemp(*r.Temperature)
		temp = &v
	}
	snap, err := r.Snapshot.Canonical()
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	status := statusString(snap)

	var outcome storage.IngestOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		outcome, txErr = s.ingestTx(tx, r, temp, status)
		return txErr
	})
	if err != nil {
		return storage.Wrap("ingest", err)
	}
	s.observer.ObserveIngest(outcome)
	return nil
}

func (s *Store) ingestTx(tx *gorm.DB, r storage.Reading, temp *int64, status *string) (storage.IngestOutcome, error) {
	fresh := devlogRow{DeviceID: r.DeviceID, Logtime: r.Time, Duration: 1, Temp10x: temp, Status: status}

	var open devlogRow
	err := tx.Where("device_id = ?", r.DeviceID).Order("logtime DESC").Limit(1).Take(&open).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.OutcomeInserted, tx.Create(&fresh).Error
	}
	if err != nil {
		return "", err
	}

	prev, isOpen := open, true
	if open.Logtime > r.Time {
		// Late reading: find the entry it lands after
		isOpen = false
		err = tx.Where("device_id = ? AND logtime <= ?", r.DeviceID, r.Time).
			Order("logtime DESC").Limit(1).Take(&prev).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.OutcomeInserted, tx.Create(&fresh).Error
		}
		if err != nil {
			return "", err
		}
	}

	fields := logrus.Fields{"device_id": r.DeviceID, "logtime": r.Time, "log_id": prev.LogID}

	if prev.Logtime == r.Time {
		if prev.Duration == 1 {
			err := tx.Model(&devlogRow{}).Where("log_id = ?", prev.LogID).Updates(map[string]any{
				"temp10x":     nullable(temp),
				"status_json": nullable(status),
			}).Error
			return storage.OutcomeCorrected, err
		}
		s.log.WithFields(fields).Debug("Ignoring reading at the start of a longer entry")
		return storage.OutcomeIgnored, nil
	}

	same := !r.Force && equalInt(prev.Temp10x, temp) && equalString(prev.Status, status)
	inside := r.Time < prev.Logtime+prev.Duration

	switch {
	case same && inside:
		return storage.OutcomeCovered, nil

	case same && isOpen:
		err := tx.Model(&devlogRow{}).Where("log_id = ?", prev.LogID).
			Update("duration", r.Time-prev.Logtime+1).Error
		return storage.OutcomeExtended, err

	case inside:
		// A different value inside an existing interval ends that interval at r.Time
		s.log.WithFields(fields).Debug("Splitting entry at late reading")
		err := tx.Model(&devlogRow{}).Where("log_id = ?", prev.LogID).
			Update("duration", r.Time-prev.Logtime).Error
		if err != nil {
			return "", err
		}
		return storage.OutcomeSplit, tx.Create(&fresh).Error
	}

	return storage.OutcomeInserted, tx.Create(&fresh).Error
}

// Latest returns the newest entry of every device, ordered by device name.
func (s *Store) Latest(ctx context.Context) ([]storage.Entry, error) {
	db := s.db.WithContext(ctx)
	newest := db.Model(&devlogRow{}).
		Select("device_id, MAX(logtime) AS max_logtime").
		Group("device_id")

	var rows []entryView
	err := db.Table("devlog AS d").
		Select(entryViewColumns).
		Joins("JOIN (?) AS m ON m.device_id = d.device_id AND m.max_logtime = d.logtime", newest).
		Joins("JOIN devices AS dn ON dn.device_id = d.device_id").
		Order("dn.device_name").
		Scan(&rows).Error
	if err != nil {
		return nil, storage.Wrap("latest", err)
	}
	return toEntries(rows), nil
}

// Range returns one device's entries overlapping [Start, End), oldest first.
func (s *Store) Range(ctx context.Context, req storage.RangeQuery) ([]storage.Entry, error) {
	if req.DeviceID <= 0 {
		return nil, fmt.Errorf("%w: device id %d", storage.ErrInvalidInput, req.DeviceID)
	}
	if req.End > 0 && req.End <= req.Start {
		return nil, fmt.Errorf("%w: empty range [%d, %d)", storage.ErrInvalidInput, req.Start, req.End)
	}

	q := s.db.WithContext(ctx).Table("devlog AS d").
		Select(entryViewColumns).
		Joins("JOIN devices AS dn ON dn.device_id = d.device_id").
		Where("d.device_id = ?", req.DeviceID).
		Where("d.logtime + d.duration > ?", req.Start)
	if req.End > 0 {
		q = q.Where("d.logtime < ?", req.End)
	}
	q = q.Order("d.logtime ASC")
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}

	var rows []entryView
	if err := q.Scan(&rows).Error; err != nil {
		return nil, storage.Wrap("range", err)
	}
	return toEntries(rows), nil
}

func toEntries(rows []entryView) []storage.Entry {
	out := make([]storage.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntry())
	}
	return out
}
