package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

// FirstUnderWidth finds any entry starting in [start, end) shorter than width.
func (s *Store) FirstUnderWidth(ctx context.Context, start, end, width int64) (storage.Entry, bool, error) {
	var row devlogRow
	err := s.db.WithContext(ctx).
		Where("logtime >= ? AND logtime < ? AND duration < ?", start, end, width).
		Order("logtime ASC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Entry{}, false, nil
	}
	if err != nil {
		return storage.Entry{}, false, storage.Wrap("first under width", err)
	}
	return row.toEntry(), true, nil
}

// ReplaceWindow swaps every entry starting in [start, end) for what fn returns.
// Nothing changes if fn fails or returns an entry outside the window.
// An earlier entry of a replaced device that runs into the window is cut at start.
// An entry in the window that runs past end keeps its tail as a new entry at
// end with the same temperature and snapshot.
func (s *Store) ReplaceWindow(ctx context.Context, start, end int64, fn func([]storage.Entry) ([]storage.Entry, error)) error {
	if end <= start {
		return fmt.Errorf("%w: empty window [%d, %d)", storage.ErrInvalidInput, start, end)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []devlogRow
		err := tx.Where("logtime >= ? AND logtime < ?", start, end).
			Order("device_id ASC").Order("logtime ASC").
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		in := make([]storage.Entry, 0, len(rows))
		var tails []devlogRow
		for _, r := range rows {
			in = append(in, r.toEntry())
			if r.Logtime+r.Duration > end {
				tail := r
				tail.LogID = 0
				tail.Logtime = end
				tail.Duration = r.Logtime + r.Duration - end
				tails = append(tails, tail)
			}
		}
		out, err := fn(in)
		if err != nil {
			return err
		}

		replacements := make([]devlogRow, 0, len(out))
		for _, e := range out {
			if e.DeviceID <= 0 || e.Duration < 1 || e.Logtime < start || e.Logtime >= end {
				return fmt.Errorf("%w: replacement entry (device %d, logtime %d, duration %d) outside [%d, %d)",
					storage.ErrInvalidInput, e.DeviceID, e.Logtime, e.Duration, start, end)
			}
			replacements = append(replacements, fromEntry(e))
		}

		if err := tx.Where("logtime >= ? AND logtime < ?", start, end).Delete(&devlogRow{}).Error; err != nil {
			return err
		}
		if len(tails) > 0 {
			if err := tx.Create(&tails).Error; err != nil {
				return err
			}
		}
		if len(replacements) == 0 {
			return nil
		}

		trimmed := make(map[int64]bool, len(replacements))
		for _, r := range replacements {
			if trimmed[r.DeviceID] {
				continue
			}
			trimmed[r.DeviceID] = true
			err := tx.Model(&devlogRow{}).
				Where("device_id = ? AND logtime < ? AND logtime + duration > ?", r.DeviceID, start, start).
				Update("duration", gorm.Expr("? - logtime", start)).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(&replacements).Error
	})
	return storage.Wrap("replace window", err)
}
