package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

const defaultChangePageSize = 100

// RecordChange appends one change log entry in its own transaction.
func (s *Store) RecordChange(ctx context.Context, c storage.Change) error {
	if c.DeviceID <= 0 {
		return fmt.Errorf("%w: device id %d", storage.ErrInvalidInput, c.DeviceID)
	}
	logtime := c.Time
	if logtime == 0 {
		logtime = s.now().Unix()
	}

	row := changelogRow{
		Logtime:  logtime,
		Origin:   c.Origin,
		DeviceID: c.DeviceID,
		NewValue: c.NewValue,
		Agent:    c.Agent,
		Comment:  c.Comment,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	return storage.Wrap("record change", err)
}

// Changes returns a page of the change log, newest first, and the number of
// entries matching the bounds.
func (s *Store) Changes(ctx context.Context, req storage.ChangeQuery) ([]storage.ChangeLogEntry, int64, error) {
	if req.Offset < 0 || req.Limit < 0 {
		return nil, 0, fmt.Errorf("%w: negative offset or limit", storage.ErrInvalidInput)
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultChangePageSize
	}

	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&changelogRow{})
		if req.Start != nil {
			q = q.Where("logtime >= ?", *req.Start)
		}
		if req.End != nil {
			q = q.Where("logtime <= ?", *req.End)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, storage.Wrap("changes", err)
	}

	var rows []changelogRow
	err := filtered().Order("logtime DESC").Order("entry_id DESC").
		Offset(req.Offset).Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, storage.Wrap("changes", err)
	}

	out := make([]storage.ChangeLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntry())
	}
	return out, total, nil
}
