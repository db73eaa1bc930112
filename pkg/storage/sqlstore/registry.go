package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hvacdash/hvacdash/pkg/storage"
)

// deviceCache maps device names to ids. Ids never change once assigned,
// so entries only go away on Reset.
type deviceCache struct {
	mu      sync.RWMutex
	ids     map[string]int64
	enabled bool
}

func newDeviceCache(enabled bool) *deviceCache {
	return &deviceCache{ids: make(map[string]int64), enabled: enabled}
}

func (c *deviceCache) get(name string) (int64, bool) {
	if !c.enabled {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok
}

func (c *deviceCache) put(name string, id int64) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.ids[name] = id
	c.mu.Unlock()
}

func (c *deviceCache) reset() {
	c.mu.Lock()
	c.ids = make(map[string]int64)
	c.mu.Unlock()
}

// DeviceID returns the id for name, registering the device on first sight.
func (s *Store) DeviceID(ctx context.Context, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: empty device name", storage.ErrInvalidInput)
	}
	if id, ok := s.cache.get(name); ok {
		return id, nil
	}

	var row deviceRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_name"}},
			DoNothing: true,
		}).Create(&deviceRow{DeviceName: name})
		if insert.Error != nil {
			return insert.Error
		}
		return tx.Where("device_name = ?", name).Take(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &storage.StorageError{Op: "device id", Err: fmt.Errorf("no row for device %q after insert", name)}
	}
	if err != nil {
		return 0, storage.Wrap("device id", err)
	}

	s.cache.put(name, row.DeviceID)
	return row.DeviceID, nil
}

// LookupDevice returns the named device without creating it.
func (s *Store) LookupDevice(ctx context.Context, name string) (storage.Device, error) {
	var row deviceRow
	err := s.db.WithContext(ctx).Where("device_name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Device{}, fmt.Errorf("device %q: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Device{}, storage.Wrap("lookup device", err)
	}
	s.cache.put(row.DeviceName, row.DeviceID)
	return row.toDevice(), nil
}

// Device returns the device with the given id.
func (s *Store) Device(ctx context.Context, id int64) (storage.Device, error) {
	var row deviceRow
	err := s.db.WithContext(ctx).Where("device_id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Device{}, fmt.Errorf("device %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Device{}, storage.Wrap("device", err)
	}
	return row.toDevice(), nil
}

// Devices lists every registered device by name.
func (s *Store) Devices(ctx context.Context) ([]storage.Device, error) {
	var rows []deviceRow
	if err := s.db.WithContext(ctx).Order("device_name").Find(&rows).Error; err != nil {
		return nil, storage.Wrap("devices", err)
	}
	out := make([]storage.Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDevice())
	}
	return out, nil
}

// BindExternalID records which controller unit the named device is.
func (s *Store) BindExternalID(ctx context.Context, name string, externalID int64) (int64, error) {
	id, err := s.DeviceID(ctx, name)
	if err != nil {
		return 0, err
	}
	err = s.db.WithContext(ctx).Model(&deviceRow{}).
		Where("device_id = ?", id).
		Update("external_id", externalID).Error
	if err != nil {
		return 0, storage.Wrap("bind external id", err)
	}
	return id, nil
}
