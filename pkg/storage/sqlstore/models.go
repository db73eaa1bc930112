package sqlstore

import (
	"github.com/hvacdash/hvacdash/pkg/storage"
)

// deviceRow is a registered device.
type deviceRow struct {
	DeviceID   int64  `gorm:"column:device_id;primaryKey;autoIncrement"`
	DeviceName string `gorm:"column:device_name;size:255;not null;uniqueIndex:ux_devices_name"`
	ExternalID *int64 `gorm:"column:external_id"`
}

func (deviceRow) TableName() string { return "devices" }

func (r deviceRow) toDevice() storage.Device {
	return storage.Device{ID: r.DeviceID, Name: r.DeviceName, ExternalID: r.ExternalID}
}

// devlogRow covers [logtime, logtime+duration) for one device.
type devlogRow struct {
	LogID    int64   `gorm:"column:log_id;primaryKey;autoIncrement"`
	DeviceID int64   `gorm:"column:device_id;not null;index:idx_devlog_device_logtime,priority:1"`
	Logtime  int64   `gorm:"column:logtime;not null;index:idx_devlog_device_logtime,priority:2;index:idx_devlog_logtime"`
	Duration int64   `gorm:"column:duration;not null"`
	Temp10x  *int64  `gorm:"column:temp10x"`
	Status   *string `gorm:"column:status_json;type:text"`
}

func (devlogRow) TableName() string { return "devlog" }

func (r devlogRow) toEntry() storage.Entry {
	return storage.Entry{
		LogID:    r.LogID,
		DeviceID: r.DeviceID,
		Logtime:  r.Logtime,
		Duration: r.Duration,
		Temp10x:  r.Temp10x,
		Snapshot: statusBytes(r.Status),
	}
}

func fromEntry(e storage.Entry) devlogRow {
	return devlogRow{
		DeviceID: e.DeviceID,
		Logtime:  e.Logtime,
		Duration: e.Duration,
		Temp10x:  e.Temp10x,
		Status:   statusString(e.Snapshot),
	}
}

// entryView is a devlog row joined with its device name.
type entryView struct {
	LogID      int64   `gorm:"column:log_id"`
	DeviceID   int64   `gorm:"column:device_id"`
	DeviceName string  `gorm:"column:device_name"`
	Logtime    int64   `gorm:"column:logtime"`
	Duration   int64   `gorm:"column:duration"`
	Temp10x    *int64  `gorm:"column:temp10x"`
	Status     *string `gorm:"column:status_json"`
}

const entryViewColumns = "d.log_id, d.device_id, dn.device_name, d.logtime, d.duration, d.temp10x, d.status_json"

func (v entryView) toEntry() storage.Entry {
	return storage.Entry{
		LogID:      v.LogID,
		DeviceID:   v.DeviceID,
		DeviceName: v.DeviceName,
		Logtime:    v.Logtime,
		Duration:   v.Duration,
		Temp10x:    v.Temp10x,
		Snapshot:   statusBytes(v.Status),
	}
}

// changelogRow is one commanded change. Never updated or deleted.
type changelogRow struct {
	EntryID  int64  `gorm:"column:entry_id;primaryKey;autoIncrement"`
	Logtime  int64  `gorm:"column:logtime;not null;index:idx_changelog_logtime"`
	Origin   string `gorm:"column:ipaddr;size:64"`
	DeviceID int64  `gorm:"column:device_id;not null;index:idx_changelog_device"`
	NewValue string `gorm:"column:new_value;size:255"`
	Agent    string `gorm:"column:agent;size:64"`
	Comment  string `gorm:"column:comment;type:text"`
}

func (changelogRow) TableName() string { return "changelog" }

func (r changelogRow) toEntry() storage.ChangeLogEntry {
	return storage.ChangeLogEntry{
		EntryID:  r.EntryID,
		Logtime:  r.Logtime,
		Origin:   r.Origin,
		DeviceID: r.DeviceID,
		NewValue: r.NewValue,
		Agent:    r.Agent,
		Comment:  r.Comment,
	}
}

func statusString(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

func statusBytes(s *string) []byte {
	if s == nil {
		return nil
	}
	return []byte(*s)
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// nullable turns a nil pointer into an untyped nil so map updates write NULL.
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
