package monitor

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"
)

// StorageMonitor tracks database file usage with caching to avoid repeated stat calls.
type StorageMonitor struct {
	paths         []string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a monitor for a SQLite database file. The write-ahead
// log and shared-memory files next to it are counted too. An empty path (server
// databases) always reports zero usage.
func NewStorageMonitor(dbPath string, maxBytes int64) *StorageMonitor {
	var paths []string
	if dbPath != "" {
		paths = []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
	}
	return &StorageMonitor{
		paths:         paths,
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second, // Cache for 10 seconds, ingestion checks this per request
	}
}

// GetUsage returns current storage usage in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Return cached value if still fresh
	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	var usage int64
	for _, p := range sm.paths {
		size, err := fileUsage(p)
		if err != nil {
			return 0, err
		}
		usage += size
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes (0 = unlimited).
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// CheckStorageLimit returns an error once usage reaches the limit.
func (sm *StorageMonitor) CheckStorageLimit() error {
	if sm.maxBytes <= 0 {
		return nil
	}
	usage, err := sm.GetUsage()
	if err != nil {
		return err
	}
	if usage >= sm.maxBytes {
		return &LimitError{Used: usage, Max: sm.maxBytes}
	}
	return nil
}

// LimitError reports storage over its configured limit.
type LimitError struct {
	Used int64
	Max  int64
}

func (e *LimitError) Error() string {
	return "storage limit exceeded: " + formatMB(e.Used) + " of " + formatMB(e.Max) + " used"
}

// fileUsage returns the on-disk size of path; a missing file counts as zero.
func fileUsage(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	actualSize, err := getActualFileSize(path, info)
	if err != nil {
		// Fallback to logical size if we can't get actual size
		return info.Size(), nil
	}
	return actualSize, nil
}

// getActualFileSize is implemented in platform-specific files:
// - filesize_unix.go (Linux/Mac): Uses syscall.Stat_t.Blocks
// - filesize_windows.go (Windows): Uses GetCompressedFileSizeW API
