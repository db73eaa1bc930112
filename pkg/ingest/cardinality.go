package ingest

import (
	"sort"
	"sync"
	"time"
)

// DeviceTracker caps how many distinct device names ingestion may register and
// remembers when each device last reported.
// Device ids are never reclaimed, so the tracker never forgets a name.
type DeviceTracker struct {
	mu sync.RWMutex

	// lastSeen maps device name -> wall time of its last accepted reading
	lastSeen map[string]time.Time

	limit int
	now   func() time.Time
}

// NewDeviceTracker creates a tracker enforcing MaxDevices
func NewDeviceTracker() *DeviceTracker {
	return newDeviceTracker(MaxDevices)
}

func newDeviceTracker(limit int) *DeviceTracker {
	return &DeviceTracker{
		lastSeen: make(map[string]time.Time),
		limit:    limit,
		now:      time.Now,
	}
}

// Seed marks names as already registered (typically the registry contents at startup)
// without counting them as having reported.
func (c *DeviceTracker) Seed(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		if _, ok := c.lastSeen[name]; !ok {
			c.lastSeen[name] = time.Time{}
		}
	}
}

// Check reports whether a reading for name may be accepted
func (c *DeviceTracker) Check(name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, exists := c.lastSeen[name]; exists {
		return nil
	}
	if len(c.lastSeen) >= c.limit {
		return ErrDeviceLimit
	}
	return nil
}

// Record marks name as having reported now.
// Should be called after Check() passes and the reading is stored
func (c *DeviceTracker) Record(name string) {
	c.mu.Lock()
	c.lastSeen[name] = c.now()
	c.mu.Unlock()
}

// Stats returns current tracker statistics
func (c *DeviceTracker) Stats(staleAfter time.Duration) DeviceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	stats := DeviceStats{
		Devices:        len(c.lastSeen),
		DeviceLimit:    c.limit,
		UtilizationPct: float64(len(c.lastSeen)) / float64(c.limit) * 100,
	}
	for name, seen := range c.lastSeen {
		if seen.IsZero() {
			continue
		}
		stats.Reporting++
		if now.Sub(seen) > staleAfter {
			stats.Stale = append(stats.Stale, name)
		}
	}
	sort.Strings(stats.Stale)
	return stats
}

// DeviceStats summarizes which devices are reporting
type DeviceStats struct {
	Devices        int      `json:"devices"`
	Reporting      int      `json:"reporting"`
	Stale          []string `json:"stale,omitempty"`
	DeviceLimit    int      `json:"device_limit"`
	UtilizationPct float64  `json:"utilization_percent"`
}
