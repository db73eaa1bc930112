package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/hvacdash/hvacdash/pkg/compaction"
)

// staleAfter is how long a daily job may go without succeeding
const staleAfter = 48 * time.Hour

// CompactionMonitor tracks retention health overall and per window.
type CompactionMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	windows           map[string]*windowState
}

type windowState struct {
	lastRun           time.Time
	consecutiveErrors int
	lastError         string
	lastBuckets       int
	totalBuckets      int
}

var _ compaction.WindowRecorder = (*CompactionMonitor)(nil)

// RecordSuccess records a successful retention run.
func (cm *CompactionMonitor) RecordSuccess() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastSuccess = time.Now()
	cm.lastAttempt = time.Now()
	cm.consecutiveErrors = 0
	cm.lastError = ""
}

// RecordFailure records a failed retention run.
func (cm *CompactionMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastAttempt = time.Now()
	cm.consecutiveErrors++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// RecordWindow records the outcome of one retention window.
func (cm *CompactionMonitor) RecordWindow(window string, res compaction.Result, err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.windows == nil {
		cm.windows = make(map[string]*windowState)
	}
	ws, ok := cm.windows[window]
	if !ok {
		ws = &windowState{}
		cm.windows[window] = ws
	}

	ws.lastRun = time.Now()
	ws.lastBuckets = res.Buckets
	ws.totalBuckets += res.Buckets
	if err != nil {
		ws.consecutiveErrors++
		ws.lastError = err.Error()
		return
	}
	ws.consecutiveErrors = 0
	ws.lastError = ""
}

// IsHealthy returns true if retention is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - Haven't succeeded in >48 hours
//   - More than 3 consecutive failures, overall or in any window
func (cm *CompactionMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.healthyLocked()
}

func (cm *CompactionMonitor) healthyLocked() bool {
	if cm.lastSuccess.IsZero() {
		return false
	}
	if time.Since(cm.lastSuccess) > staleAfter {
		return false
	}
	if cm.consecutiveErrors > 3 {
		return false
	}
	for _, ws := range cm.windows {
		if ws.consecutiveErrors > 3 {
			return false
		}
	}
	return true
}

// CompactionStatus is the retention section of the health check.
type CompactionStatus struct {
	Healthy           bool           `json:"healthy"`
	LastSuccess       string         `json:"last_success,omitempty"`
	TimeSinceSuccess  string         `json:"time_since_success,omitempty"`
	LastAttempt       string         `json:"last_attempt,omitempty"`
	ConsecutiveErrors int            `json:"consecutive_errors,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	Windows           []WindowStatus `json:"windows,omitempty"`
}

// WindowStatus describes one retention window.
type WindowStatus struct {
	Name              string `json:"name"`
	LastRun           string `json:"last_run"`
	LastBuckets       int    `json:"last_buckets"`
	TotalBuckets      int    `json:"total_buckets"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current retention status for health checks.
func (cm *CompactionMonitor) Status() CompactionStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CompactionStatus{
		Healthy: cm.healthyLocked(),
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(cm.lastSuccess).Round(time.Second).String()
	}

	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}

	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	for name, ws := range cm.windows {
		status.Windows = append(status.Windows, WindowStatus{
			Name:              name,
			LastRun:           ws.lastRun.Format(time.RFC3339),
			LastBuckets:       ws.lastBuckets,
			TotalBuckets:      ws.totalBuckets,
			ConsecutiveErrors: ws.consecutiveErrors,
			LastError:         ws.lastError,
		})
	}
	sort.Slice(status.Windows, func(i, j int) bool { return status.Windows[i].Name < status.Windows[j].Name })

	return status
}
