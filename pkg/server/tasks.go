package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/config"
)

// Start launches the background tasks. They stop when ctx is cancelled; call
// Wait to block until they have.
func (s *Server) Start(ctx context.Context) {
	s.goTask(func() { s.hub.Run(ctx) })
	s.goTask(func() { s.BroadcastStatus(ctx) })
	s.log.Infof("Status broadcaster started (updates every %v)", config.StatusBroadcast)

	if s.cfg.Retention.Enabled {
		s.goTask(func() { s.RunRetention(ctx) })
	} else {
		s.log.Warn("Retention disabled; history will not be coarsened")
	}
	if s.poller != nil {
		s.goTask(func() { s.poller.Run(ctx) })
	}
	if s.mqtt != nil {
		s.goTask(func() {
			if err := s.mqtt.Run(ctx); err != nil {
				s.log.WithError(err).Error("MQTT source stopped")
			}
		})
	}
}

// Wait blocks until every task started by Start has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) goTask(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// RunRetention runs the daily retention pass once per calendar day. The day is
// checked at startup and then hourly; failed runs are retried with exponential
// backoff and otherwise picked up at the next check.
func (s *Server) RunRetention(ctx context.Context) {
	log := s.log.WithField("task", "retention")
	ticker := time.NewTicker(config.RetentionCheckInterval)
	defer ticker.Stop()

	var lastDay string
	check := func() {
		now := time.Now()
		day := now.Format(time.DateOnly)
		if day == lastDay {
			return
		}
		if s.runRetentionWithRetry(ctx, log, now) {
			lastDay = day
		}
	}

	check()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			log.Info("Stopping retention scheduler")
			return
		}
	}
}

// runRetentionWithRetry reports whether a run succeeded.
func (s *Server) runRetentionWithRetry(ctx context.Context, log logrus.FieldLogger, now time.Time) bool {
	// Whole hours keep the bucket grid aligned across runs
	now = now.Truncate(time.Hour)

	for attempt := 0; attempt <= config.RetentionMaxRetries; attempt++ {
		if attempt > 0 {
			delay := config.RetentionRetryBase * time.Duration(1<<(attempt-1)) // 30s, 60s, 120s
			log.Infof("Retrying retention in %v (attempt %d/%d)", delay, attempt+1, config.RetentionMaxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return false
			}
		}

		start := time.Now()
		err := s.compactor.DailyCleanup(ctx, now)
		if err == nil {
			s.compaction.RecordSuccess()
			log.Infof("Retention completed in %v", time.Since(start).Round(time.Millisecond))
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		s.compaction.RecordFailure(err)
		log.WithError(err).Errorf("Retention failed (attempt %d/%d)", attempt+1, config.RetentionMaxRetries+1)
		if status := s.compaction.Status(); status.ConsecutiveErrors > 3 {
			log.Errorf("ALERT: retention has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
		}
	}

	log.Warnf("Retention failed after %d attempts, will retry on next check", config.RetentionMaxRetries+1)
	return false
}

// BroadcastStatus pushes every device's latest state to WebSocket clients.
// Uses exponential backoff on errors to prevent log spam during outages.
func (s *Server) BroadcastStatus(ctx context.Context) {
	log := s.log.WithField("task", "broadcast")
	ticker := time.NewTicker(config.StatusBroadcast)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.hub.HasClients() {
				continue
			}

			queryCtx, cancel := context.WithTimeout(ctx, config.StatusTimeout)
			statuses, err := s.deviceStatuses(queryCtx)
			cancel()
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at 5m
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.WithError(err).Warnf("Failed to load status for broadcast (error #%d, backoff %v)", consecutiveErrors, backoff)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Infof("Status broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}

			// No timestamp: identical states hash alike and are skipped by the hub
			update := map[string]interface{}{
				"type":    "status_update",
				"devices": statuses,
			}
			if _, err := s.hub.Broadcast(update); err != nil {
				log.WithError(err).Warn("Failed to broadcast status")
			}
		}
	}
}
