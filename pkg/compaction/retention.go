package compaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Entries shorter than this mark a window as not yet coarsened
	retentionProbe = 10 * time.Minute

	week = 7 * 24 * time.Hour
)

// Window is one retention tier's slice of history
type Window struct {
	Name       string
	Start      time.Time
	End        time.Time
	Resolution Resolution
}

// WindowRecorder receives the outcome of every retention window
type WindowRecorder interface {
	RecordWindow(window string, res Result, err error)
}

// RetentionWindows returns the windows DailyCleanup processes for now:
//
//	week:  [now-2w, now-1w)                       -> 5m buckets
//	month: [prevMonth³(now), prevMonth²(now))     -> 20m buckets
func RetentionWindows(now time.Time) []Window {
	m1 := prevMonth(now)
	m2 := prevMonth(m1)
	m3 := prevMonth(m2)
	return []Window{
		{Name: "week", Start: now.Add(-2 * week), End: now.Add(-week), Resolution: Resolution5m},
		{Name: "month", Start: m3, End: m2, Resolution: Resolution20m},
	}
}

// DailyCleanup coarsens every retention window that still holds fine-grained
// entries. Windows are independent: a failure in one is logged, recorded and
// returned joined with the others, but never stops the next window.
func (c *Compactor) DailyCleanup(ctx context.Context, now time.Time) error {
	var errs []error
	for _, w := range RetentionWindows(now) {
		logger := c.log.WithFields(logrus.Fields{
			"window": w.Name,
			"start":  w.Start.Format(time.RFC3339),
			"end":    w.End.Format(time.RFC3339),
		})

		res, ran, err := c.Coarsen(ctx, w.Start, w.End, retentionProbe, w.Resolution.Bucket())
		if c.recorder != nil {
			c.recorder.RecordWindow(w.Name, res, err)
		}
		switch {
		case err != nil:
			logger.WithError(err).Error("Retention window failed")
			errs = append(errs, fmt.Errorf("%s window: %w", w.Name, err))
		case !ran:
			logger.Debug("Retention window already coarsened")
		default:
			logger.Infof("Retention window coarsened to %s (%d buckets)", w.Resolution, res.Buckets)
		}
	}
	return errors.Join(errs...)
}

// prevMonth steps back one calendar month, clamping the day to the length
// of the target month (Mar 31 -> Feb 28/29).
func prevMonth(t time.Time) time.Time {
	y, m, d := t.Date()
	m--
	if m < time.January {
		m = time.December
		y--
	}
	if last := daysIn(y, m); d > last {
		d = last
	}
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Recorders fans a window outcome out to several recorders
type Recorders []WindowRecorder

func (rs Recorders) RecordWindow(window string, res Result, err error) {
	for _, r := range rs {
		r.RecordWindow(window, res, err)
	}
}
