package devices

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/ingest"
)

// Binder records which controller unit a device name refers to
type Binder interface {
	BindExternalID(ctx context.Context, name string, externalID int64) (int64, error)
}

// FailureRecorder counts failed polls (metrics hook)
type FailureRecorder interface {
	PollFailed()
}

// Poller samples every controller unit on a fixed interval
type Poller struct {
	client   Client
	writer   *ingest.Writer
	binder   Binder
	interval time.Duration
	failures FailureRecorder
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewPoller creates a poller. failures may be nil.
func NewPoller(client Client, writer *ingest.Writer, binder Binder, interval time.Duration, failures FailureRecorder, logger logrus.FieldLogger) *Poller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Poller{
		client:   client,
		writer:   writer,
		binder:   binder,
		interval: interval,
		failures: failures,
		log:      logger.WithField("component", "poller"),
		now:      time.Now,
	}
}

// PollResult summarizes one tick
type PollResult struct {
	Units    int
	Recorded int
	Failed   int
}

// Poll reads every unit once. Per-unit failures are logged and counted; only a
// failure to list the units is returned.
func (p *Poller) Poll(ctx context.Context) (PollResult, error) {
	var res PollResult
	units, err := p.client.ListDevices(ctx)
	if err != nil {
		p.fail()
		return res, err
	}
	res.Units = len(units)

	t := p.now().Unix()
	for _, u := range units {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log := p.log.WithFields(logrus.Fields{"unit": u.ID, "device": u.Name})

		info, err := p.client.GetDeviceInfo(ctx, u.ID)
		if err != nil {
			log.WithError(err).Warn("Failed to read unit")
			p.fail()
			res.Failed++
			continue
		}
		if _, err := p.binder.BindExternalID(ctx, u.Name, u.ID); err != nil {
			log.WithError(err).Warn("Failed to bind unit")
			p.fail()
			res.Failed++
			continue
		}

		temp, _ := InletTemperature(info)
		_, err = p.writer.Write(ctx, ingest.Sample{
			Device:      u.Name,
			Time:        &t,
			Temperature: temp,
			Status:      info,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to record unit state")
			p.fail()
			res.Failed++
			continue
		}
		res.Recorded++
	}
	return res, nil
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.log.Infof("Polling controller every %v", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		res, err := p.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.WithError(err).Warn("Controller poll failed")
		} else {
			p.log.WithFields(logrus.Fields{
				"units":    res.Units,
				"recorded": res.Recorded,
				"failed":   res.Failed,
			}).Debug("Controller polled")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) fail() {
	if p.failures != nil {
		p.failures.PollFailed()
	}
}
