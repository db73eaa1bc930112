// Command simulator feeds synthetic sensor readings into an hvacdash server,
// over HTTP or through an MQTT broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/logging"
	"github.com/hvacdash/hvacdash/pkg/sdk"
	"github.com/hvacdash/hvacdash/pkg/sdk/transport"
)

type options struct {
	endpoint   string
	broker     string
	prefix     string
	interval   time.Duration
	flushEvery time.Duration
	seed       int64
	logLevel   string
}

func main() {
	var opts options
	flag.StringVar(&opts.endpoint, "endpoint", "http://localhost:8080", "hvacdash server base URL")
	flag.StringVar(&opts.broker, "mqtt", "", "publish through this MQTT broker instead of HTTP (e.g. tcp://localhost:1883)")
	flag.StringVar(&opts.prefix, "prefix", "hvacdash", "MQTT topic prefix")
	flag.DurationVar(&opts.interval, "interval", 10*time.Second, "time between readings")
	flag.DurationVar(&opts.flushEvery, "flush", 30*time.Second, "how often to ship batched readings")
	flag.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "random seed")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flag.Parse()

	if _, err := logging.Init(logging.Options{Level: opts.logLevel}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.Component("simulator")

	if err := run(opts, log); err != nil {
		log.WithError(err).Error("Simulator failed")
		os.Exit(1)
	}
}

func run(opts options, log logrus.FieldLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := sdk.ClientConfig{
		Endpoint:   opts.endpoint,
		FlushEvery: opts.flushEvery,
		OnError: func(err error, dropped int) {
			log.WithError(err).Warnf("Dropped %d readings", dropped)
		},
	}
	if opts.broker != "" {
		mq, disconnect, err := transport.DialMQTT(opts.broker, fmt.Sprintf("hvacdash-sim-%d", os.Getpid()), opts.prefix)
		if err != nil {
			return err
		}
		defer disconnect()
		cfg.Transport = mq
		log.Infof("Publishing to %s under %s/", opts.broker, opts.prefix)
	} else {
		log.Infof("Posting to %s", opts.endpoint)
	}

	client, err := sdk.New(cfg)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Stop(); err != nil {
			log.WithError(err).Warn("Final flush failed")
		}
	}()

	sensors := house(opts.seed)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		recordAll(client, sensors, time.Now(), log)
		select {
		case <-ctx.Done():
			log.Info("Simulator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// recorder is the part of the sdk client the simulator uses
type recorder interface {
	Record(s ingest.Sample) error
}

func recordAll(client recorder, sensors []sensor, at time.Time, log logrus.FieldLogger) {
	for _, s := range sensors {
		if err := client.Record(s.sample(at)); err != nil {
			log.WithError(err).WithField("device", s.name()).Warn("Reading rejected")
		}
	}
}
