package sdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/sdk/batch"
	"github.com/hvacdash/hvacdash/pkg/sdk/transport"
)

// ClientConfig holds configuration for the readings client
type ClientConfig struct {
	// Endpoint is the server base URL, e.g. http://localhost:8080
	Endpoint     string        `json:"endpoint"`
	APIKey       string        `json:"api_key"`
	FlushEvery   time.Duration `json:"flush_every"`
	MaxBatchSize int           `json:"max_batch_size"`

	// Transport overrides the HTTP transport built from Endpoint
	Transport transport.Transport `json:"-"`

	// OnError receives failed background sends
	OnError func(err error, dropped int) `json:"-"`
}

// Client batches sensor readings and ships them to an hvacdash server
type Client struct {
	config    ClientConfig
	transport transport.Transport
	batcher   *batch.Batcher

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New creates a new client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" && cfg.Transport == nil {
		cfg.Endpoint = "http://localhost:8080"
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > ingest.MaxReadingsPerRequest {
		cfg.MaxBatchSize = ingest.MaxReadingsPerRequest
	}

	trans := cfg.Transport
	if trans == nil {
		t, err := transport.NewHTTP(cfg.Endpoint+transport.ReadingsPath, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		trans = t
	}

	return &Client{
		config:    cfg,
		transport: trans,
		batcher: batch.New(trans, batch.Config{
			MaxBatchSize: cfg.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
			OnError:      cfg.OnError,
		}),
	}, nil
}

// Start starts background flushing
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("client already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.batcher.Start(ctx); err != nil {
		c.cancel()
		return fmt.Errorf("failed to start batcher: %w", err)
	}
	c.started = true
	return nil
}

// Stop stops the client and flushes remaining readings
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false

	if err := c.batcher.Stop(); err != nil {
		c.cancel()
		return fmt.Errorf("failed to flush readings: %w", err)
	}
	c.cancel()
	return nil
}

// Flush sends queued readings now
func (c *Client) Flush() error {
	return c.batcher.Flush()
}

// Record queues a reading. Readings without a time are stamped now so that
// batching delay does not shift them.
func (c *Client) Record(s ingest.Sample) error {
	if s.Time == nil {
		now := time.Now().Unix()
		s.Time = &now
	}
	if err := ingest.ValidateSample(s); err != nil {
		return err
	}
	c.batcher.Add(s)
	return nil
}

// Temperature records a temperature reading for device
func (c *Client) Temperature(device string, celsius float64) error {
	return c.Record(ingest.Sample{Device: device, Temperature: &celsius})
}

// Status records a status snapshot for device
func (c *Client) Status(device string, status map[string]string) error {
	return c.Record(ingest.Sample{Device: device, Status: status})
}
