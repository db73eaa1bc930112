package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hvacdash/hvacdash/pkg/ingest"
	"github.com/hvacdash/hvacdash/pkg/sdk/transport"
)

const sendTimeout = 5 * time.Second

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration

	// OnError receives failed background sends (optional)
	OnError func(err error, dropped int)
}

// Batcher batches samples and sends them periodically
type Batcher struct {
	config    Config
	transport transport.Transport

	samples []ingest.Sample
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool // one background flush at a time
}

// New creates a new batcher
func New(transport transport.Transport, config Config) *Batcher {
	return &Batcher{
		config:    config,
		transport: transport,
		samples:   make([]ingest.Sample, 0, config.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the batcher
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add queues a sample. A full batch triggers a background flush unless one
// is already running.
func (b *Batcher) Add(s ingest.Sample) {
	b.mu.Lock()
	b.samples = append(b.samples, s)
	shouldFlush := len(b.samples) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		go func() {
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Pending returns the number of queued samples
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Flush sends all pending samples and waits for the result
func (b *Batcher) Flush() error {
	batch := b.take()
	if len(batch) == 0 {
		return nil
	}
	return b.send(batch)
}

// Stop stops the batcher and flushes what is left
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	return b.Flush()
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

// flush sends the pending batch without blocking the caller
func (b *Batcher) flush() {
	batch := b.take()
	if len(batch) == 0 {
		return
	}
	go func() {
		if err := b.send(batch); err != nil && b.config.OnError != nil {
			b.config.OnError(err, len(batch))
		}
	}()
}

func (b *Batcher) take() []ingest.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return nil
	}
	batch := make([]ingest.Sample, len(b.samples))
	copy(batch, b.samples)
	b.samples = b.samples[:0]
	return batch
}

// send outlives the batcher's context so the final flush in Stop still goes out.
func (b *Batcher) send(batch []ingest.Sample) error {
	parent := context.Background()
	if b.ctx != nil {
		parent = context.WithoutCancel(b.ctx)
	}
	ctx, cancel := context.WithTimeout(parent, sendTimeout)
	defer cancel()

	return b.transport.Send(ctx, batch)
}
