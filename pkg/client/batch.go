package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/config"
)

// BatchConfig holds configuration for the batcher
type BatchConfig struct {
	MaxBatchSize int
	FlushEvery   time.Duration
	SendTimeout  time.Duration
}

// Batcher buffers check-in timestamps and sends them when the buffer fills
// up or on every flush interval.
type Batcher struct {
	config    BatchConfig
	transport Transport
	logger    *zap.Logger

	pending []time.Time
	stopped bool
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	sends  sync.WaitGroup

	// flushing keeps at most one background flush in flight.
	flushing atomic.Bool
}

// NewBatcher creates a new batcher
func NewBatcher(transport Transport, cfg BatchConfig, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = config.MaxCheckinsPerRequest
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = config.IngestTimeout
	}
	return &Batcher{
		config:    cfg,
		transport: transport,
		logger:    logger,
		pending:   make([]time.Time, 0, cfg.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the periodic flush loop
func (b *Batcher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop()
}

// Add queues one check-in.
func (b *Batcher) Add(ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, ts)

	// After Stop the remainder goes out with Stop's final flush.
	if b.stopped || len(b.pending) < b.config.MaxBatchSize {
		return
	}
	if b.flushing.CompareAndSwap(false, true) {
		b.sends.Add(1)
		go func() {
			defer b.sends.Done()
			defer b.flushing.Store(false)
			b.send(b.take())
		}()
	}
}

// Pending returns the number of queued check-ins.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush sends everything queued and returns the first error.
func (b *Batcher) Flush(ctx context.Context) error {
	for _, chunk := range b.chunks(b.take()) {
		if err := b.transport.Send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends the flush loop, waits for in-flight sends and flushes what is
// left using ctx.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.sends.Wait()
	return b.Flush(ctx)
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
				b.send(b.take())
				b.flushing.Store(false)
			}
		}
	}
}

func (b *Batcher) take() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	out := make([]time.Time, len(b.pending))
	copy(out, b.pending)
	b.pending = b.pending[:0]
	return out
}

func (b *Batcher) chunks(ts []time.Time) [][]time.Time {
	var out [][]time.Time
	for len(ts) > 0 {
		n := min(len(ts), b.config.MaxBatchSize)
		out = append(out, ts[:n])
		ts = ts[n:]
	}
	return out
}

// send delivers ts in the background flush path. Failures are logged and the
// batch is dropped.
func (b *Batcher) send(ts []time.Time) {
	for _, chunk := range b.chunks(ts) {
		parent := context.Background()
		if b.ctx != nil {
			parent = context.WithoutCancel(b.ctx)
		}
		ctx, cancel := context.WithTimeout(parent, b.config.SendTimeout)
		err := b.transport.Send(ctx, chunk)
		cancel()
		if err != nil {
			b.logger.Warn("dropping check-in batch", zap.Int("count", len(chunk)), zap.Error(err))
		}
	}
}
