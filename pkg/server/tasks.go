package server

import (
	"context"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/incident"
	"github.com/nicktill/sysincident/pkg/server/monitor"
	"github.com/nicktill/sysincident/pkg/storage"
	"github.com/nicktill/sysincident/pkg/storage/badger"
)

// TickEvaluator scores one tick. *incident.Scorer implements it.
type TickEvaluator interface {
	EvaluateTick(ctx context.Context, tick time.Time) (*incident.TickResult, error)
}

// RunTicks evaluates every tick received on ticks until the channel closes
// or ctx is done. Each evaluation gets its own timeout. A failed tick is
// logged and recorded on mon, and the loop moves on to the next one.
func RunTicks(
	ctx context.Context,
	ticks <-chan time.Time,
	scorer TickEvaluator,
	mon *monitor.TickMonitor,
	hub *Hub,
	timeout time.Duration,
	logger *zap.Logger,
) {
	logger.Info("tick scheduler started", zap.Duration("timeout", timeout))

	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping tick scheduler")
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			runTick(ctx, tick, scorer, mon, hub, timeout, logger)
		}
	}
}

func runTick(
	ctx context.Context,
	tick time.Time,
	scorer TickEvaluator,
	mon *monitor.TickMonitor,
	hub *Hub,
	timeout time.Duration,
	logger *zap.Logger,
) {
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := scorer.EvaluateTick(tickCtx, tick)
	if err != nil {
		mon.RecordFailure(tick, err)
		logger.Error("tick evaluation failed",
			zap.Time("tick", tick),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		if status := mon.Status(); status.ConsecutiveErrors > 3 {
			logger.Warn("tick evaluation keeps failing", zap.Int("consecutive_errors", status.ConsecutiveErrors))
		}
		return
	}

	if res == nil {
		mon.RecordSkip(tick)
		return
	}

	mon.RecordSuccess(tick)
	if hub != nil {
		if err := hub.BroadcastTick(res); err != nil {
			logger.Warn("failed to broadcast tick result", zap.Error(err))
		}
	}
}

// RunBadgerGC runs BadgerDB value log garbage collection every interval to
// reclaim disk space from expired counters. It returns immediately when
// store is not Badger.
func RunBadgerGC(ctx context.Context, store storage.Store, interval time.Duration, logger *zap.Logger) {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		logger.Debug("store is not badger, skipping GC")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("badger GC scheduler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// Run with 0.5 discard ratio, once per tick.
			err := badgerStore.RunGC(0.5)
			switch {
			case err == nil:
				logger.Info("badger GC reclaimed space", zap.Duration("elapsed", time.Since(start)))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				logger.Debug("badger GC found nothing to rewrite")
			default:
				logger.Warn("badger GC failed", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Info("stopping badger GC scheduler")
			return
		}
	}
}
