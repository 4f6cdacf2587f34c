package incident

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/bucket"
	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/storage"
)

// Skip reasons reported in debug logs when a tick produces no metric.
const (
	skipNoCurrentVolume = "no volume recorded for evaluated minute"
	skipShortHistory    = "fewer than two historic samples"
	skipZeroMean        = "historic mean is zero"
)

// Scorer computes the per-tick incident indicator metric.
type Scorer struct {
	store storage.Store
	flags config.Flags
	opts  Options
}

// TickResult is the outcome of a tick that recorded a metric.
type TickResult struct {
	Tick   time.Time  `json:"tick"`
	Minute time.Time  `json:"evaluated_minute"`
	Bucket bucket.Key `json:"bucket"`
	Stats
}

// NewScorer creates a scorer reading volume history from store. flags is
// consulted on every tick.
func NewScorer(store storage.Store, flags config.Flags, opts Options) *Scorer {
	return &Scorer{store: store, flags: flags, opts: opts.withDefaults()}
}

// EvaluateTick scores the minute before tick against its history and stores
// the percentage deviation from the historic mean. Ticking at 12:01 records
// the metric for 12:00.
//
// It returns a nil result without error when detection is disabled or there
// isn't enough data yet. Re-running a tick overwrites its metric.
func (s *Scorer) EvaluateTick(ctx context.Context, tick time.Time) (*TickResult, error) {
	if s.flags == nil || !s.flags.Bool(config.FlagTickVolumeAnomalyDetection) {
		return nil, nil
	}

	logger := s.opts.Logger
	past := tick.Add(-config.BucketSize)

	timestamps := HistoricTimestamps(past, s.opts.Retention, s.opts.DecisionStep)
	keys := make([]string, len(timestamps))
	for i, ts := range timestamps {
		keys[i] = s.opts.Keys.Volume(bucket.Of(ts))
	}

	values, err := s.store.MGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch volume history: %w", err)
	}
	if len(values) != len(keys) {
		return nil, fmt.Errorf("fetch volume history: got %d values for %d keys", len(values), len(keys))
	}

	current := values[0]
	history := make([]int64, 0, len(values)-1)
	for _, v := range values[1:] {
		if !v.Present {
			continue
		}
		n, err := v.Int()
		if err != nil {
			return nil, fmt.Errorf("volume history: %w", err)
		}
		history = append(history, n)
	}

	if !current.Present {
		logger.Debug("skipping tick volume metric",
			zap.Time("tick", tick),
			zap.String("reason", skipNoCurrentVolume),
		)
		return nil, nil
	}
	volume, err := current.Int()
	if err != nil {
		return nil, fmt.Errorf("past minute volume: %w", err)
	}

	stats, ok := ComputeStats(volume, history)
	if !ok {
		reason := skipShortHistory
		if len(history) >= 2 {
			reason = skipZeroMean
		}
		logger.Debug("skipping tick volume metric",
			zap.Time("tick", tick),
			zap.String("reason", reason),
			zap.Int("history_count", len(history)),
		)
		return nil, nil
	}

	sink := s.opts.Sink
	sink.Gauge(MetricStdevPct, stats.StdevPct)
	sink.Gauge(MetricHistoryCount, float64(stats.HistoryCount))
	sink.Gauge(MetricZScore, stats.ZScore)
	sink.Gauge(MetricPctDeviation, stats.PctDeviation)

	logger.Info("monitors.system_incidents.volume_history",
		zap.String("reference_datetime", tick.UTC().Format(time.RFC3339)),
		zap.String("evaluation_minute", past.UTC().Format("15:04")),
		zap.Int("history_count", stats.HistoryCount),
		zap.Float64("z_score", stats.ZScore),
		zap.Float64("pct_deviation", stats.PctDeviation),
		zap.Float64("historic_mean", stats.Mean),
		zap.Float64("historic_stdev", stats.Stdev),
	)

	key := bucket.Of(past)
	value := strconv.FormatFloat(stats.PctDeviation, 'f', -1, 64)
	if err := s.store.SetExpire(ctx, s.opts.Keys.Metric(key), value, s.opts.Retention); err != nil {
		return nil, fmt.Errorf("store tick metric: %w", err)
	}

	return &TickResult{
		Tick:   tick,
		Minute: key.Time(),
		Bucket: key,
		Stats:  stats,
	}, nil
}
