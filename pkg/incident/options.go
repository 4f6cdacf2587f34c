package incident

import (
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/bucket"
	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/telemetry"
)

// Metric names emitted to the telemetry sink.
const (
	MetricStdevPct     = "historic_volume_stdev_pct"
	MetricHistoryCount = "volume_history.count"
	MetricZScore       = "volume_history.z_score"
	MetricPctDeviation = "volume_history.pct_deviation"
	MetricRecorded     = "volume_history.recorded"
)

// Options configures Recorder, Scorer and Reader. Zero values fall back to
// the package config defaults.
type Options struct {
	Keys         bucket.Keys
	Retention    time.Duration
	DecisionStep time.Duration
	Sink         telemetry.Sink
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = config.Retention
	}
	if o.DecisionStep <= 0 {
		o.DecisionStep = config.DecisionStep
	}
	if o.Sink == nil {
		o.Sink = telemetry.Nop{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
