package config

import "time"

// Volume history defaults
const (
	// BucketSize is the storage granularity of check-in counters.
	BucketSize = 1 * time.Minute

	// Retention is how long volume and tick-metric keys live after their
	// last write. It also bounds how far back the scorer samples history.
	Retention = 30 * 24 * time.Hour

	// DecisionStep is the spacing between sampled historical points. One day
	// matches the daily harmonics of check-in traffic (lots of check-ins on
	// the hour, more at midnight than at 3pm).
	DecisionStep = 24 * time.Hour
)

// Store key families
const (
	VolumeKeyFamily = "volume_history"
	MetricKeyFamily = "volume_metric"
)

// Feature flags
const (
	FlagTickVolumeAnomalyDetection = "tick_volume_anomaly_detection"
)

// Server defaults
const (
	DefaultPort    = 8080
	DefaultDataDir = "./data/sysincident"
	DefaultBackend = "redis"
)

// Tick scheduling
const (
	TickInterval = 1 * time.Minute
	TickTimeout  = 30 * time.Second
)

// Store timeouts and retries
const (
	StoreDialTimeout   = 5 * time.Second
	StoreReadTimeout   = 3 * time.Second
	StoreWriteTimeout  = 3 * time.Second
	StoreExpireRetries = 3
	BadgerGCInterval   = 10 * time.Minute
	DefaultMaxMemoryMB = 48
	HealthPingTimeout  = time.Second
)

// Ingest limits
const (
	IngestTimeout         = 5 * time.Second
	MaxCheckinsPerRequest = 10000
	MaxRequestBodyBytes   = 2 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Telemetry defaults
const (
	PrometheusNamespace = "monitors_task"
	StatsdNamespace     = "monitors.task."
)
