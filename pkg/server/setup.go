package server

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/bucket"
	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/incident"
	"github.com/nicktill/sysincident/pkg/storage"
	"github.com/nicktill/sysincident/pkg/storage/badger"
	"github.com/nicktill/sysincident/pkg/storage/memory"
	"github.com/nicktill/sysincident/pkg/storage/redis"
	"github.com/nicktill/sysincident/pkg/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address as host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServerConfig reads the server section of v.
func ServerConfig(v *viper.Viper) Config {
	return Config{
		Host: v.GetString("server.host"),
		Port: v.GetInt("server.port"),
	}
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", config.DefaultPort)
	v.SetDefault("server.data_dir", config.DefaultDataDir)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.backend", config.DefaultBackend)
	v.SetDefault("store.key_prefix", "")
	v.SetDefault("store.retention", config.Retention)
	v.SetDefault("store.expire_retries", config.StoreExpireRetries)

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", config.StoreDialTimeout)
	v.SetDefault("redis.read_timeout", config.StoreReadTimeout)
	v.SetDefault("redis.write_timeout", config.StoreWriteTimeout)

	v.SetDefault("badger.path", "")
	v.SetDefault("badger.in_memory", false)
	v.SetDefault("badger.max_memory_mb", config.DefaultMaxMemoryMB)

	v.SetDefault("scorer.decision_step", config.DecisionStep)
	v.SetDefault("scorer.tick_interval", config.TickInterval)
	v.SetDefault("scorer.tick_timeout", config.TickTimeout)

	v.SetDefault("statsd.addr", "")
	v.SetDefault("statsd.namespace", config.StatsdNamespace)

	v.SetDefault("options."+config.FlagTickVolumeAnomalyDetection, false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sysincident")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sysincident")
	}

	// Environment variable support: SI_REDIS_ADDRS=redis:6379
	v.SetEnvPrefix("SI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

var _ Pinger = (*redis.Storage)(nil)

// InitializeStore opens the backend selected by store.backend.
func InitializeStore(ctx context.Context, v *viper.Viper, logger *zap.Logger) (storage.Store, error) {
	backend := v.GetString("store.backend")

	switch backend {
	case "redis":
		addrs := v.GetStringSlice("redis.addrs")
		logger.Info("connecting to redis", zap.Strings("addrs", addrs))
		store, err := redis.New(ctx, redis.Config{
			Addrs:         addrs,
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			DialTimeout:   v.GetDuration("redis.dial_timeout"),
			ReadTimeout:   v.GetDuration("redis.read_timeout"),
			WriteTimeout:  v.GetDuration("redis.write_timeout"),
			ExpireRetries: v.GetInt("store.expire_retries"),
			Logger:        logger.Named("redis"),
		})
		if err != nil {
			return nil, fmt.Errorf("initialize redis store: %w", err)
		}
		return store, nil

	case "badger":
		cfg := badger.Config{
			Path:        v.GetString("badger.path"),
			InMemory:    v.GetBool("badger.in_memory"),
			MaxMemoryMB: v.GetInt64("badger.max_memory_mb"),
			Logger:      logger.Named("badger"),
		}
		if cfg.Path == "" && !cfg.InMemory {
			cfg.Path = v.GetString("server.data_dir")
		}
		if !cfg.InMemory {
			if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		logger.Info("opening badger store",
			zap.String("path", cfg.Path),
			zap.Bool("in_memory", cfg.InMemory),
			zap.Int64("max_memory_mb", cfg.MaxMemoryMB),
		)
		store, err := badger.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("initialize badger store: %w", err)
		}
		return store, nil

	case "memory":
		logger.Warn("using in-process memory store, volume history is lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q: must be redis, badger or memory", backend)
	}
}

// Telemetry bundles the configured sinks.
type Telemetry struct {
	Sink   telemetry.Sink
	statsd *telemetry.Statsd
}

// Close flushes the statsd client if one was configured.
func (t *Telemetry) Close() error {
	if t.statsd == nil {
		return nil
	}
	return t.statsd.Close()
}

// InitializeTelemetry registers the Prometheus sink on reg and adds a
// DogStatsD sink when statsd.addr is set.
func InitializeTelemetry(v *viper.Viper, reg prometheus.Registerer, logger *zap.Logger) (*Telemetry, error) {
	sinks := telemetry.Multi{telemetry.NewPrometheus(reg, config.PrometheusNamespace, logger)}
	t := &Telemetry{}

	if addr := v.GetString("statsd.addr"); addr != "" {
		s, err := telemetry.NewStatsd(addr, v.GetString("statsd.namespace"), logger)
		if err != nil {
			return nil, err
		}
		logger.Info("statsd sink enabled", zap.String("addr", addr))
		sinks = append(sinks, s)
		t.statsd = s
	}

	t.Sink = sinks
	return t, nil
}

// Core holds the detection components sharing one store.
type Core struct {
	Recorder *incident.Recorder
	Scorer   *incident.Scorer
	Reader   *incident.Reader
}

// InitializeCore wires recorder, scorer and reader to store.
func InitializeCore(v *viper.Viper, store storage.Store, flags config.Flags, sink telemetry.Sink, logger *zap.Logger) *Core {
	opts := incident.Options{
		Keys:         bucket.Keys{Prefix: v.GetString("store.key_prefix")},
		Retention:    v.GetDuration("store.retention"),
		DecisionStep: v.GetDuration("scorer.decision_step"),
		Sink:         sink,
		Logger:       logger,
	}
	return &Core{
		Recorder: incident.NewRecorder(store, opts),
		Scorer:   incident.NewScorer(store, flags, opts),
		Reader:   incident.NewReader(store, opts),
	}
}
