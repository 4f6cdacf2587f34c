package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/storage/badger"
	"github.com/nicktill/sysincident/pkg/storage/memory"
	"github.com/nicktill/sysincident/pkg/telemetry"
)

func TestLoadConfig_Defaults(t *testing.T) {
	v, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", ServerConfig(v).Addr())
	assert.Equal(t, "redis", v.GetString("store.backend"))
	assert.Equal(t, 30*24*time.Hour, v.GetDuration("store.retention"))
	assert.Equal(t, 24*time.Hour, v.GetDuration("scorer.decision_step"))
	assert.Equal(t, time.Minute, v.GetDuration("scorer.tick_interval"))
	assert.Equal(t, []string{"localhost:6379"}, v.GetStringSlice("redis.addrs"))
	assert.Equal(t, "monitors.task.", v.GetString("statsd.namespace"))
	assert.False(t, config.NewViperFlags(v).Bool(config.FlagTickVolumeAnomalyDetection))
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysincident.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
store:
  backend: badger
  key_prefix: "monitors:"
options:
  tick_volume_anomaly_detection: true
`), 0o600))

	v, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, ServerConfig(v).Port)
	assert.Equal(t, "badger", v.GetString("store.backend"))
	assert.Equal(t, "monitors:", v.GetString("store.key_prefix"))
	assert.True(t, config.NewViperFlags(v).Bool(config.FlagTickVolumeAnomalyDetection))
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("SI_STORE_BACKEND", "memory")
	t.Setenv("SI_SCORER_TICK_TIMEOUT", "10s")

	v, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "memory", v.GetString("store.backend"))
	assert.Equal(t, 10*time.Second, v.GetDuration("scorer.tick_timeout"))
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysincident.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestInitializeStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		v, err := LoadConfig("")
		require.NoError(t, err)
		v.Set("store.backend", "memory")

		store, err := InitializeStore(ctx, v, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &memory.Storage{}, store)
	})

	t.Run("badger", func(t *testing.T) {
		v, err := LoadConfig("")
		require.NoError(t, err)
		v.Set("store.backend", "badger")
		v.Set("badger.path", filepath.Join(t.TempDir(), "badger"))

		store, err := InitializeStore(ctx, v, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &badger.Storage{}, store)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		v, err := LoadConfig("")
		require.NoError(t, err)
		v.Set("redis.addrs", []string{"127.0.0.1:1"})
		v.Set("redis.dial_timeout", 100*time.Millisecond)

		_, err = InitializeStore(ctx, v, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		v, err := LoadConfig("")
		require.NoError(t, err)
		v.Set("store.backend", "cassandra")

		_, err = InitializeStore(ctx, v, zap.NewNop())
		assert.ErrorContains(t, err, "unknown store backend")
	})
}

func TestInitializeTelemetry(t *testing.T) {
	v, err := LoadConfig("")
	require.NoError(t, err)

	tel, err := InitializeTelemetry(v, prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	defer tel.Close()

	sinks, ok := tel.Sink.(telemetry.Multi)
	require.True(t, ok)
	assert.Len(t, sinks, 1)

	v.Set("statsd.addr", "127.0.0.1:8125")
	tel, err = InitializeTelemetry(v, prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	defer tel.Close()

	sinks, ok = tel.Sink.(telemetry.Multi)
	require.True(t, ok)
	assert.Len(t, sinks, 2)
}
