package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/incident"
	"github.com/nicktill/sysincident/pkg/server/monitor"
	"github.com/nicktill/sysincident/pkg/storage/badger"
	"github.com/nicktill/sysincident/pkg/storage/memory"
)

type outcome struct {
	res *incident.TickResult
	err error
}

// scriptedEvaluator returns one scripted outcome per tick.
type scriptedEvaluator struct {
	mu       sync.Mutex
	outcomes []outcome
	seen     []time.Time
	deadline []bool
}

func (s *scriptedEvaluator) EvaluateTick(ctx context.Context, tick time.Time) (*incident.TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := ctx.Deadline()
	s.deadline = append(s.deadline, ok)
	s.seen = append(s.seen, tick)
	o := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return o.res, o.err
}

func feed(ticks ...time.Time) <-chan time.Time {
	c := make(chan time.Time, len(ticks))
	for _, t := range ticks {
		c <- t
	}
	close(c)
	return c
}

func TestRunTicks(t *testing.T) {
	t0 := time.Date(2024, 6, 15, 12, 1, 0, 0, time.UTC)
	eval := &scriptedEvaluator{outcomes: []outcome{
		{res: &incident.TickResult{Tick: t0}},
		{},
		{err: errors.New("redis unavailable")},
	}}
	mon := monitor.NewTickMonitor()
	core, logs := observer.New(zapcore.InfoLevel)

	RunTicks(context.Background(), feed(t0, t0.Add(time.Minute), t0.Add(2*time.Minute)),
		eval, mon, NewHub(nil), time.Second, zap.New(core))

	assert.Equal(t, []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)}, eval.seen)
	assert.Equal(t, []bool{true, true, true}, eval.deadline)

	status := mon.Status()
	assert.Equal(t, 1, status.ConsecutiveErrors)
	assert.Equal(t, "redis unavailable", status.LastError)
	assert.Equal(t, "2024-06-15T12:02:00Z", status.LastSkipped)
	assert.Equal(t, "2024-06-15T12:03:00Z", status.LastTick)

	failed := logs.FilterMessage("tick evaluation failed").All()
	require.Len(t, failed, 1)
	logged, ok := failed[0].ContextMap()["tick"].(time.Time)
	require.True(t, ok)
	assert.True(t, logged.Equal(t0.Add(2*time.Minute)))
}

func TestRunTicks_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		RunTicks(ctx, make(chan time.Time), &scriptedEvaluator{}, monitor.NewTickMonitor(), nil, time.Second, zap.NewNop())
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunTicks did not stop after cancel")
	}
}

func TestRunTicks_EndToEnd(t *testing.T) {
	store := memory.New()
	flags := config.NewStaticFlags(map[string]bool{config.FlagTickVolumeAnomalyDetection: true})
	scorer := incident.NewScorer(store, flags, incident.Options{})
	recorder := incident.NewRecorder(store, incident.Options{})
	ctx := context.Background()

	tick := time.Date(2024, 6, 15, 12, 1, 0, 0, time.UTC)
	past := tick.Add(-time.Minute)
	for i, n := range []int{100, 100, 50} {
		at := past.Add(-time.Duration(2-i) * 24 * time.Hour)
		batch := make([]time.Time, n)
		for j := range batch {
			batch[j] = at
		}
		require.NoError(t, recorder.Record(ctx, batch))
	}

	mon := monitor.NewTickMonitor()
	RunTicks(ctx, feed(tick), scorer, mon, NewHub(nil), time.Second, zap.NewNop())

	assert.True(t, mon.IsHealthy())
	value, ok, err := incident.NewReader(store, incident.Options{}).Metric(ctx, past)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -50.0, value)

	_, ok, err = incident.NewReader(store, incident.Options{}).Metric(ctx, tick)
	require.NoError(t, err)
	// Stored under the evaluated minute, not the tick.
	assert.False(t, ok)
}

func TestRunBadgerGC_SkipsOtherStores(t *testing.T) {
	done := make(chan struct{})
	go func() {
		RunBadgerGC(context.Background(), memory.New(), time.Millisecond, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunBadgerGC should return immediately for non-badger stores")
	}
}

func TestRunBadgerGC_StopsOnCancel(t *testing.T) {
	store, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunBadgerGC(ctx, store, 5*time.Millisecond, zap.NewNop())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunBadgerGC did not stop after cancel")
	}
}
