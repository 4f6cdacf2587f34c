package incident

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/sysincident/pkg/bucket"
	"github.com/nicktill/sysincident/pkg/storage"
)

// Recorder increments per-minute check-in volume counters.
type Recorder struct {
	store storage.Store
	opts  Options
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store storage.Store, opts Options) *Recorder {
	return &Recorder{store: store, opts: opts.withDefaults()}
}

// Record buckets each timestamp to its minute and adds the per-minute counts
// to the volume history. Input may be unsorted and contain duplicates. Every
// touched counter gets its TTL reset to the retention window.
func (r *Recorder) Record(ctx context.Context, timestamps []time.Time) error {
	if len(timestamps) == 0 {
		return nil
	}

	counts := make(map[bucket.Key]int64)
	for _, ts := range timestamps {
		counts[bucket.Of(ts)]++
	}

	keys := make([]bucket.Key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	incs := make([]storage.Increment, len(keys))
	for i, k := range keys {
		incs[i] = storage.Increment{Key: r.opts.Keys.Volume(k), Amount: counts[k]}
	}

	if _, err := r.store.IncrementExpire(ctx, incs, r.opts.Retention); err != nil {
		return fmt.Errorf("record check-in volume: %w", err)
	}

	r.opts.Sink.Count(MetricRecorded, float64(len(timestamps)))
	return nil
}
