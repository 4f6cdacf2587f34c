package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/sysincident/pkg/bucket"
	"github.com/nicktill/sysincident/pkg/storage"
)

// Reader looks up previously computed tick metrics.
type Reader struct {
	store storage.Store
	opts  Options
}

// NewReader creates a reader over store.
func NewReader(store storage.Store, opts Options) *Reader {
	return &Reader{store: store, opts: opts.withDefaults()}
}

// Metric returns the percentage deviation stored for the minute containing
// t. ok is false if it was never computed or has expired.
func (r *Reader) Metric(ctx context.Context, t time.Time) (float64, bool, error) {
	v, err := r.store.Get(ctx, r.opts.Keys.Metric(bucket.Of(t)))
	if err != nil {
		return 0, false, fmt.Errorf("fetch tick metric: %w", err)
	}
	if !v.Present {
		return 0, false, nil
	}

	f, err := v.Float()
	if err != nil {
		return 0, false, fmt.Errorf("tick metric: %w", err)
	}
	return f, true, nil
}
