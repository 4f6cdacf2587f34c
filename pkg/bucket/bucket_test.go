package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_TruncatesToMinute(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 34, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   time.Time
	}{
		{"exact minute", base},
		{"seconds", base.Add(17 * time.Second)},
		{"sub-second", base.Add(59*time.Second + 999*time.Millisecond)},
		{"other zone", base.Add(30 * time.Second).In(time.FixedZone("X", 5*3600+1800))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Key(base.Unix()), Of(tt.in))
		})
	}
}

func TestOf_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 10, 12, 34, 56, 789, time.UTC)
	k := Of(ts)
	assert.Equal(t, k, Of(k.Time()))
	assert.Equal(t, time.Date(2024, 3, 10, 12, 34, 0, 0, time.UTC), k.Time())
}

func TestOf_Monotonic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := Of(start)
	for i := 1; i < 500; i++ {
		next := Of(start.Add(time.Duration(i) * 7 * time.Second))
		require.GreaterOrEqual(t, next, prev)
		prev = next
	}
}

func TestKeys(t *testing.T) {
	k := Of(time.Unix(1700000042, 0))
	require.Equal(t, Key(1700000040), k)

	assert.Equal(t, "volume_history:1700000040", Keys{}.Volume(k))
	assert.Equal(t, "volume_metric:1700000040", Keys{}.Metric(k))

	ns := Keys{Prefix: "monitors."}
	assert.Equal(t, "monitors.volume_history:1700000040", ns.Volume(k))
	assert.Equal(t, "monitors.volume_metric:1700000040", ns.Metric(k))
}
