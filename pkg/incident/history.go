package incident

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// HistoricTimestamps returns the instants sampled when evaluating past: past
// itself, then one point every step walking backwards. The walk stops at the
// first point at or before past-retention, and that point is included.
// With a 30 day retention and 1 day step this is past plus 30 history points.
func HistoricTimestamps(past time.Time, retention, step time.Duration) []time.Time {
	timestamps := []time.Time{past}
	if step <= 0 {
		return timestamps
	}

	start := past.Add(-retention)
	for ts := past; ts.After(start); {
		ts = ts.Add(-step)
		timestamps = append(timestamps, ts)
	}
	return timestamps
}

// Stats summarises the historic volume for one evaluated minute.
type Stats struct {
	Volume       int64   `json:"volume"`
	HistoryCount int     `json:"history_count"`
	Mean         float64 `json:"historic_mean"`
	Stdev        float64 `json:"historic_stdev"`
	StdevPct     float64 `json:"historic_stdev_pct"`
	ZScore       float64 `json:"z_score"`
	PctDeviation float64 `json:"pct_deviation"`
}

// ComputeStats compares volume against history. ok is false when there are
// fewer than two history samples or the historic mean is zero, since neither
// a sample standard deviation nor a percentage can be computed then.
func ComputeStats(volume int64, history []int64) (Stats, bool) {
	if len(history) < 2 {
		return Stats{}, false
	}

	xs := make([]float64, len(history))
	for i, v := range history {
		xs[i] = float64(v)
	}
	mean, stdev := stat.MeanStdDev(xs, nil)
	if mean == 0 {
		return Stats{}, false
	}

	s := Stats{
		Volume:       volume,
		HistoryCount: len(history),
		Mean:         mean,
		Stdev:        stdev,
		StdevPct:     stdev / mean * 100,
		PctDeviation: (float64(volume) - mean) / mean * 100,
	}
	// Uniform history carries no anomaly signal.
	if stdev != 0 {
		s.ZScore = (float64(volume) - mean) / stdev
	}
	return s, true
}
