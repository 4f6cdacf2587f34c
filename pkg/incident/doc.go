/*
Package incident detects "system incidents" in check-in ingestion: upstream
outages that make the observed check-in rate drop sharply, which would
otherwise look like many independent missed or timed-out check-ins.

Three types share one key-value store:

  - Recorder counts check-ins per one-minute bucket (volume keys).
  - Scorer runs once per clock tick. It compares the minute that just ended
    with the same minute on each of the previous days inside the retention
    window and stores the percentage deviation from the historic mean
    (tick-metric keys).
  - Reader looks up the stored tick metric so downstream consumers can decide
    whether to trust miss and time-out detection for that minute.

None of them hold mutable state between calls. Correctness under concurrent
use relies on atomic increments in the store and last-write-wins on the
tick-metric key.

	rec := incident.NewRecorder(store, incident.Options{})
	_ = rec.Record(ctx, arrivals)

	scorer := incident.NewScorer(store, flags, incident.Options{Sink: sink, Logger: logger})
	res, err := scorer.EvaluateTick(ctx, tick) // res == nil when skipped

	pct, ok, err := incident.NewReader(store, incident.Options{}).Metric(ctx, tick.Add(-time.Minute))
*/
package incident
