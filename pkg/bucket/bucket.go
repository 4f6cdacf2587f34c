// Package bucket maps instants to one-minute storage buckets and derives the
// store keys for each bucket.
package bucket

import (
	"strconv"
	"time"

	"github.com/nicktill/sysincident/pkg/config"
)

// Key identifies a one-minute bucket by the epoch seconds of its first instant.
type Key int64

// Of returns the bucket containing t. Seconds and sub-second precision are
// dropped, so every instant within the same wall-clock minute maps to the
// same key.
func Of(t time.Time) Key {
	return Key(t.Truncate(config.BucketSize).Unix())
}

// Time returns the first instant of the bucket in UTC.
func (k Key) Time() time.Time {
	return time.Unix(int64(k), 0).UTC()
}

func (k Key) String() string {
	return strconv.FormatInt(int64(k), 10)
}

// Keys builds store keys for both key families, optionally namespaced.
type Keys struct {
	Prefix string
}

// Volume returns the check-in counter key for k.
func (ks Keys) Volume(k Key) string {
	return ks.Prefix + config.VolumeKeyFamily + ":" + k.String()
}

// Metric returns the tick-metric key for k.
func (ks Keys) Metric(k Key) string {
	return ks.Prefix + config.MetricKeyFamily + ":" + k.String()
}
