package telemetry

import (
	"fmt"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ Sink = (*Statsd)(nil)

// Statsd forwards emissions to a DogStatsD agent. The client buffers and
// flushes in the background, so calls never wait on the network.
type Statsd struct {
	client statsd.ClientInterface
	logger *zap.Logger
}

// NewStatsd dials addr (host:port or unix:///path) with namespace prepended
// to every metric name.
func NewStatsd(addr, namespace string, logger *zap.Logger) (*Statsd, error) {
	client, err := statsd.New(addr, statsd.WithNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("statsd client: %w", err)
	}
	return NewStatsdFromClient(client, logger), nil
}

// NewStatsdFromClient wraps an existing client.
func NewStatsdFromClient(client statsd.ClientInterface, logger *zap.Logger) *Statsd {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Statsd{client: client, logger: logger}
}

func (s *Statsd) Gauge(name string, value float64) {
	if err := s.client.Gauge(name, value, nil, 1.0); err != nil {
		s.logger.Debug("statsd gauge dropped", zap.String("name", name), zap.Error(err))
	}
}

func (s *Statsd) Count(name string, delta float64) {
	if err := s.client.Count(name, int64(delta), nil, 1.0); err != nil {
		s.logger.Debug("statsd count dropped", zap.String("name", name), zap.Error(err))
	}
}

// Close flushes buffered metrics and closes the client.
func (s *Statsd) Close() error {
	return s.client.Close()
}
