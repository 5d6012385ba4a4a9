package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds all the application metrics
type AppMetrics struct {
	metric.Meter

	RegisteredPeers   metric.Int64UpDownCounter
	OpenConnections   metric.Int64UpDownCounter
	RegisterTimes     metric.Float64Histogram
	RegisterCalls     metric.Int64Counter
	DeregisterCalls   metric.Int64Counter
	Evictions         metric.Int64Counter
	MessagesForwarded metric.Int64Counter
	ForwardFailures   metric.Int64Counter
	ProbeTerminations metric.Int64Counter
	MalformedMessages metric.Int64Counter
	RateLimitedFrames metric.Int64Counter
}

func NewAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	registeredPeers, err := meter.Int64UpDownCounter("registered_peers_total")
	if err != nil {
		return nil, err
	}

	openConnections, err := meter.Int64UpDownCounter("open_connections_total")
	if err != nil {
		return nil, err
	}

	registerTimes, err := meter.Float64Histogram("register_times_milliseconds",
		metric.WithExplicitBucketBoundaries(getStandardBucketBoundaries()...))
	if err != nil {
		return nil, err
	}

	registerCalls, err := meter.Int64Counter("register_calls_total")
	if err != nil {
		return nil, err
	}

	deregisterCalls, err := meter.Int64Counter("deregister_calls_total")
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter("evictions_total")
	if err != nil {
		return nil, err
	}

	messagesForwarded, err := meter.Int64Counter("messages_forwarded_total")
	if err != nil {
		return nil, err
	}

	forwardFailures, err := meter.Int64Counter("forward_failures_total")
	if err != nil {
		return nil, err
	}

	probeTerminations, err := meter.Int64Counter("probe_terminations_total")
	if err != nil {
		return nil, err
	}

	malformedMessages, err := meter.Int64Counter("malformed_messages_total")
	if err != nil {
		return nil, err
	}

	rateLimitedFrames, err := meter.Int64Counter("rate_limited_frames_total")
	if err != nil {
		return nil, err
	}

	return &AppMetrics{
		Meter:             meter,
		RegisteredPeers:   registeredPeers,
		OpenConnections:   openConnections,
		RegisterTimes:     registerTimes,
		RegisterCalls:     registerCalls,
		DeregisterCalls:   deregisterCalls,
		Evictions:         evictions,
		MessagesForwarded: messagesForwarded,
		ForwardFailures:   forwardFailures,
		ProbeTerminations: probeTerminations,
		MalformedMessages: malformedMessages,
		RateLimitedFrames: rateLimitedFrames,
	}, nil
}

func getStandardBucketBoundaries() []float64 {
	return []float64{
		0.1,
		0.5,
		1,
		5,
		10,
		50,
		100,
		500,
		1000,
		5000,
		10000,
	}
}
