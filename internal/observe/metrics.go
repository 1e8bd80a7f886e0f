// Package observe provides application-wide observability primitives for
// Weft: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Weft metrics.
const meterName = "github.com/weftlabs/weft"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// WordsFinalized counts words committed to the transcript. Use with
	// attribute.String("channel", ...).
	WordsFinalized metric.Int64Counter

	// Batches counts reconciliation inputs. Use with attributes:
	//   attribute.String("kind", "final"|"partial"),
	//   attribute.String("status", "applied"|"empty"|"dropped")
	Batches metric.Int64Counter

	// PostprocessDuration tracks background correction pass latency.
	PostprocessDuration metric.Float64Histogram

	// PostprocessResults counts correction pass outcomes. Use with
	//   attribute.String("status", "applied"|"stale"|"failed")
	PostprocessResults metric.Int64Counter

	// SinkErrors counts delta deliveries that a sink rejected. Use with
	//   attribute.String("sink", ...)
	SinkErrors metric.Int64Counter

	// ActiveSessions tracks the number of live recognition sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// background correction passes, which include a model round trip.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.WordsFinalized, err = m.Int64Counter("weft.words.finalized",
		metric.WithDescription("Total words committed to the transcript by channel."),
	); err != nil {
		return nil, err
	}
	if met.Batches, err = m.Int64Counter("weft.batches",
		metric.WithDescription("Total reconciliation input batches by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.PostprocessDuration, err = m.Float64Histogram("weft.postprocess.duration",
		metric.WithDescription("Latency of background correction passes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PostprocessResults, err = m.Int64Counter("weft.postprocess.results",
		metric.WithDescription("Total correction pass outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("weft.sink.errors",
		metric.WithDescription("Total delta deliveries rejected by a sink."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("weft.active_sessions",
		metric.WithDescription("Number of live recognition sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("weft.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWordsFinalized records n committed words for an audio channel.
func (m *Metrics) RecordWordsFinalized(ctx context.Context, channel int, n int64) {
	m.WordsFinalized.Add(ctx, n,
		metric.WithAttributes(attribute.String("channel", strconv.Itoa(channel))),
	)
}

// RecordBatch records one reconciliation input batch.
func (m *Metrics) RecordBatch(ctx context.Context, kind, status string) {
	m.Batches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordPostprocess records one correction pass with its outcome.
func (m *Metrics) RecordPostprocess(ctx context.Context, seconds float64, status string) {
	m.PostprocessDuration.Record(ctx, seconds)
	m.PostprocessResults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSinkError records a delta delivery rejected by the named sink.
func (m *Metrics) RecordSinkError(ctx context.Context, sinkName string) {
	m.SinkErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("sink", sinkName)),
	)
}
