// Package observe provides application-wide observability primitives for
// Mnemora: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Mnemora metrics.
const meterName = "github.com/mnemora-ai/mnemora"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EmbedDuration tracks embedding generation latency, including synthesis
	// retries. Use with attribute: attribute.String("backend", ...)
	EmbedDuration metric.Float64Histogram

	// StoreOpDuration tracks vector store operation latency. Use with
	// attributes: attribute.String("op", "upsert"|"query"|"delete"),
	// attribute.String("backend", ...)
	StoreOpDuration metric.Float64Histogram

	// IndexProvisionDuration tracks how long index creation took from the
	// first ensure call until the index reported ready.
	IndexProvisionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// SynthesisAttempts counts embedding synthesis attempts. Use with
	// attribute: attribute.String("status", "ok"|"parse_error"|"quota"|"auth"|"other")
	SynthesisAttempts metric.Int64Counter

	// CredentialMarks counts credentials marked out of rotation. Use with
	// attribute: attribute.String("status", "exhausted"|"invalid")
	CredentialMarks metric.Int64Counter

	// WritesSkipped counts memory writes dropped by the best-effort pipeline.
	// Use with attribute: attribute.String("reason", ...)
	WritesSkipped metric.Int64Counter

	// ForgottenRecords counts records removed by forget requests.
	ForgottenRecords metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Histograms over result sizes ---

	// RecallResults tracks the number of excerpts returned per recall.
	RecallResults metric.Int64Histogram

	// --- Gauges ---

	// UsableCredentials tracks the number of credentials currently usable by
	// the rotation pool.
	UsableCredentials metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets cover index provisioning, which can take tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EmbedDuration, err = m.Float64Histogram("mnemora.embed.duration",
		metric.WithDescription("Latency of embedding generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreOpDuration, err = m.Float64Histogram("mnemora.store.op.duration",
		metric.WithDescription("Latency of vector store operations by op and backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IndexProvisionDuration, err = m.Float64Histogram("mnemora.index.provision.duration",
		metric.WithDescription("Time from first ensure call until the vector index was ready."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("mnemora.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecallResults, err = m.Int64Histogram("mnemora.memory.recall_results",
		metric.WithDescription("Number of excerpts returned per recall."),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthesisAttempts, err = m.Int64Counter("mnemora.embed.synthesis_attempts",
		metric.WithDescription("Total embedding synthesis attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.CredentialMarks, err = m.Int64Counter("mnemora.credential.marks",
		metric.WithDescription("Total credentials marked out of rotation by status."),
	); err != nil {
		return nil, err
	}
	if met.WritesSkipped, err = m.Int64Counter("mnemora.memory.writes_skipped",
		metric.WithDescription("Total memory writes dropped by the best-effort pipeline, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ForgottenRecords, err = m.Int64Counter("mnemora.memory.forgotten_records",
		metric.WithDescription("Total records removed by forget requests."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("mnemora.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.UsableCredentials, err = m.Int64UpDownCounter("mnemora.credential.usable",
		metric.WithDescription("Number of credentials currently usable by the rotation pool."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mnemora.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordSynthesisAttempt is a convenience method that records a synthesis
// attempt counter increment with the standard attribute set.
func (m *Metrics) RecordSynthesisAttempt(ctx context.Context, status string) {
	m.SynthesisAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCredentialMark is a convenience method that records a credential mark
// counter increment.
func (m *Metrics) RecordCredentialMark(ctx context.Context, status string) {
	m.CredentialMarks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordWriteSkipped is a convenience method that records a dropped memory
// write with its reason.
func (m *Metrics) RecordWriteSkipped(ctx context.Context, reason string) {
	m.WritesSkipped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordStoreOp is a convenience method that records a vector store operation
// duration in seconds.
func (m *Metrics) RecordStoreOp(ctx context.Context, op, backend string, seconds float64) {
	m.StoreOpDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("backend", backend),
		),
	)
}
