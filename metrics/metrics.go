// Package metrics instruments the scanner with OpenTelemetry. InitProvider
// bridges the instruments to Prometheus so they can be scraped from /metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "github.com/hb9tf/spiritbox"

// Skip reasons.
const (
	ReasonDesign   = "filter_design"
	ReasonPlayback = "playback"
	ReasonPanic    = "panic"
)

// Recognition outcomes.
const (
	StatusOK      = "ok"
	StatusNoMatch = "no_match"
	StatusError   = "error"
	StatusDropped = "dropped"
)

var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Metrics holds the instruments. A nil *Metrics records nothing.
type Metrics struct {
	Iterations metric.Int64Counter
	// Skipped counts iterations without output, by attribute "reason".
	Skipped        metric.Int64Counter
	HardwareErrors metric.Int64Counter
	// Recognitions counts recognizer calls by "engine" and "status".
	Recognitions        metric.Int64Counter
	DemodDuration       metric.Float64Histogram
	RecognitionDuration metric.Float64Histogram
	Frequency           metric.Float64Gauge
}

func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Iterations, err = m.Int64Counter("spiritbox.scan.iterations",
		metric.WithDescription("Scan loop iterations that captured a block."),
	); err != nil {
		return nil, err
	}
	if met.Skipped, err = m.Int64Counter("spiritbox.scan.skipped",
		metric.WithDescription("Scan loop iterations that produced no output, by reason."),
	); err != nil {
		return nil, err
	}
	if met.HardwareErrors, err = m.Int64Counter("spiritbox.hardware.errors",
		metric.WithDescription("Front end failures that stopped a scan."),
	); err != nil {
		return nil, err
	}
	if met.Recognitions, err = m.Int64Counter("spiritbox.recognitions",
		metric.WithDescription("Speech recognizer calls by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.DemodDuration, err = m.Float64Histogram("spiritbox.demod.duration",
		metric.WithDescription("Time spent demodulating one block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("spiritbox.recognition.duration",
		metric.WithDescription("Latency of the speech recognizer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Frequency, err = m.Float64Gauge("spiritbox.frequency",
		metric.WithDescription("Station frequency currently received."),
		metric.WithUnit("Hz"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordIteration(ctx context.Context, freq float64, demod time.Duration) {
	if m == nil {
		return
	}
	m.Iterations.Add(ctx, 1)
	m.Frequency.Record(ctx, freq)
	m.DemodDuration.Record(ctx, demod.Seconds())
}

func (m *Metrics) RecordSkip(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordHardwareError(ctx context.Context, device string) {
	if m == nil {
		return
	}
	m.HardwareErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("device", device)))
}

// RecordRecognition counts one recognizer outcome. The latency is only
// recorded for calls that reached the recognizer.
func (m *Metrics) RecordRecognition(ctx context.Context, engine, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Recognitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	))
	if status != StatusDropped {
		m.RecognitionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("engine", engine)))
	}
}

// InitProvider registers a global meter provider that exports to the default
// Prometheus registry. The returned function flushes and stops it.
func InitProvider(serviceVersion string) (*Metrics, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("spiritbox"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, nil, err
	}
	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)

	met, err := New(mp)
	if err != nil {
		return nil, nil, err
	}
	return met, mp.Shutdown, nil
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
