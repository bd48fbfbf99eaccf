// Package observability records LLM call metrics through OpenTelemetry,
// exported on the same Prometheus registry as the stage counters.
package observability

import (
	"context"
	"time"

	"jobpilot-workers/internal/common/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	llmCalls      otelmetric.Int64Counter
	llmDuration   otelmetric.Float64Histogram
}

func New(serviceName string, log logger.Logger) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("prometheus exporter unavailable", map[string]interface{}{"error": err.Error()})
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(serviceName)

	llmCalls, _ := meter.Int64Counter(
		"llm.calls",
		otelmetric.WithDescription("Language model calls by model and outcome"),
	)
	llmDuration, _ := meter.Float64Histogram(
		"llm.duration",
		otelmetric.WithDescription("Language model call latency"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		llmCalls:      llmCalls,
		llmDuration:   llmDuration,
	}
}

// RecordLLMCall implements llm.Recorder.
func (o *Observability) RecordLLMCall(ctx context.Context, model string, d time.Duration, err error) {
	if o == nil || o.llmCalls == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	o.llmCalls.Add(ctx, 1, attrs)
	o.llmDuration.Record(ctx, float64(d.Milliseconds()), attrs)
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
