package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments exported over OTLP alongside
// the Prometheus registry. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	checkoutDuration  metric.Float64Histogram
	settlementsTotal  metric.Int64Counter
	settledAmount     metric.Int64Counter
	processorDuration metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/sellhub")

	m := &OTelMetrics{}
	var err error

	m.checkoutDuration, err = meter.Float64Histogram(
		"sellhub.checkout.duration",
		metric.WithDescription("Time to create an order including the processor charge"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout duration histogram: %w", err)
	}

	m.settlementsTotal, err = meter.Int64Counter(
		"sellhub.settlements",
		metric.WithDescription("Order state transitions applied from payment events"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create settlements counter: %w", err)
	}

	m.settledAmount, err = meter.Int64Counter(
		"sellhub.settled.amount",
		metric.WithDescription("Settled amount in minor units"),
		metric.WithUnit("{cent}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create settled amount counter: %w", err)
	}

	m.processorDuration, err = meter.Float64Histogram(
		"sellhub.processor.duration",
		metric.WithDescription("Payment processor call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor duration histogram: %w", err)
	}

	return m, nil
}

// RecordCheckout records how long a checkout took and whether it succeeded
func (m *OTelMetrics) RecordCheckout(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.checkoutDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("error", err != nil),
	))
}

// RecordSettlement records an order transition and, for sales, its amount
func (m *OTelMetrics) RecordSettlement(ctx context.Context, from, to, currency string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("order.from", from),
		attribute.String("order.to", to),
		attribute.String("currency", currency),
	)
	m.settlementsTotal.Add(ctx, 1, attrs)
	if amount > 0 {
		m.settledAmount.Add(ctx, amount, attrs)
	}
}

// RecordProcessorCall records a processor API call
func (m *OTelMetrics) RecordProcessorCall(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.processorDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("processor.operation", operation),
		attribute.Bool("error", err != nil),
	))
}
