package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solrush/sniper/internal/observability"
)

// Bridge implements the engine's metrics interface on top of an
// OpenTelemetry meter, creating instruments lazily by name.
type Bridge struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

var _ observability.Metrics = (*Bridge)(nil)

// NewBridge builds a bridge over the provider's meter.
func NewBridge(provider metric.MeterProvider) *Bridge {
	return &Bridge{
		meter:      provider.Meter("github.com/solrush/sniper"),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// IncCounter adds value to the named counter.
func (b *Bridge) IncCounter(name string, value float64, labels map[string]string) {
	b.mu.Lock()
	counter, ok := b.counters[name]
	if !ok {
		var err error
		counter, err = b.meter.Float64Counter(name)
		if err == nil {
			b.counters[name] = counter
		}
	}
	b.mu.Unlock()
	if counter == nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// ObserveHistogram records value into the named histogram.
func (b *Bridge) ObserveHistogram(name string, value float64, labels map[string]string) {
	b.mu.Lock()
	histogram, ok := b.histograms[name]
	if !ok {
		var err error
		histogram, err = b.meter.Float64Histogram(name)
		if err == nil {
			b.histograms[name] = histogram
		}
	}
	b.mu.Unlock()
	if histogram == nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// SetGauge records the current value of the named gauge.
func (b *Bridge) SetGauge(name string, value float64, labels map[string]string) {
	b.mu.Lock()
	gauge, ok := b.gauges[name]
	if !ok {
		var err error
		gauge, err = b.meter.Float64Gauge(name)
		if err == nil {
			b.gauges[name] = gauge
		}
	}
	b.mu.Unlock()
	if gauge == nil {
		return
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
