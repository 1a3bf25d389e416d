package observability

// Metrics provides counter, gauge, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Metric names emitted by the engine.
const (
	MetricSignalsSent       = "sniper.signals.sent"
	MetricSignalsDropped    = "sniper.signals.dropped"
	MetricExecutions        = "sniper.executions.total"
	MetricExecutionLatency  = "sniper.executions.latency_ms"
	MetricRaceWins          = "sniper.executions.race_wins"
	MetricActiveStrategies  = "sniper.strategies.active"
	MetricStrategiesCreated = "sniper.strategies.created"
	MetricEventsFiltered    = "sniper.events.filtered"
)

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the engine.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}
