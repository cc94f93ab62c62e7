package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OperationCounter reports how many operations a registry currently holds,
// for the in-flight-operations gauge. Both the broker's snapshot-backed
// store and the façade's in-memory store can satisfy this with a simple
// len(List()) wrapper.
type OperationCounter interface {
	OperationCount() int
}

// MetricsCollector collects Prometheus-compatible metrics for the broker and
// control façade: control-action throughput and latency, trace fusion cost,
// and operation registry pressure.
type MetricsCollector struct {
	meter metric.Meter

	controlActionsTotal  metric.Int64Counter
	controlActionLatency metric.Float64Histogram
	fusionMergeLatency   metric.Float64Histogram
	fusionTraceCount     metric.Int64Histogram

	operationCounter   OperationCounter
	operationCounterMu sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("tradingbroker")

	mc := &MetricsCollector{meter: meter}

	var err error

	mc.controlActionsTotal, err = meter.Int64Counter(
		"tradingbroker_control_actions_total",
		metric.WithDescription("Total number of control actions dispatched (execute, cancel, hardCancel, stopService)."),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	mc.controlActionLatency, err = meter.Float64Histogram(
		"tradingbroker_control_action_duration_seconds",
		metric.WithDescription("Control action dispatch latency in seconds."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.fusionMergeLatency, err = meter.Float64Histogram(
		"tradingbroker_fusion_merge_duration_seconds",
		metric.WithDescription("Trace fusion merge latency in seconds."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.fusionTraceCount, err = meter.Int64Histogram(
		"tradingbroker_fusion_trace_count",
		metric.WithDescription("Number of fused traces produced per merge."),
		metric.WithUnit("{trace}"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"tradingbroker_operations_in_flight",
		metric.WithDescription("Number of operations currently tracked by a registry."),
		metric.WithUnit("{operation}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.operationCounterMu.RLock()
			counter := mc.operationCounter
			mc.operationCounterMu.RUnlock()
			if counter != nil {
				observer.Observe(int64(counter.OperationCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordControlAction records the outcome and latency of a dispatched
// control action (one of execute, cancel, hardCancel, stopService).
func (mc *MetricsCollector) RecordControlAction(ctx context.Context, action, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("action", action),
		attribute.String("status", status),
	}
	mc.controlActionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.controlActionLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFusionMerge records the latency and output size of a single trace
// fusion merge pass over the trade journal and broker workflow list.
func (mc *MetricsCollector) RecordFusionMerge(ctx context.Context, duration time.Duration, traceCount int) {
	mc.fusionMergeLatency.Record(ctx, duration.Seconds())
	mc.fusionTraceCount.Record(ctx, int64(traceCount))
}

// SetOperationCounter sets the source for the in-flight-operations gauge.
func (mc *MetricsCollector) SetOperationCounter(counter OperationCounter) {
	mc.operationCounterMu.Lock()
	mc.operationCounter = counter
	mc.operationCounterMu.Unlock()
}
