package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRequestsTotal      = "tradelocker_requests_total"
	MetricRequestErrorsTotal = "tradelocker_request_errors_total"
	MetricRequestLatency     = "tradelocker_request_duration_seconds"
	MetricTokenRefreshTotal  = "tradelocker_token_refresh_total"
	MetricOrdersPlacedTotal  = "tradelocker_orders_placed_total"
	MetricOrdersRejected     = "tradelocker_orders_rejected_total"
	MetricCacheHitsTotal     = "tradelocker_cache_hits_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	RequestsTotal      metric.Int64Counter
	RequestErrorsTotal metric.Int64Counter
	RequestLatency     metric.Float64Histogram
	TokenRefreshTotal  metric.Int64Counter
	OrdersPlacedTotal  metric.Int64Counter
	OrdersRejected     metric.Int64Counter
	CacheHitsTotal     metric.Int64Counter

	initialized bool
	mu          sync.Mutex
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on the given meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.RequestsTotal, err = meter.Int64Counter(MetricRequestsTotal,
		metric.WithDescription("Total number of broker API requests")); err != nil {
		return err
	}
	if m.RequestErrorsTotal, err = meter.Int64Counter(MetricRequestErrorsTotal,
		metric.WithDescription("Total number of failed broker API requests")); err != nil {
		return err
	}
	if m.RequestLatency, err = meter.Float64Histogram(MetricRequestLatency,
		metric.WithDescription("Broker API request latency in seconds")); err != nil {
		return err
	}
	if m.TokenRefreshTotal, err = meter.Int64Counter(MetricTokenRefreshTotal,
		metric.WithDescription("Total number of access token refreshes")); err != nil {
		return err
	}
	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Total number of orders placed")); err != nil {
		return err
	}
	if m.OrdersRejected, err = meter.Int64Counter(MetricOrdersRejected,
		metric.WithDescription("Total number of orders rejected by the broker")); err != nil {
		return err
	}
	if m.CacheHitsTotal, err = meter.Int64Counter(MetricCacheHitsTotal,
		metric.WithDescription("Total number of cached responses served")); err != nil {
		return err
	}

	m.initialized = true
	return nil
}

// RecordOrderPlaced increments the placed-orders counter
func (m *MetricsHolder) RecordOrderPlaced(instrumentID string) {
	if m.OrdersPlacedTotal == nil {
		return
	}
	m.OrdersPlacedTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("instrument_id", instrumentID),
	))
}

// RecordOrderRejected increments the rejected-orders counter
func (m *MetricsHolder) RecordOrderRejected(instrumentID string) {
	if m.OrdersRejected == nil {
		return
	}
	m.OrdersRejected.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("instrument_id", instrumentID),
	))
}

// RecordTokenRefresh increments the token-refresh counter
func (m *MetricsHolder) RecordTokenRefresh(reason string) {
	if m.TokenRefreshTotal == nil {
		return
	}
	m.TokenRefreshTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordCacheHit increments the cache-hit counter
func (m *MetricsHolder) RecordCacheHit(kind string) {
	if m.CacheHitsTotal == nil {
		return
	}
	m.CacheHitsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
