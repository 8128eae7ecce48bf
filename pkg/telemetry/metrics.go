package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricMonitorsActive       = "position_guard_monitors_active"
	MetricFillsDetectedTotal   = "position_guard_fills_detected_total"
	MetricOrdersPlacedTotal    = "position_guard_orders_placed_total"
	MetricOrdersCancelledTotal = "position_guard_orders_cancelled_total"
	MetricUnprotectedTotal     = "position_guard_unprotected_escalations_total"
	MetricPhaseChangesTotal    = "position_guard_phase_changes_total"
	MetricLatencyExchange      = "position_guard_latency_exchange_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	MonitorsActive       metric.Int64ObservableGauge
	FillsDetectedTotal   metric.Int64Counter
	OrdersPlacedTotal    metric.Int64Counter
	OrdersCancelledTotal metric.Int64Counter
	UnprotectedTotal     metric.Int64Counter
	PhaseChangesTotal    metric.Int64Counter
	LatencyExchange      metric.Float64Histogram

	// State for observable gauges
	mu              sync.RWMutex
	activeMonitors  map[string]int64
	initialized     bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeMonitors: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.FillsDetectedTotal, err = meter.Int64Counter(MetricFillsDetectedTotal,
		metric.WithDescription("Total fills detected across all monitors"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Total protective orders placed"))
	if err != nil {
		return err
	}

	m.OrdersCancelledTotal, err = meter.Int64Counter(MetricOrdersCancelledTotal,
		metric.WithDescription("Total protective orders cancelled"))
	if err != nil {
		return err
	}

	m.UnprotectedTotal, err = meter.Int64Counter(MetricUnprotectedTotal,
		metric.WithDescription("Total unprotected-position escalations"))
	if err != nil {
		return err
	}

	m.PhaseChangesTotal, err = meter.Int64Counter(MetricPhaseChangesTotal,
		metric.WithDescription("Total monitor phase transitions"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange,
		metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.MonitorsActive, err = meter.Int64ObservableGauge(MetricMonitorsActive,
		metric.WithDescription("Number of active position monitors per account"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for account, count := range m.activeMonitors {
				obs.Observe(count, metric.WithAttributes(attribute.String("account", account)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// SetActiveMonitors updates the gauge state for an account.
func (m *MetricsHolder) SetActiveMonitors(account string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeMonitors[account] = count
}

// AddFill increments the fill counter if metrics are initialized.
func (m *MetricsHolder) AddFill(ctx context.Context, account string) {
	m.mu.RLock()
	ok := m.initialized
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.FillsDetectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("account", account)))
}

// AddPhaseChange increments the phase transition counter.
func (m *MetricsHolder) AddPhaseChange(ctx context.Context, phase string) {
	m.mu.RLock()
	ok := m.initialized
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.PhaseChangesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// AddOrderPlaced increments the placed-orders counter.
func (m *MetricsHolder) AddOrderPlaced(ctx context.Context, account string) {
	m.mu.RLock()
	ok := m.initialized
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("account", account)))
}

// AddOrderCancelled increments the cancelled-orders counter.
func (m *MetricsHolder) AddOrderCancelled(ctx context.Context, account string) {
	m.mu.RLock()
	ok := m.initialized
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.OrdersCancelledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("account", account)))
}

// RecordExchangeLatency records the duration of one exchange API attempt
// in milliseconds.
func (m *MetricsHolder) RecordExchangeLatency(ctx context.Context, account, endpoint string, ms float64) {
	m.mu.RLock()
	ok := m.initialized
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.LatencyExchange.Record(ctx, ms, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("endpoint", endpoint)))
}

// AddUnprotected increments the escalation counter.
func (m *MetricsHolder) AddUnprotected(ctx context.Context) {
	m.mu.RLock()
	ok := m.initialized
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.UnprotectedTotal.Add(ctx, 1)
}
