package guardian

import (
	"context"
	"strconv"
	"time"

	"position_guard/internal/config"
	"position_guard/internal/core"
	"position_guard/internal/registry"
	"position_guard/pkg/concurrency"
	"position_guard/pkg/telemetry"
)

// Manager drives the fill detection → phase → reconciliation pipeline for
// every monitor on its tick, with bounded parallelism. Per-monitor errors
// are isolated: one monitor's failed tick never blocks the others.
type Manager struct {
	cfg        *config.Config
	registry   *registry.Registry
	exchange   core.IExchangeClient
	detector   *FillDetector
	reconciler *Reconciler
	alerts     core.IAlertSink
	store      core.ISnapshotStore
	pool       *concurrency.WorkerPool
	logger     core.ILogger
	metrics    *telemetry.MetricsHolder
}

func NewManager(
	cfg *config.Config,
	reg *registry.Registry,
	exchange core.IExchangeClient,
	store core.ISnapshotStore,
	alerts core.IAlertSink,
	logger core.ILogger,
) *Manager {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "monitor_ticks",
		MaxWorkers:  cfg.Concurrency.TickPoolSize,
		MaxCapacity: cfg.Concurrency.TickPoolBuffer,
	}, logger)

	return &Manager{
		cfg:        cfg,
		registry:   reg,
		exchange:   exchange,
		detector:   NewFillDetector(cfg.Policy.FillToleranceBps, logger),
		reconciler: NewReconciler(exchange, cfg.Policy, logger),
		alerts:     alerts,
		store:      store,
		pool:       pool,
		logger:     logger.WithField("component", "guardian"),
		metrics:    telemetry.GetGlobalMetrics(),
	}
}

// Reconciler exposes the reconciliation engine for the recovery pass.
func (g *Manager) Reconciler() *Reconciler {
	return g.reconciler
}

// Register adds a monitor for a newly opened position. Returns false if a
// monitor already exists for the key.
func (g *Manager) Register(m *core.PositionMonitor) bool {
	return g.registry.Put(m)
}

// Run drives the main monitoring tick until the context is cancelled.
func (g *Manager) Run(ctx context.Context) error {
	interval := time.Duration(g.cfg.Policy.MainTickIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	g.logger.Info("Monitoring loop started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("Monitoring loop stopped")
			g.pool.Stop()
			return ctx.Err()
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

// tick processes every monitor once, in parallel across the pool.
func (g *Manager) tick(ctx context.Context) {
	keys := g.registry.Keys("")

	group := g.pool.Group()
	for _, key := range keys {
		k := key
		group.Submit(func() {
			g.processMonitor(ctx, k)
		})
	}
	group.Wait()

	g.metrics.SetActiveMonitors(string(core.AccountPrimary), int64(g.registry.Count(core.AccountPrimary)))
	g.metrics.SetActiveMonitors(string(core.AccountMirror), int64(g.registry.Count(core.AccountMirror)))
}

func (g *Manager) processMonitor(ctx context.Context, key core.MonitorKey) {
	m := g.registry.Get(key)
	if m == nil {
		return
	}

	live, err := g.exchange.GetOpenPosition(ctx, key.Account, key.Symbol, key.Side)
	if err != nil {
		// Skip this monitor for the tick; flags stay unset and the next
		// cycle retries the whole operation.
		g.logger.Warn("Position read failed, skipping tick", "key", key.String(), "error", err)
		return
	}

	m.Mu.Lock()
	delta := g.detector.Compute(m, live)
	applyDelta(m, live, delta)
	prevPhase := m.Phase
	changed, actions := advancePhase(m, delta, g.cfg.Policy.CancelLimitsOnFirstTarget)
	newPhase := m.Phase
	target := m.AlertTarget
	remaining := m.RemainingSize
	m.LastCheckedAt = time.Now().UTC()
	m.Mu.Unlock()

	if delta.FilledAmount.Sign() > 0 {
		g.metrics.AddFill(ctx, string(key.Account))
		g.notify(ctx, core.EventFillDetected, key, target, "Fill detected", map[string]string{
			"filled":    delta.FilledAmount.String(),
			"remaining": remaining.String(),
		})
	}

	if changed {
		g.metrics.AddPhaseChange(ctx, string(newPhase))
		g.logger.Info("Phase transition", "key", key.String(), "from", prevPhase, "to", newPhase)
		g.notify(ctx, core.EventPhaseChange, key, target, "Phase transition", map[string]string{
			"from": string(prevPhase),
			"to":   string(newPhase),
		})
	}

	if actions.finalizeClosure {
		g.finalizeClosure(ctx, key, m, target)
		return
	}

	if actions.cancelEntryLimits {
		if err := g.reconciler.CancelUnfilledEntryLimits(ctx, m); err != nil {
			g.logger.Warn("Entry limit cancellation failed, will retry", "key", key.String(), "error", err)
		} else {
			g.notify(ctx, core.EventLimitsCancelled, key, target, "Unfilled entry limits cancelled", nil)
		}
	}

	if actions.ensureBreakeven {
		if err := g.reconciler.EnsureStopLossAtBreakeven(ctx, m); err != nil {
			g.escalateStopLossFailure(ctx, key, m, target, err)
		} else {
			g.notify(ctx, core.EventBreakevenApplied, key, target, "Stop loss moved to breakeven", map[string]string{
				"remaining": remaining.String(),
			})
		}
	}

	if !delta.ZeroReported {
		if err := g.reconciler.ResizeLadderIfNeeded(ctx, m); err != nil {
			g.logger.Warn("Ladder resize failed, will retry", "key", key.String(), "error", err)
		}
	}
}

// finalizeClosure removes the monitor once every protective order is
// confirmed gone. A cancel that does not settle leaves the monitor in
// CLOSED so the next tick retries the cleanup.
func (g *Manager) finalizeClosure(ctx context.Context, key core.MonitorKey, m *core.PositionMonitor, target string) {
	if err := g.reconciler.CancelProtectiveOrders(ctx, m); err != nil {
		g.logger.Warn("Protective order cleanup failed, will retry", "key", key.String(), "error", err)
		return
	}

	g.registry.Remove(key)
	g.logger.Info("Position closed", "key", key.String())
	g.notify(ctx, core.EventPositionClosed, key, target, "Position closed, protection removed", nil)
}

// escalateStopLossFailure counts consecutive stop placement failures and
// raises a distinct unprotected-position event once the threshold is hit.
func (g *Manager) escalateStopLossFailure(ctx context.Context, key core.MonitorKey, m *core.PositionMonitor, target string, err error) {
	m.Mu.Lock()
	m.SLFailureCount++
	failures := m.SLFailureCount
	m.Mu.Unlock()

	g.logger.Error("Breakeven stop placement failed", "key", key.String(), "failures", failures, "error", err)

	if failures >= g.cfg.Policy.UnprotectedAlertThreshold {
		g.metrics.AddUnprotected(ctx)
		g.notify(ctx, core.EventUnprotectedPosition, key, target, "Position has no stop loss protection", map[string]string{
			"consecutive_failures": strconv.Itoa(failures),
			"error":                err.Error(),
		})
	}
}

// FlushLoop periodically persists the registry snapshot, with a final save
// on shutdown.
func (g *Manager) FlushLoop(ctx context.Context) error {
	interval := time.Duration(g.cfg.Policy.SnapshotFlushIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			g.flush(ctx)
		}
	}
}

func (g *Manager) flush(ctx context.Context) {
	snap := g.registry.Snapshot()
	if err := g.store.Save(ctx, snap); err != nil {
		g.logger.Error("Snapshot save failed", "monitors", len(snap.Monitors), "error", err)
		return
	}
	g.logger.Debug("Snapshot saved", "monitors", len(snap.Monitors))
}

func (g *Manager) notify(ctx context.Context, eventType string, key core.MonitorKey, target, message string, fields map[string]string) {
	g.alerts.Notify(ctx, core.AlertEvent{
		Type:      eventType,
		Key:       key,
		Target:    target,
		Message:   message,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	})
}
