package guardian

import (
	"context"

	"position_guard/internal/core"
	"position_guard/internal/registry"
)

// Recovery revalidates restored monitors against live exchange truth before
// normal ticking resumes. Persisted phase and fill state are never trusted:
// the process may have been offline across one or more fills, leaving the
// snapshot stale.
type Recovery struct {
	registry *registry.Registry
	exchange core.IExchangeClient
	detector *FillDetector
	logger   core.ILogger
}

func NewRecovery(reg *registry.Registry, exchange core.IExchangeClient, detector *FillDetector, logger core.ILogger) *Recovery {
	return &Recovery{
		registry: reg,
		exchange: exchange,
		detector: detector,
		logger:   logger.WithField("component", "recovery"),
	}
}

// Run walks every restored monitor once. Read failures leave the monitor
// untouched; the normal tick loop retries against the same exchange truth.
func (r *Recovery) Run(ctx context.Context) error {
	keys := r.registry.Keys("")
	r.logger.Info("Recovery pass started", "monitors", len(keys))

	for _, key := range keys {
		m := r.registry.Get(key)
		if m == nil {
			continue
		}

		live, err := r.exchange.GetOpenPosition(ctx, key.Account, key.Symbol, key.Side)
		if err != nil {
			r.logger.Warn("Position read failed during recovery", "key", key.String(), "error", err)
			continue
		}

		r.recoverMonitor(m, live)
	}

	r.logger.Info("Recovery pass complete")
	return nil
}

func (r *Recovery) recoverMonitor(m *core.PositionMonitor, live *core.Position) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	// Confirmation counters never survive a restart.
	m.ZeroSizeReads = 0
	m.SLFailureCount = 0

	if live == nil || live.Size.IsZero() {
		// Position gone while offline. Closure still goes through the
		// normal debounced zero-read path, never a single recovery read.
		return
	}

	if live.Size.GreaterThan(m.InitialSize) {
		r.logger.Warn("Live position larger than initial size, rebasing",
			"key", m.Key().String(),
			"initial", m.InitialSize.String(),
			"live", live.Size.String())
		m.InitialSize = live.Size
	}

	if !live.Size.Equal(m.RemainingSize) {
		// Recompute fills from the total amount since initialSize, not the
		// delta since the last persisted tick.
		totalFilled := m.InitialSize.Sub(live.Size)
		newLevels := r.detector.attributeLevels(m, totalFilled)
		for _, level := range newLevels {
			markLevelFilled(m, level)
		}
		if len(newLevels) > 0 {
			r.logger.Info("Fills recovered from offline period",
				"key", m.Key().String(),
				"levels", newLevels,
				"total_filled", totalFilled.String())
		}
		m.RemainingSize = live.Size
	}

	derived := core.PhaseMonitoring
	if m.FilledLevels[1] {
		derived = core.PhaseProfitTaking
	}

	if m.Phase != derived {
		r.logger.Warn("Persisted phase corrected",
			"key", m.Key().String(),
			"persisted", m.Phase,
			"derived", derived)
		m.Phase = derived

		// Re-arm the side-effect flags so the deferred breakeven move and
		// limit cancellation still fire exactly once.
		if derived == core.PhaseProfitTaking {
			m.BreakevenApplied = false
			m.LimitEntryOrdersCancelled = false
		}
	}
}
