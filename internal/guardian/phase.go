package guardian

import (
	"position_guard/internal/core"
)

// pendingActions lists the side effects a phase step decided on. The flags
// on the monitor are only set after the corresponding reconciliation op
// succeeds, so a failed op is retried on the next tick.
type pendingActions struct {
	ensureBreakeven   bool
	cancelEntryLimits bool
	finalizeClosure   bool
}

// advancePhase applies the delta to the monitor's phase and returns the
// side effects that must run. Transitions are monotonic: MONITORING →
// PROFIT_TAKING → CLOSED, with any phase jumping to CLOSED on a confirmed
// flat or zero-size close. Caller must hold the monitor mutex.
func advancePhase(m *core.PositionMonitor, delta core.FillDelta, cancelLimitsOnFirstTarget bool) (changed bool, actions pendingActions) {
	prev := m.Phase

	switch {
	case m.ZeroSizeReads >= zeroReadConfirmations:
		m.Phase = core.PhaseClosed
	case delta.FlatClose:
		m.Phase = core.PhaseClosed
	case m.Phase == core.PhaseMonitoring && m.FilledLevels[1]:
		m.Phase = core.PhaseProfitTaking
	}

	changed = m.Phase != prev

	// Side effects are re-evaluated every tick, not just on the transition
	// tick: a flag left unset by a failed op must be retried.
	if m.Phase == core.PhaseProfitTaking {
		if !m.BreakevenApplied && m.RemainingSize.Sign() > 0 {
			actions.ensureBreakeven = true
		}
		if cancelLimitsOnFirstTarget && !m.LimitEntryOrdersCancelled {
			actions.cancelEntryLimits = true
		}
	}
	if m.Phase == core.PhaseClosed {
		actions.finalizeClosure = true
	}

	return changed, actions
}
