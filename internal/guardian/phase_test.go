package guardian

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"position_guard/internal/core"
)

func TestAdvancePhase_FirstTargetTriggersProfitTaking(t *testing.T) {
	m := ladderMonitor()
	m.FilledLevels[1] = true
	m.RemainingSize = d(150)

	changed, actions := advancePhase(m, core.FillDelta{}, true)

	assert.True(t, changed)
	assert.Equal(t, core.PhaseProfitTaking, m.Phase)
	assert.True(t, actions.ensureBreakeven)
	assert.True(t, actions.cancelEntryLimits)
	assert.False(t, actions.finalizeClosure)
}

func TestAdvancePhase_CancelLimitsPolicyDisabled(t *testing.T) {
	m := ladderMonitor()
	m.FilledLevels[1] = true

	_, actions := advancePhase(m, core.FillDelta{}, false)

	assert.True(t, actions.ensureBreakeven)
	assert.False(t, actions.cancelEntryLimits)
}

func TestAdvancePhase_SingleZeroReadDoesNotClose(t *testing.T) {
	m := ladderMonitor()
	m.ZeroSizeReads = 1

	changed, actions := advancePhase(m, core.FillDelta{ZeroReported: true}, true)

	assert.False(t, changed)
	assert.Equal(t, core.PhaseMonitoring, m.Phase)
	assert.False(t, actions.finalizeClosure)
}

func TestAdvancePhase_TwoZeroReadsClose(t *testing.T) {
	m := ladderMonitor()
	m.ZeroSizeReads = 2

	changed, actions := advancePhase(m, core.FillDelta{ZeroReported: true}, true)

	assert.True(t, changed)
	assert.Equal(t, core.PhaseClosed, m.Phase)
	assert.True(t, actions.finalizeClosure)
}

func TestAdvancePhase_FlatCloseJumpsToClosed(t *testing.T) {
	m := ladderMonitor()
	m.Phase = core.PhaseProfitTaking

	changed, actions := advancePhase(m, core.FillDelta{FlatClose: true}, true)

	assert.True(t, changed)
	assert.Equal(t, core.PhaseClosed, m.Phase)
	assert.True(t, actions.finalizeClosure)
}

func TestAdvancePhase_NoRegression(t *testing.T) {
	m := ladderMonitor()
	m.Phase = core.PhaseProfitTaking
	m.FilledLevels[1] = true

	changed, _ := advancePhase(m, core.FillDelta{}, true)

	assert.False(t, changed)
	assert.Equal(t, core.PhaseProfitTaking, m.Phase)
}

func TestAdvancePhase_SideEffectsRetriedUntilFlagsSet(t *testing.T) {
	m := ladderMonitor()
	m.Phase = core.PhaseProfitTaking
	m.FilledLevels[1] = true

	// Flags unset: actions requested again on a later tick.
	_, actions := advancePhase(m, core.FillDelta{}, true)
	assert.True(t, actions.ensureBreakeven)
	assert.True(t, actions.cancelEntryLimits)

	// Flags set: nothing left to do.
	m.BreakevenApplied = true
	m.LimitEntryOrdersCancelled = true
	_, actions = advancePhase(m, core.FillDelta{}, true)
	assert.False(t, actions.ensureBreakeven)
	assert.False(t, actions.cancelEntryLimits)
}
