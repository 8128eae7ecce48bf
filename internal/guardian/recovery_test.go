package guardian

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_guard/internal/core"
	"position_guard/internal/mock"
	"position_guard/internal/registry"
)

func newRecovery(ex core.IExchangeClient) (*Recovery, *registry.Registry) {
	reg := registry.New(mock.NewNopLogger())
	return NewRecovery(reg, ex, newDetector(), mock.NewNopLogger()), reg
}

func TestRecovery_RederivesMissedFills(t *testing.T) {
	ex := mock.NewMockExchange()
	rec, reg := newRecovery(ex)

	// Persisted state predates two TP fills (850 + 50): the snapshot still
	// says MONITORING with nothing filled.
	m := ladderMonitor()
	reg.Put(m)
	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(100), d(100))

	require.NoError(t, rec.Run(context.Background()))

	assert.True(t, m.FilledLevels[1])
	assert.True(t, m.FilledLevels[2])
	assert.False(t, m.FilledLevels[3])
	assert.Equal(t, core.PhaseProfitTaking, m.Phase)
	assert.True(t, m.RemainingSize.Equal(d(100)))
}

func TestRecovery_RearmsSideEffectFlagsOnCorrection(t *testing.T) {
	ex := mock.NewMockExchange()
	rec, reg := newRecovery(ex)

	m := ladderMonitor()
	m.BreakevenApplied = true
	m.LimitEntryOrdersCancelled = true
	reg.Put(m)
	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(150), d(100))

	require.NoError(t, rec.Run(context.Background()))

	// Phase corrected MONITORING → PROFIT_TAKING: the deferred breakeven
	// and cancellation must still fire once.
	assert.Equal(t, core.PhaseProfitTaking, m.Phase)
	assert.False(t, m.BreakevenApplied)
	assert.False(t, m.LimitEntryOrdersCancelled)
}

func TestRecovery_NoCorrectionKeepsFlags(t *testing.T) {
	ex := mock.NewMockExchange()
	rec, reg := newRecovery(ex)

	m := ladderMonitor()
	m.Phase = core.PhaseProfitTaking
	m.FilledLevels[1] = true
	m.RemainingSize = d(150)
	m.BreakevenApplied = true
	m.LimitEntryOrdersCancelled = true
	reg.Put(m)
	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(150), d(100))

	require.NoError(t, rec.Run(context.Background()))

	assert.Equal(t, core.PhaseProfitTaking, m.Phase)
	assert.True(t, m.BreakevenApplied)
	assert.True(t, m.LimitEntryOrdersCancelled)
}

func TestRecovery_FilledLevelsNeverShrink(t *testing.T) {
	ex := mock.NewMockExchange()
	rec, reg := newRecovery(ex)

	m := ladderMonitor()
	m.Phase = core.PhaseProfitTaking
	m.FilledLevels[1] = true
	m.FilledLevels[2] = true
	m.RemainingSize = d(100)
	reg.Put(m)

	// Exchange drifted up a little; the recomputation must not drop
	// already-confirmed levels.
	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(150), d(100))

	require.NoError(t, rec.Run(context.Background()))

	assert.True(t, m.FilledLevels[1])
	assert.True(t, m.FilledLevels[2])
}

func TestRecovery_StaleClosedPhaseCorrected(t *testing.T) {
	ex := mock.NewMockExchange()
	rec, reg := newRecovery(ex)

	m := ladderMonitor()
	m.Phase = core.PhaseClosed
	reg.Put(m)
	ex.SetPosition(core.AccountPrimary, "BTCUSDT", core.SideLong, d(1000), d(100))

	require.NoError(t, rec.Run(context.Background()))

	assert.Equal(t, core.PhaseMonitoring, m.Phase)
}

func TestRecovery_VanishedPositionNotClosedByRecovery(t *testing.T) {
	ex := mock.NewMockExchange()
	rec, reg := newRecovery(ex)

	m := ladderMonitor()
	m.ZeroSizeReads = 1
	reg.Put(m)

	require.NoError(t, rec.Run(context.Background()))

	// Closure stays with the debounced tick path.
	assert.Equal(t, core.PhaseMonitoring, m.Phase)
	assert.Equal(t, 0, m.ZeroSizeReads)
	assert.Equal(t, 1, reg.Count(""))
}

func TestRecovery_ReadFailureLeavesMonitorUntouched(t *testing.T) {
	ex := mock.NewMockExchange()
	ex.PositionErr = assert.AnError
	rec, reg := newRecovery(ex)

	m := ladderMonitor()
	m.Phase = core.PhaseProfitTaking
	m.ZeroSizeReads = 1
	reg.Put(m)

	require.NoError(t, rec.Run(context.Background()))

	assert.Equal(t, core.PhaseProfitTaking, m.Phase)
	assert.Equal(t, 1, m.ZeroSizeReads)
}
