package registry

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_guard/internal/core"
	"position_guard/internal/mock"
)

func testMonitor(symbol string, account core.Account) *core.PositionMonitor {
	return &core.PositionMonitor{
		Symbol:        symbol,
		Side:          core.SideLong,
		Account:       account,
		InitialSize:   decimal.NewFromInt(1000),
		RemainingSize: decimal.NewFromInt(1000),
		EntryPrice:    decimal.NewFromInt(100),
		Approach:      core.ApproachLaddered,
		TPOrders: map[string]core.TPOrder{
			"o1": {OrderID: "o1", Level: 1, TargetQty: decimal.NewFromInt(1000), TargetPrice: decimal.NewFromInt(101)},
		},
		FilledLevels: make(map[int]bool),
		Phase:        core.PhaseMonitoring,
	}
}

func TestRegistry_PutGetRemove(t *testing.T) {
	r := New(mock.NewNopLogger())
	m := testMonitor("BTCUSDT", core.AccountPrimary)

	require.True(t, r.Put(m))
	assert.False(t, r.Put(m), "duplicate key must be rejected")

	got := r.Get(m.Key())
	require.NotNil(t, got)
	assert.Same(t, m, got)

	removed := r.Remove(m.Key())
	assert.Same(t, m, removed)
	assert.Nil(t, r.Get(m.Key()))
	assert.Nil(t, r.Remove(m.Key()))
}

func TestRegistry_KeysAndCountByAccount(t *testing.T) {
	r := New(mock.NewNopLogger())
	require.True(t, r.Put(testMonitor("BTCUSDT", core.AccountPrimary)))
	require.True(t, r.Put(testMonitor("ETHUSDT", core.AccountPrimary)))
	require.True(t, r.Put(testMonitor("BTCUSDT", core.AccountMirror)))

	assert.Len(t, r.Keys(""), 3)
	assert.Len(t, r.Keys(core.AccountPrimary), 2)
	assert.Len(t, r.Keys(core.AccountMirror), 1)
	assert.Equal(t, 3, r.Count(""))
	assert.Equal(t, 1, r.Count(core.AccountMirror))
}

func TestRegistry_SnapshotIsDeepCopy(t *testing.T) {
	r := New(mock.NewNopLogger())
	m := testMonitor("BTCUSDT", core.AccountPrimary)
	require.True(t, r.Put(m))

	snap := r.Snapshot()
	require.Len(t, snap.Monitors, 1)

	// Mutations after the snapshot must not leak into it.
	m.Mu.Lock()
	m.FilledLevels[1] = true
	m.Phase = core.PhaseProfitTaking
	m.SLOrder = &core.SLOrder{OrderID: "sl1"}
	tp := m.TPOrders["o1"]
	tp.Filled = true
	m.TPOrders["o1"] = tp
	m.Mu.Unlock()

	cp := snap.Monitors[0]
	assert.False(t, cp.FilledLevels[1])
	assert.Equal(t, core.PhaseMonitoring, cp.Phase)
	assert.Nil(t, cp.SLOrder)
	assert.False(t, cp.TPOrders["o1"].Filled)
}

func TestRegistry_RestoreReplacesContents(t *testing.T) {
	r := New(mock.NewNopLogger())
	require.True(t, r.Put(testMonitor("OLDUSDT", core.AccountPrimary)))

	src := New(mock.NewNopLogger())
	require.True(t, src.Put(testMonitor("BTCUSDT", core.AccountPrimary)))
	require.True(t, src.Put(testMonitor("ETHUSDT", core.AccountMirror)))

	r.Restore(src.Snapshot())

	assert.Equal(t, 2, r.Count(""))
	assert.Nil(t, r.Get(core.MonitorKey{Symbol: "OLDUSDT", Side: core.SideLong, Account: core.AccountPrimary}))
	assert.NotNil(t, r.Get(core.MonitorKey{Symbol: "BTCUSDT", Side: core.SideLong, Account: core.AccountPrimary}))
}
