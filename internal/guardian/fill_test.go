package guardian

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_guard/internal/core"
	"position_guard/internal/mock"
)

func d(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// ladderMonitor builds a long position of 1000 with targets [850,50,50,50].
func ladderMonitor() *core.PositionMonitor {
	return &core.PositionMonitor{
		Symbol:        "BTCUSDT",
		Side:          core.SideLong,
		Account:       core.AccountPrimary,
		InitialSize:   d(1000),
		RemainingSize: d(1000),
		EntryPrice:    d(100),
		Approach:      core.ApproachLaddered,
		TPOrders: map[string]core.TPOrder{
			"o1": {OrderID: "o1", Level: 1, TargetQty: d(850), TargetPrice: d(101)},
			"o2": {OrderID: "o2", Level: 2, TargetQty: d(50), TargetPrice: d(102)},
			"o3": {OrderID: "o3", Level: 3, TargetQty: d(50), TargetPrice: d(103)},
			"o4": {OrderID: "o4", Level: 4, TargetQty: d(50), TargetPrice: d(104)},
		},
		FilledLevels: make(map[int]bool),
		Phase:        core.PhaseMonitoring,
	}
}

func newDetector() *FillDetector {
	return NewFillDetector(10, mock.NewNopLogger())
}

func TestComputeFillDelta_FirstLevelFilled(t *testing.T) {
	m := ladderMonitor()
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(150), EntryPrice: d(100)}

	delta := newDetector().Compute(m, live)

	assert.True(t, delta.FilledAmount.Equal(d(850)))
	assert.Equal(t, []int{1}, delta.NewFilledLevels)
	assert.False(t, delta.FlatClose)
	assert.False(t, delta.ZeroReported)
}

func TestComputeFillDelta_PartialFillNotMisattributed(t *testing.T) {
	m := ladderMonitor()
	// 400 filled is well short of level 1's 850 target; nothing may be
	// attributed to level 2.
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(600)}

	delta := newDetector().Compute(m, live)

	assert.True(t, delta.FilledAmount.Equal(d(400)))
	assert.Empty(t, delta.NewFilledLevels)
}

func TestComputeFillDelta_LevelToleranceForRounding(t *testing.T) {
	m := ladderMonitor()
	// 845 filled is within 1% of level 1's 850 target.
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(155)}

	delta := newDetector().Compute(m, live)

	assert.Equal(t, []int{1}, delta.NewFilledLevels)
}

func TestComputeFillDelta_NegativeDriftClamped(t *testing.T) {
	m := ladderMonitor()
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(1005)}

	delta := newDetector().Compute(m, live)

	assert.True(t, delta.FilledAmount.IsZero())
	assert.Empty(t, delta.NewFilledLevels)
}

func TestComputeFillDelta_ZeroReported(t *testing.T) {
	m := ladderMonitor()

	delta := newDetector().Compute(m, nil)
	assert.True(t, delta.ZeroReported)

	delta = newDetector().Compute(m, &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: decimal.Zero})
	assert.True(t, delta.ZeroReported)
}

func TestComputeFillDelta_FlatClose(t *testing.T) {
	m := ladderMonitor()
	// Dust left on the book: everything filled within tolerance.
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(0.5)}

	delta := newDetector().Compute(m, live)

	assert.True(t, delta.FlatClose)
	assert.Equal(t, []int{1, 2, 3, 4}, delta.NewFilledLevels)
}

func TestComputeFillDelta_SkipsAlreadyFilledLevels(t *testing.T) {
	m := ladderMonitor()
	m.FilledLevels[1] = true
	m.RemainingSize = d(150)
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(100)}

	delta := newDetector().Compute(m, live)

	assert.True(t, delta.FilledAmount.Equal(d(50)))
	assert.Equal(t, []int{2}, delta.NewFilledLevels)
}

func TestApplyDelta_FillUpdatesState(t *testing.T) {
	m := ladderMonitor()
	m.ZeroSizeReads = 1
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(150)}

	delta := newDetector().Compute(m, live)
	applyDelta(m, live, delta)

	assert.True(t, m.RemainingSize.Equal(d(150)))
	assert.True(t, m.FilledLevels[1])
	assert.True(t, m.TPOrders["o1"].Filled)
	assert.False(t, m.TPOrders["o2"].Filled)
	assert.Equal(t, 0, m.ZeroSizeReads)
}

func TestApplyDelta_ZeroReadOnlyBumpsCounter(t *testing.T) {
	m := ladderMonitor()

	applyDelta(m, nil, core.FillDelta{ZeroReported: true})

	require.Equal(t, 1, m.ZeroSizeReads)
	assert.True(t, m.RemainingSize.Equal(d(1000)))
	assert.Empty(t, m.FilledLevels)
}

func TestApplyDelta_FlatCloseMarksAllLevels(t *testing.T) {
	m := ladderMonitor()
	live := &core.Position{Symbol: "BTCUSDT", Side: core.SideLong, Size: d(0.5)}

	delta := newDetector().Compute(m, live)
	applyDelta(m, live, delta)

	for level := 1; level <= 4; level++ {
		assert.True(t, m.FilledLevels[level], "level %d", level)
	}
}
