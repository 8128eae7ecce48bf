// Package guardian implements the position protection lifecycle: fill
// detection, the phase state machine, protective order reconciliation,
// mirror account sync and startup recovery.
package guardian

import (
	"github.com/shopspring/decimal"

	"position_guard/internal/core"
)

// zeroReadConfirmations is how many consecutive zero-size reads are needed
// before a monitor is considered closed. A single empty read can be a
// transient positions-endpoint inconsistency.
const zeroReadConfirmations = 2

// levelFillTolerance is the per-level fraction of target quantity tolerated
// when attributing fills to ladder levels (exchange rounding).
var levelFillTolerance = decimal.NewFromFloat(0.01)

// FillDetector compares locally-remembered position size against the
// exchange's reported size and attributes the difference to TP levels.
type FillDetector struct {
	// sizeTolerance is the fraction of initialSize within which the ladder
	// sum invariant and flat-close detection operate.
	sizeTolerance decimal.Decimal
	logger        core.ILogger
}

func NewFillDetector(fillToleranceBps float64, logger core.ILogger) *FillDetector {
	return &FillDetector{
		sizeTolerance: decimal.NewFromFloat(fillToleranceBps).Div(decimal.NewFromInt(10000)),
		logger:        logger.WithField("component", "fill_detector"),
	}
}

// Compute produces the FillDelta between the monitor's remembered state and
// the live position. It does not mutate the monitor; the caller must hold
// the monitor mutex so the read is consistent.
func (d *FillDetector) Compute(m *core.PositionMonitor, live *core.Position) core.FillDelta {
	if live == nil || live.Size.IsZero() {
		return core.FillDelta{ZeroReported: true}
	}

	filled := m.RemainingSize.Sub(live.Size)
	if filled.Sign() <= 0 {
		// Negative drift from exchange rounding, clamp to zero.
		if filled.Sign() < 0 {
			d.logger.Warn("Negative fill delta clamped",
				"key", m.Key().String(),
				"stored", m.RemainingSize.String(),
				"exchange", live.Size.String())
		}
		return core.FillDelta{}
	}

	delta := core.FillDelta{FilledAmount: filled}

	// Attribute against the total filled amount since initialSize, not the
	// tick delta, so a partial fill on one level is never mis-attributed to
	// the next.
	totalFilled := m.InitialSize.Sub(live.Size)
	delta.NewFilledLevels = d.attributeLevels(m, totalFilled)

	// A delta that eats through every remaining target is a flat close.
	if totalFilled.GreaterThanOrEqual(m.InitialSize.Sub(m.InitialSize.Mul(d.sizeTolerance))) {
		delta.FlatClose = true
	}

	return delta
}

// attributeLevels walks the ladder in level order accumulating target
// quantities. A level counts as filled once the total filled amount reaches
// its cumulative target minus the per-level tolerance.
func (d *FillDetector) attributeLevels(m *core.PositionMonitor, totalFilled decimal.Decimal) []int {
	var newLevels []int
	cumulative := decimal.Zero

	for _, tp := range m.LadderLevels() {
		cumulative = cumulative.Add(tp.TargetQty)
		threshold := cumulative.Sub(tp.TargetQty.Mul(levelFillTolerance))
		if totalFilled.LessThan(threshold) {
			break
		}
		if !m.FilledLevels[tp.Level] {
			newLevels = append(newLevels, tp.Level)
		}
	}
	return newLevels
}

// applyDelta folds a computed delta back into the monitor. Caller must hold
// the monitor mutex. Zero-size reads only bump the confirmation counter;
// actual closure is decided by the phase step.
func applyDelta(m *core.PositionMonitor, live *core.Position, delta core.FillDelta) {
	if delta.ZeroReported {
		m.ZeroSizeReads++
		return
	}
	m.ZeroSizeReads = 0

	if delta.FilledAmount.Sign() > 0 {
		m.RemainingSize = live.Size
	}

	for _, level := range delta.NewFilledLevels {
		markLevelFilled(m, level)
	}

	if delta.FlatClose {
		for _, tp := range m.LadderLevels() {
			markLevelFilled(m, tp.Level)
		}
	}
}

func markLevelFilled(m *core.PositionMonitor, level int) {
	m.FilledLevels[level] = true
	for id, tp := range m.TPOrders {
		if tp.Level == level {
			tp.Filled = true
			m.TPOrders[id] = tp
		}
	}
}
