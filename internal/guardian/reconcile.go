package guardian

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"position_guard/internal/config"
	"position_guard/internal/core"
	"position_guard/pkg/telemetry"
)

// Reconciler mutates protective orders on the exchange so they match the
// monitor's target state. Every operation re-reads live open orders before
// mutating, so a retry after a partial failure converges instead of
// creating duplicates. No monitor mutex is held across a network call.
type Reconciler struct {
	exchange core.IExchangeClient
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder

	breakevenBuffer decimal.Decimal
	sizeTolerance   decimal.Decimal
}

func NewReconciler(exchange core.IExchangeClient, policy config.PolicyConfig, logger core.ILogger) *Reconciler {
	return &Reconciler{
		exchange:        exchange,
		logger:          logger.WithField("component", "reconciler"),
		metrics:         telemetry.GetGlobalMetrics(),
		breakevenBuffer: decimal.NewFromFloat(policy.BreakevenBufferBps).Div(decimal.NewFromInt(10000)),
		sizeTolerance:   decimal.NewFromFloat(policy.FillToleranceBps).Div(decimal.NewFromInt(10000)),
	}
}

// breakevenPrice shifts the entry price by the buffer in the loss-avoiding
// direction: above entry for longs, below entry for shorts.
func (r *Reconciler) breakevenPrice(entry decimal.Decimal, side core.Side) decimal.Decimal {
	buffer := entry.Mul(r.breakevenBuffer)
	if side == core.SideLong {
		return entry.Add(buffer)
	}
	return entry.Sub(buffer)
}

// EnsureStopLossAtBreakeven replaces the protective stop with a reduce-only
// stop at breakeven sized to the remaining position. Stale or duplicate
// stop orders found on the book are cancelled; an already-correct stop is
// adopted as-is. On any error the caller's BreakevenApplied flag stays
// unset so the operation is retried next tick.
func (r *Reconciler) EnsureStopLossAtBreakeven(ctx context.Context, m *core.PositionMonitor) error {
	m.Mu.Lock()
	account, symbol, side := m.Account, m.Symbol, m.Side
	remaining := m.RemainingSize
	entry := m.EntryPrice
	m.Mu.Unlock()

	if remaining.Sign() <= 0 {
		return nil
	}

	trigger := r.breakevenPrice(entry, side)

	orders, err := r.exchange.GetOpenOrders(ctx, account, symbol)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	var existing *core.Order
	for i := range orders {
		o := orders[i]
		if o.Type != core.OrderTypeStopMarket || !o.ReduceOnly || o.Side != side {
			continue
		}
		if existing == nil && o.TriggerPrice.Equal(trigger) && o.Qty.Equal(remaining) {
			existing = &orders[i]
			continue
		}
		if res := r.exchange.CancelOrder(ctx, account, symbol, o.OrderID); !res.Settled() {
			return fmt.Errorf("cancel stop order %s: %s", o.OrderID, res)
		}
		r.metrics.AddOrderCancelled(ctx, string(account))
	}

	if existing == nil {
		placed, err := r.exchange.PlaceOrder(ctx, account, &core.PlaceOrderRequest{
			Symbol:        symbol,
			Side:          side,
			Type:          core.OrderTypeStopMarket,
			Qty:           remaining,
			TriggerPrice:  trigger,
			ReduceOnly:    true,
			ClientOrderID: newClientOrderID("sl"),
		})
		if err != nil {
			return fmt.Errorf("place breakeven stop: %w", err)
		}
		existing = placed
		r.metrics.AddOrderPlaced(ctx, string(account))
		r.logger.Info("Breakeven stop placed",
			"key", m.Key().String(),
			"trigger", trigger.String(),
			"qty", remaining.String())
	}

	m.Mu.Lock()
	m.SLOrder = &core.SLOrder{
		OrderID:      existing.OrderID,
		TriggerPrice: existing.TriggerPrice,
		Qty:          existing.Qty,
	}
	m.BreakevenApplied = true
	m.SLFailureCount = 0
	m.Mu.Unlock()
	return nil
}

// CancelUnfilledEntryLimits removes open entry limit orders (non reduce-only)
// for the monitor's symbol. The flag is set only when the listing call
// succeeded and every found order settled; a failed listing leaves the flag
// unset so the next tick retries.
func (r *Reconciler) CancelUnfilledEntryLimits(ctx context.Context, m *core.PositionMonitor) error {
	m.Mu.Lock()
	account, symbol := m.Account, m.Symbol
	m.Mu.Unlock()

	orders, err := r.exchange.GetOpenOrders(ctx, account, symbol)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	cancelled := 0
	for _, o := range orders {
		if o.Type != core.OrderTypeLimit || o.ReduceOnly {
			continue
		}
		if res := r.exchange.CancelOrder(ctx, account, symbol, o.OrderID); !res.Settled() {
			return fmt.Errorf("cancel entry limit %s: %s", o.OrderID, res)
		}
		r.metrics.AddOrderCancelled(ctx, string(account))
		cancelled++
	}

	m.Mu.Lock()
	m.LimitEntryOrdersCancelled = true
	m.Mu.Unlock()

	if cancelled > 0 {
		r.logger.Info("Entry limit orders cancelled", "key", m.Key().String(), "count", cancelled)
	}
	return nil
}

type ladderReplacement struct {
	old    core.TPOrder
	newQty decimal.Decimal
}

// ResizeLadderIfNeeded restores the ladder sum invariant after an
// out-of-band size change: the summed quantity of unfilled TP levels must
// equal remainingSize within tolerance. The ladder view is rebuilt from the
// live order book first, so records pointing at orders that were already
// replaced or cancelled are never acted on. The last unfilled level is
// adjusted first; levels fully swallowed by the excess are cancelled
// outright.
func (r *Reconciler) ResizeLadderIfNeeded(ctx context.Context, m *core.PositionMonitor) error {
	m.Mu.Lock()
	account, symbol, side := m.Account, m.Symbol, m.Side
	remaining := m.RemainingSize
	tolerance := m.InitialSize.Mul(r.sizeTolerance)
	m.Mu.Unlock()

	orders, err := r.exchange.GetOpenOrders(ctx, account, symbol)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	live := make(map[string]core.Order)
	for _, o := range orders {
		if o.Type == core.OrderTypeLimit && o.ReduceOnly && o.Side == side {
			live[o.OrderID] = o
		}
	}

	unfilled, sum := syncLadderToBook(m, live)

	diff := sum.Sub(remaining)
	if diff.Abs().LessThanOrEqual(tolerance) || len(unfilled) == 0 {
		return nil
	}

	r.logger.Warn("Ladder sum diverged from remaining size",
		"key", m.Key().String(),
		"ladder_sum", sum.String(),
		"remaining", remaining.String())

	var plan []ladderReplacement
	for i := len(unfilled) - 1; i >= 0 && !diff.IsZero(); i-- {
		tp := unfilled[i]
		newQty := tp.TargetQty.Sub(diff)
		if newQty.Sign() > 0 {
			plan = append(plan, ladderReplacement{old: tp, newQty: newQty})
			diff = decimal.Zero
		} else {
			plan = append(plan, ladderReplacement{old: tp, newQty: decimal.Zero})
			diff = diff.Sub(tp.TargetQty)
		}
	}

	for _, rep := range plan {
		if res := r.exchange.CancelOrder(ctx, account, symbol, rep.old.OrderID); !res.Settled() {
			return fmt.Errorf("cancel tp level %d: %s", rep.old.Level, res)
		}
		r.metrics.AddOrderCancelled(ctx, string(account))

		m.Mu.Lock()
		delete(m.TPOrders, rep.old.OrderID)
		m.Mu.Unlock()

		if rep.newQty.Sign() <= 0 {
			continue
		}

		placed, err := r.exchange.PlaceOrder(ctx, account, &core.PlaceOrderRequest{
			Symbol:        symbol,
			Side:          side,
			Type:          core.OrderTypeLimit,
			Qty:           rep.newQty,
			Price:         rep.old.TargetPrice,
			ReduceOnly:    true,
			ClientOrderID: newClientOrderID("tp"),
		})
		if err != nil {
			return fmt.Errorf("replace tp level %d: %w", rep.old.Level, err)
		}
		r.metrics.AddOrderPlaced(ctx, string(account))

		m.Mu.Lock()
		m.TPOrders[placed.OrderID] = core.TPOrder{
			OrderID:     placed.OrderID,
			Level:       rep.old.Level,
			TargetQty:   rep.newQty,
			TargetPrice: rep.old.TargetPrice,
		}
		m.Mu.Unlock()
	}

	return nil
}

// syncLadderToBook reconciles the monitor's TP records with the live book:
// unfilled records whose order no longer rests on the book are dropped,
// untracked reduce-only limits are adopted onto new trailing levels, and
// tracked quantities are refreshed from the book. Returns the unfilled
// levels in ladder order with their summed quantity.
func syncLadderToBook(m *core.PositionMonitor, live map[string]core.Order) ([]core.TPOrder, decimal.Decimal) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	maxLevel := 0
	for id, tp := range m.TPOrders {
		if tp.Level > maxLevel {
			maxLevel = tp.Level
		}
		if tp.Filled {
			continue
		}
		o, ok := live[id]
		if !ok {
			delete(m.TPOrders, id)
			continue
		}
		if !tp.TargetQty.Equal(o.Qty) {
			tp.TargetQty = o.Qty
			m.TPOrders[id] = tp
		}
	}

	var adopted []core.Order
	for id, o := range live {
		if _, ok := m.TPOrders[id]; !ok {
			adopted = append(adopted, o)
		}
	}
	for i := 1; i < len(adopted); i++ {
		for j := i; j > 0 && closerTarget(m.Side, adopted[j].Price, adopted[j-1].Price); j-- {
			adopted[j], adopted[j-1] = adopted[j-1], adopted[j]
		}
	}
	for _, o := range adopted {
		maxLevel++
		m.TPOrders[o.OrderID] = core.TPOrder{
			OrderID:     o.OrderID,
			Level:       maxLevel,
			TargetQty:   o.Qty,
			TargetPrice: o.Price,
		}
	}

	var unfilled []core.TPOrder
	sum := decimal.Zero
	for _, tp := range m.LadderLevels() {
		if !tp.Filled {
			unfilled = append(unfilled, tp)
			sum = sum.Add(tp.TargetQty)
		}
	}
	return unfilled, sum
}

// CancelProtectiveOrders removes every tracked TP and SL order for a
// monitor. Used when finalizing closure; the monitor is only removed from
// the registry after all cancels settle.
func (r *Reconciler) CancelProtectiveOrders(ctx context.Context, m *core.PositionMonitor) error {
	m.Mu.Lock()
	account, symbol := m.Account, m.Symbol
	orderIDs := make([]string, 0, len(m.TPOrders)+1)
	for id, tp := range m.TPOrders {
		if !tp.Filled {
			orderIDs = append(orderIDs, id)
		}
	}
	if m.SLOrder != nil {
		orderIDs = append(orderIDs, m.SLOrder.OrderID)
	}
	m.Mu.Unlock()

	for _, id := range orderIDs {
		if res := r.exchange.CancelOrder(ctx, account, symbol, id); !res.Settled() {
			return fmt.Errorf("cancel protective order %s: %s", id, res)
		}
		r.metrics.AddOrderCancelled(ctx, string(account))

		m.Mu.Lock()
		delete(m.TPOrders, id)
		if m.SLOrder != nil && m.SLOrder.OrderID == id {
			m.SLOrder = nil
		}
		m.Mu.Unlock()
	}
	return nil
}

func newClientOrderID(prefix string) string {
	return fmt.Sprintf("pg_%s_%s", prefix, uuid.New().String()[:18])
}
