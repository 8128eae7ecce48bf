package guardian

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"position_guard/internal/config"
	"position_guard/internal/core"
	"position_guard/internal/registry"
)

// MirrorSync keeps the mirror account's monitor set consistent with its
// actual positions. It runs on its own cadence, independent of the main
// monitoring tick: untracked positions get a new monitor, monitors whose
// position vanished are removed after a debounce. It never mutates a
// monitor's protection state; that stays with the main engine.
type MirrorSync struct {
	cfg      *config.Config
	registry *registry.Registry
	exchange core.IExchangeClient
	logger   core.ILogger

	// missing counts consecutive sync cycles in which a tracked mirror key
	// had no live position. Removal requires two in a row, mirroring the
	// main engine's zero-size confirmation.
	missing map[core.MonitorKey]int
}

func NewMirrorSync(cfg *config.Config, reg *registry.Registry, exchange core.IExchangeClient, logger core.ILogger) *MirrorSync {
	return &MirrorSync{
		cfg:      cfg,
		registry: reg,
		exchange: exchange,
		logger:   logger.WithField("component", "mirror_sync"),
		missing:  make(map[core.MonitorKey]int),
	}
}

// Run drives the sync loop until the context is cancelled.
func (s *MirrorSync) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Policy.MirrorTickIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Mirror sync started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Mirror sync stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Warn("Mirror sync cycle failed", "error", err)
			}
		}
	}
}

// SyncOnce runs a single sync cycle.
func (s *MirrorSync) SyncOnce(ctx context.Context) error {
	positions, err := s.exchange.ListOpenPositions(ctx, core.AccountMirror)
	if err != nil {
		// Listing failure must not trigger removals: a tracked position is
		// only "missing" when a successful listing did not contain it.
		return err
	}

	live := make(map[core.MonitorKey]core.Position, len(positions))
	for _, pos := range positions {
		key := core.MonitorKey{Symbol: pos.Symbol, Side: pos.Side, Account: core.AccountMirror}
		live[key] = pos
	}

	for key, pos := range live {
		delete(s.missing, key)
		if s.registry.Get(key) != nil {
			continue
		}
		s.adopt(ctx, key, pos)
	}

	for _, key := range s.registry.Keys(core.AccountMirror) {
		if _, ok := live[key]; ok {
			continue
		}
		s.missing[key]++
		if s.missing[key] < zeroReadConfirmations {
			continue
		}
		delete(s.missing, key)
		if s.registry.Remove(key) != nil {
			s.logger.Info("Mirror monitor removed, position gone", "key", key.String())
		}
	}

	return nil
}

// adopt builds a monitor for an untracked mirror position, seeding the TP
// ladder and SL record from whatever reduce-only orders are already on the
// book. Mirror monitors carry no alert target: their events are tracked
// but muted from outbound notification.
func (s *MirrorSync) adopt(ctx context.Context, key core.MonitorKey, pos core.Position) {
	m := &core.PositionMonitor{
		Symbol:        key.Symbol,
		Side:          key.Side,
		Account:       core.AccountMirror,
		InitialSize:   pos.Size,
		RemainingSize: pos.Size,
		EntryPrice:    pos.EntryPrice,
		Approach:      core.Approach(s.cfg.Policy.DefaultApproach),
		TPOrders:      make(map[string]core.TPOrder),
		FilledLevels:  make(map[int]bool),
		Phase:         core.PhaseMonitoring,
		LastCheckedAt: time.Now().UTC(),
	}

	orders, err := s.exchange.GetOpenOrders(ctx, core.AccountMirror, key.Symbol)
	if err != nil {
		// Adopt with an empty ladder; the next reconciliation pass will
		// pick up the live orders.
		s.logger.Warn("Order listing failed during adoption", "key", key.String(), "error", err)
	} else {
		seedProtectiveOrders(m, orders)
	}

	if !s.registry.Put(m) {
		return
	}
	s.logger.Info("Adopted untracked mirror position",
		"key", key.String(),
		"size", pos.Size.String(),
		"entry_price", pos.EntryPrice.String(),
		"tp_levels", len(m.TPOrders))
}

// seedProtectiveOrders maps live reduce-only orders onto the monitor: limit
// orders become ladder levels ordered by profit distance, the first stop
// order becomes the SL record.
func seedProtectiveOrders(m *core.PositionMonitor, orders []core.Order) {
	var tps []core.Order
	for _, o := range orders {
		if !o.ReduceOnly || o.Side != m.Side {
			continue
		}
		switch o.Type {
		case core.OrderTypeLimit:
			tps = append(tps, o)
		case core.OrderTypeStopMarket:
			if m.SLOrder == nil {
				m.SLOrder = &core.SLOrder{
					OrderID:      o.OrderID,
					TriggerPrice: o.TriggerPrice,
					Qty:          o.Qty,
				}
			}
		}
	}

	// Closest profit target first: ascending price for longs, descending
	// for shorts.
	for i := 1; i < len(tps); i++ {
		for j := i; j > 0 && closerTarget(m.Side, tps[j].Price, tps[j-1].Price); j-- {
			tps[j], tps[j-1] = tps[j-1], tps[j]
		}
	}

	for i, o := range tps {
		m.TPOrders[o.OrderID] = core.TPOrder{
			OrderID:     o.OrderID,
			Level:       i + 1,
			TargetQty:   o.Qty,
			TargetPrice: o.Price,
		}
	}
}

func closerTarget(side core.Side, a, b decimal.Decimal) bool {
	if side == core.SideLong {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}
