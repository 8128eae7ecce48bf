// Package core defines the core domain types and interfaces for the
// position protection system.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Account identifies which brokerage account a monitor belongs to.
type Account string

const (
	AccountPrimary Account = "primary"
	AccountMirror  Account = "mirror"
)

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Phase is the protection lifecycle stage of a position.
type Phase string

const (
	PhaseMonitoring   Phase = "monitoring"
	PhaseProfitTaking Phase = "profit_taking"
	PhaseClosed       Phase = "closed"
)

// Approach governs whether a position carries a single take-profit order
// or a multi-level ladder.
type Approach string

const (
	ApproachSingleTarget Approach = "single_target"
	ApproachLaddered     Approach = "laddered"
)

// MonitorKey uniquely identifies a PositionMonitor.
type MonitorKey struct {
	Symbol  string  `json:"symbol"`
	Side    Side    `json:"side"`
	Account Account `json:"account"`
}

func (k MonitorKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Symbol, k.Side, k.Account)
}

// TPOrder is one level of the take-profit ladder.
type TPOrder struct {
	OrderID     string          `json:"order_id"`
	Level       int             `json:"level"`
	TargetQty   decimal.Decimal `json:"target_qty"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Filled      bool            `json:"filled"`
}

// SLOrder is the single protective stop-loss order. At most one is active
// per monitor at any time.
type SLOrder struct {
	OrderID      string          `json:"order_id"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Qty          decimal.Decimal `json:"qty"`
}

// PositionMonitor tracks the protection state of one open position on one
// account. All quantity fields satisfy 0 <= RemainingSize <= InitialSize.
type PositionMonitor struct {
	Mu sync.Mutex `json:"-"`

	Symbol  string  `json:"symbol"`
	Side    Side    `json:"side"`
	Account Account `json:"account"`

	InitialSize   decimal.Decimal `json:"initial_size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`

	Approach Approach           `json:"approach"`
	TPOrders map[string]TPOrder `json:"tp_orders"`
	SLOrder  *SLOrder           `json:"sl_order,omitempty"`

	FilledLevels map[int]bool `json:"filled_levels"`
	Phase        Phase        `json:"phase"`

	LimitEntryOrdersCancelled bool `json:"limit_entry_orders_cancelled"`
	BreakevenApplied          bool `json:"breakeven_applied"`

	// ZeroSizeReads counts consecutive ticks where the exchange reported no
	// position. Closure requires two in a row.
	ZeroSizeReads int `json:"zero_size_reads"`

	// SLFailureCount counts consecutive failed stop-loss placements and
	// drives the unprotected-position escalation.
	SLFailureCount int `json:"sl_failure_count"`

	LastCheckedAt time.Time `json:"last_checked_at"`
	AlertTarget   string    `json:"alert_target,omitempty"`
}

// Key returns the registry key for this monitor.
func (m *PositionMonitor) Key() MonitorKey {
	return MonitorKey{Symbol: m.Symbol, Side: m.Side, Account: m.Account}
}

// LadderLevels returns the TP orders sorted by level number, ascending.
func (m *PositionMonitor) LadderLevels() []TPOrder {
	levels := make([]TPOrder, 0, len(m.TPOrders))
	for _, tp := range m.TPOrders {
		levels = append(levels, tp)
	}
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Level < levels[j-1].Level; j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
	return levels
}

// TotalFilled returns InitialSize - RemainingSize.
func (m *PositionMonitor) TotalFilled() decimal.Decimal {
	return m.InitialSize.Sub(m.RemainingSize)
}

// Position is the strictly-parsed exchange view of an open position.
type Position struct {
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
}

// OrderType distinguishes plain limit orders from trigger (stop) orders.
type OrderType string

const (
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// Order is the strictly-parsed exchange view of an open order.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           decimal.Decimal
	Price         decimal.Decimal
	TriggerPrice  decimal.Decimal
	ReduceOnly    bool
	FilledQty     decimal.Decimal
}

// PlaceOrderRequest describes an order to be placed by the adapter.
type PlaceOrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           decimal.Decimal
	Price         decimal.Decimal
	TriggerPrice  decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// CancelResult is the closed outcome set for cancel operations. The adapter
// normalizes "order not found / already cancelled / already filled" exchange
// responses to CancelGone so the core never branches on raw error strings.
type CancelResult int

const (
	CancelOK CancelResult = iota
	CancelGone
	CancelTransient
	CancelFatal
)

func (r CancelResult) String() string {
	switch r {
	case CancelOK:
		return "ok"
	case CancelGone:
		return "gone"
	case CancelTransient:
		return "transient"
	case CancelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Settled reports whether the order is confirmed gone from the book, either
// cancelled by us or already terminal on the exchange.
func (r CancelResult) Settled() bool {
	return r == CancelOK || r == CancelGone
}

// FillDelta describes how much size disappeared from a position since the
// last tick and which ladder levels that delta completes.
type FillDelta struct {
	FilledAmount    decimal.Decimal
	NewFilledLevels []int
	FlatClose       bool
	ZeroReported    bool
}

// RegistrySnapshot is the persisted form of the monitor registry.
type RegistrySnapshot struct {
	SavedAt  time.Time          `json:"saved_at"`
	Monitors []*PositionMonitor `json:"monitors"`
}

// AlertEvent is an outbound notification about a monitor state change.
type AlertEvent struct {
	Type      string
	Key       MonitorKey
	Target    string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}

// Alert event types.
const (
	EventFillDetected        = "fill_detected"
	EventPhaseChange         = "phase_change"
	EventBreakevenApplied    = "breakeven_applied"
	EventLimitsCancelled     = "limits_cancelled"
	EventPositionClosed      = "position_closed"
	EventUnprotectedPosition = "unprotected_position"
)
