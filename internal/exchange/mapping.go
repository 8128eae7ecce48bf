package exchange

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"position_guard/internal/core"
	apperrors "position_guard/pkg/errors"
)

// Raw wire payloads. Quantities arrive as strings and are parsed into
// decimals at this boundary; malformed records are rejected, never passed
// through as untyped data.

type rawPosition struct {
	Symbol       string `json:"symbol"`
	PositionAmt  string `json:"positionAmt"`
	EntryPrice   string `json:"entryPrice"`
	MarkPrice    string `json:"markPrice"`
	PositionSide string `json:"positionSide"`
}

type rawOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: field %s value %q", apperrors.ErrMalformedPayload, field, value)
	}
	return d, nil
}

func (r rawPosition) toPosition() (*core.Position, error) {
	if r.Symbol == "" {
		return nil, fmt.Errorf("%w: position missing symbol", apperrors.ErrMalformedPayload)
	}

	amt, err := parseDecimal("positionAmt", r.PositionAmt)
	if err != nil {
		return nil, err
	}
	entry, err := parseDecimal("entryPrice", r.EntryPrice)
	if err != nil {
		return nil, err
	}
	mark, err := parseDecimal("markPrice", r.MarkPrice)
	if err != nil {
		return nil, err
	}

	var side core.Side
	switch strings.ToUpper(r.PositionSide) {
	case "LONG":
		side = core.SideLong
	case "SHORT":
		side = core.SideShort
	case "BOTH":
		// One-way mode: sign of the amount carries the direction.
		if amt.IsNegative() {
			side = core.SideShort
		} else {
			side = core.SideLong
		}
	default:
		return nil, fmt.Errorf("%w: unknown position side %q", apperrors.ErrMalformedPayload, r.PositionSide)
	}

	return &core.Position{
		Symbol:     r.Symbol,
		Side:       side,
		Size:       amt.Abs(),
		EntryPrice: entry,
		MarkPrice:  mark,
	}, nil
}

func (r rawOrder) toOrder() (core.Order, error) {
	if r.OrderID == 0 || r.Symbol == "" {
		return core.Order{}, fmt.Errorf("%w: order missing id or symbol", apperrors.ErrMalformedPayload)
	}

	qty, err := parseDecimal("origQty", r.OrigQty)
	if err != nil {
		return core.Order{}, err
	}
	price, err := parseDecimal("price", r.Price)
	if err != nil {
		return core.Order{}, err
	}
	stopPrice, err := parseDecimal("stopPrice", r.StopPrice)
	if err != nil {
		return core.Order{}, err
	}
	executed, err := parseDecimal("executedQty", r.ExecutedQty)
	if err != nil {
		return core.Order{}, err
	}

	var side core.Side
	switch strings.ToUpper(r.Side) {
	case "BUY":
		side = core.SideLong
	case "SELL":
		side = core.SideShort
	default:
		return core.Order{}, fmt.Errorf("%w: unknown order side %q", apperrors.ErrMalformedPayload, r.Side)
	}
	// Order.Side carries the position side the order belongs to, not the
	// trade direction. A reduce-only order closes against the opposite
	// direction, so flip it back (inverse of orderSideParam).
	if r.ReduceOnly {
		if side == core.SideLong {
			side = core.SideShort
		} else {
			side = core.SideLong
		}
	}

	orderType := core.OrderTypeLimit
	if strings.HasPrefix(strings.ToUpper(r.Type), "STOP") {
		orderType = core.OrderTypeStopMarket
	}

	return core.Order{
		OrderID:       fmt.Sprintf("%d", r.OrderID),
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          side,
		Type:          orderType,
		Qty:           qty,
		Price:         price,
		TriggerPrice:  stopPrice,
		ReduceOnly:    r.ReduceOnly,
		FilledQty:     executed,
	}, nil
}

// orderSideParam maps the position side a protective order closes against
// to the exchange's BUY/SELL parameter. A reduce-only order for a long
// position sells, and vice versa.
func orderSideParam(positionSide core.Side, reduceOnly bool) string {
	if reduceOnly {
		if positionSide == core.SideLong {
			return "SELL"
		}
		return "BUY"
	}
	if positionSide == core.SideLong {
		return "BUY"
	}
	return "SELL"
}
