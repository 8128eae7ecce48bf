// Package mock provides in-memory test doubles for the exchange client and
// logger interfaces.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"position_guard/internal/core"
)

type accountState struct {
	positions map[string]*core.Position // keyed by symbol+side
	orders    map[string]*core.Order    // keyed by order id
}

// MockExchange implements core.IExchangeClient in memory with failure
// injection hooks.
type MockExchange struct {
	mu             sync.Mutex
	accounts       map[core.Account]*accountState
	orderIDCounter int64

	// Failure injection. Errors are returned once set until cleared.
	PositionErr   error
	ListErr       error
	OrdersErr     error
	PlaceErr      error
	CancelResult  *core.CancelResult // overrides normal cancel behavior
	PlaceCalls    int
	CancelCalls   int
	PositionCalls int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		accounts:       make(map[core.Account]*accountState),
		orderIDCounter: 1000,
	}
}

func posKey(symbol string, side core.Side) string {
	return symbol + "/" + string(side)
}

func (m *MockExchange) state(account core.Account) *accountState {
	s, ok := m.accounts[account]
	if !ok {
		s = &accountState{
			positions: make(map[string]*core.Position),
			orders:    make(map[string]*core.Order),
		}
		m.accounts[account] = s
	}
	return s
}

// SetPosition sets (or clears, with zero size) a live position.
func (m *MockExchange) SetPosition(account core.Account, symbol string, side core.Side, size, entryPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(account)
	if size.IsZero() {
		delete(s.positions, posKey(symbol, side))
		return
	}
	s.positions[posKey(symbol, side)] = &core.Position{
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
	}
}

// AddOrder seeds an open order and returns its id.
func (m *MockExchange) AddOrder(account core.Account, order core.Order) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.OrderID == "" {
		m.orderIDCounter++
		order.OrderID = strconv.FormatInt(m.orderIDCounter, 10)
	}
	m.state(account).orders[order.OrderID] = &order
	return order.OrderID
}

// OpenOrders returns a copy of the current open orders for inspection.
func (m *MockExchange) OpenOrders(account core.Account) []core.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(account)
	orders := make([]core.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, *o)
	}
	return orders
}

func (m *MockExchange) GetOpenPosition(ctx context.Context, account core.Account, symbol string, side core.Side) (*core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PositionCalls++
	if m.PositionErr != nil {
		return nil, m.PositionErr
	}

	pos, ok := m.state(account).positions[posKey(symbol, side)]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (m *MockExchange) ListOpenPositions(ctx context.Context, account core.Account) ([]core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	s := m.state(account)
	positions := make([]core.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		positions = append(positions, *pos)
	}
	return positions, nil
}

func (m *MockExchange) GetOpenOrders(ctx context.Context, account core.Account, symbol string) ([]core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OrdersErr != nil {
		return nil, m.OrdersErr
	}

	s := m.state(account)
	var orders []core.Order
	for _, o := range s.orders {
		if o.Symbol == symbol {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, account core.Account, req *core.PlaceOrderRequest) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PlaceCalls++
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}

	m.orderIDCounter++
	order := &core.Order{
		OrderID:       strconv.FormatInt(m.orderIDCounter, 10),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		ReduceOnly:    req.ReduceOnly,
	}
	m.state(account).orders[order.OrderID] = order
	return order, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, account core.Account, symbol string, orderID string) core.CancelResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CancelCalls++
	if m.CancelResult != nil {
		return *m.CancelResult
	}

	s := m.state(account)
	if _, ok := s.orders[orderID]; !ok {
		return core.CancelGone
	}
	delete(s.orders, orderID)
	return core.CancelOK
}

func (m *MockExchange) CheckHealth(ctx context.Context, account core.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account]; !ok && account != core.AccountPrimary && account != core.AccountMirror {
		return fmt.Errorf("unknown account: %s", account)
	}
	return nil
}
