package core

import (
	"context"
)

// IExchangeClient is the adapter boundary to the exchange REST API. All
// methods are safe to retry; cancel of an already-gone order returns
// CancelGone rather than an error.
type IExchangeClient interface {
	// GetOpenPosition returns the live position for (account, symbol, side),
	// or nil when the exchange reports none.
	GetOpenPosition(ctx context.Context, account Account, symbol string, side Side) (*Position, error)

	// ListOpenPositions returns all non-zero positions on the account.
	ListOpenPositions(ctx context.Context, account Account) ([]Position, error)

	// GetOpenOrders returns all open orders for the symbol on the account.
	GetOpenOrders(ctx context.Context, account Account, symbol string) ([]Order, error)

	// PlaceOrder places a new order and returns the exchange's view of it.
	PlaceOrder(ctx context.Context, account Account, req *PlaceOrderRequest) (*Order, error)

	// CancelOrder cancels an order, normalizing already-done responses.
	CancelOrder(ctx context.Context, account Account, symbol string, orderID string) CancelResult

	// CheckHealth verifies connectivity and credentials for the account.
	CheckHealth(ctx context.Context, account Account) error
}

// ISnapshotStore persists the monitor registry as an opaque snapshot.
// Semantics are last-full-write-wins; readers must tolerate stale data.
type ISnapshotStore interface {
	Load(ctx context.Context) (*RegistrySnapshot, error)
	Save(ctx context.Context, snap *RegistrySnapshot) error
}

// IAlertSink delivers outbound notifications. Fire-and-forget: failures are
// logged and never block reconciliation.
type IAlertSink interface {
	Notify(ctx context.Context, event AlertEvent)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
