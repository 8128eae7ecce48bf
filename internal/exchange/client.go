package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"position_guard/internal/config"
	"position_guard/internal/core"
	apperrors "position_guard/pkg/errors"
	"position_guard/pkg/httpclient"
	"position_guard/pkg/retry"
	"position_guard/pkg/telemetry"
)

const defaultBaseURL = "https://fapi.binance.com"

// accountSession bundles the signed HTTP client and request limiter for
// one account. The limiter bounds in-flight requests so the two accounts'
// quotas never interfere.
type accountSession struct {
	http    *httpclient.Client
	limiter *rate.Limiter
}

// Client implements core.IExchangeClient over the exchange's REST API for
// both accounts. All calls are bounded by a timeout and retried with
// backoff on transient failures.
type Client struct {
	sessions map[core.Account]*accountSession
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder

	retryPolicy retry.RetryPolicy
	callTimeout time.Duration
}

// NewClient creates an exchange client from account configuration.
func NewClient(accounts map[string]config.AccountConfig, policy config.PolicyConfig, logger core.ILogger) (*Client, error) {
	sessions := make(map[core.Account]*accountSession, len(accounts))

	for name, acct := range accounts {
		baseURL := acct.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}

		signer := NewHMACSigner(acct.APIKey, acct.SecretKey)
		timeout := time.Duration(policy.ExchangeCallTimeoutSeconds) * time.Second

		sessions[core.Account(name)] = &accountSession{
			http:    httpclient.NewClient(baseURL, timeout, signer),
			limiter: rate.NewLimiter(rate.Limit(policy.RequestsPerSecondPerAcct), int(policy.RequestsPerSecondPerAcct)),
		}
	}

	if _, ok := sessions[core.AccountPrimary]; !ok {
		return nil, fmt.Errorf("primary account not configured")
	}
	if _, ok := sessions[core.AccountMirror]; !ok {
		return nil, fmt.Errorf("mirror account not configured")
	}

	return &Client{
		sessions:    sessions,
		logger:      logger.WithField("component", "exchange_client"),
		metrics:     telemetry.GetGlobalMetrics(),
		retryPolicy: retry.DefaultPolicy,
		callTimeout: time.Duration(policy.ExchangeCallTimeoutSeconds) * time.Second,
	}, nil
}

func (c *Client) session(account core.Account) (*accountSession, error) {
	s, ok := c.sessions[account]
	if !ok {
		return nil, fmt.Errorf("unknown account: %s", account)
	}
	return s, nil
}

// call runs one rate-limited request with retry on transient errors.
// Latency is recorded per attempt, excluding limiter wait and backoff.
func (c *Client) call(ctx context.Context, account core.Account, endpoint string, fn func(ctx context.Context, s *accountSession) error) error {
	s, err := c.session(account)
	if err != nil {
		return err
	}

	return retry.Do(ctx, c.retryPolicy, apperrors.IsTransient, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		start := time.Now()
		err := fn(callCtx, s)
		c.metrics.RecordExchangeLatency(ctx, string(account), endpoint, float64(time.Since(start).Microseconds())/1000.0)
		return err
	})
}

// GetOpenPosition returns the live position for (account, symbol, side), or
// nil when the exchange reports none (or zero size).
func (c *Client) GetOpenPosition(ctx context.Context, account core.Account, symbol string, side core.Side) (*core.Position, error) {
	var result *core.Position

	err := c.call(ctx, account, "position_risk", func(ctx context.Context, s *accountSession) error {
		body, err := s.http.Get(ctx, "/fapi/v2/positionRisk", map[string]string{"symbol": symbol})
		if err != nil {
			return normalizeError(err)
		}

		var raws []rawPosition
		if err := json.Unmarshal(body, &raws); err != nil {
			return fmt.Errorf("%w: positionRisk: %v", apperrors.ErrMalformedPayload, err)
		}

		result = nil
		for _, raw := range raws {
			pos, err := raw.toPosition()
			if err != nil {
				c.logger.Warn("Dropping malformed position record", "account", account, "error", err)
				continue
			}
			if pos.Symbol == symbol && pos.Side == side && pos.Size.IsPositive() {
				result = pos
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListOpenPositions returns all non-zero positions on the account.
func (c *Client) ListOpenPositions(ctx context.Context, account core.Account) ([]core.Position, error) {
	var positions []core.Position

	err := c.call(ctx, account, "position_risk", func(ctx context.Context, s *accountSession) error {
		body, err := s.http.Get(ctx, "/fapi/v2/positionRisk", nil)
		if err != nil {
			return normalizeError(err)
		}

		var raws []rawPosition
		if err := json.Unmarshal(body, &raws); err != nil {
			return fmt.Errorf("%w: positionRisk: %v", apperrors.ErrMalformedPayload, err)
		}

		positions = positions[:0]
		for _, raw := range raws {
			pos, err := raw.toPosition()
			if err != nil {
				c.logger.Warn("Dropping malformed position record", "account", account, "error", err)
				continue
			}
			if pos.Size.IsPositive() {
				positions = append(positions, *pos)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOpenOrders returns all open orders for the symbol on the account.
func (c *Client) GetOpenOrders(ctx context.Context, account core.Account, symbol string) ([]core.Order, error) {
	var orders []core.Order

	err := c.call(ctx, account, "open_orders", func(ctx context.Context, s *accountSession) error {
		body, err := s.http.Get(ctx, "/fapi/v1/openOrders", map[string]string{"symbol": symbol})
		if err != nil {
			return normalizeError(err)
		}

		var raws []rawOrder
		if err := json.Unmarshal(body, &raws); err != nil {
			return fmt.Errorf("%w: openOrders: %v", apperrors.ErrMalformedPayload, err)
		}

		orders = orders[:0]
		for _, raw := range raws {
			order, err := raw.toOrder()
			if err != nil {
				c.logger.Warn("Dropping malformed order record", "account", account, "error", err)
				continue
			}
			orders = append(orders, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// PlaceOrder places a new order and returns the exchange's view of it.
func (c *Client) PlaceOrder(ctx context.Context, account core.Account, req *core.PlaceOrderRequest) (*core.Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", orderSideParam(req.Side, req.ReduceOnly))
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	switch req.Type {
	case core.OrderTypeStopMarket:
		params.Set("type", "STOP_MARKET")
		params.Set("stopPrice", req.TriggerPrice.String())
		params.Set("quantity", req.Qty.String())
	default:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
		params.Set("quantity", req.Qty.String())
	}

	var placed *core.Order
	err := c.call(ctx, account, "place_order", func(ctx context.Context, s *accountSession) error {
		body, err := s.http.Post(ctx, "/fapi/v1/order?"+params.Encode(), nil)
		if err != nil {
			return normalizeError(err)
		}

		var raw rawOrder
		if err := json.Unmarshal(body, &raw); err != nil {
			return fmt.Errorf("%w: place order: %v", apperrors.ErrMalformedPayload, err)
		}

		order, err := raw.toOrder()
		if err != nil {
			return err
		}
		placed = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// CancelOrder cancels an order. Already-gone responses are normalized to
// CancelGone so callers treat them as success.
func (c *Client) CancelOrder(ctx context.Context, account core.Account, symbol string, orderID string) core.CancelResult {
	err := c.call(ctx, account, "cancel_order", func(ctx context.Context, s *accountSession) error {
		_, err := s.http.Delete(ctx, "/fapi/v1/order", map[string]string{
			"symbol":  symbol,
			"orderId": orderID,
		})
		if err != nil {
			return normalizeError(err)
		}
		return nil
	})

	result := classifyCancel(err)
	if result == core.CancelFatal {
		c.logger.Error("Cancel failed", "account", account, "symbol", symbol, "order_id", orderID, "error", err)
	}
	return result
}

// CheckHealth verifies connectivity and credentials for the account.
func (c *Client) CheckHealth(ctx context.Context, account core.Account) error {
	return c.call(ctx, account, "balance", func(ctx context.Context, s *accountSession) error {
		_, err := s.http.Get(ctx, "/fapi/v2/balance", nil)
		return normalizeError(err)
	})
}
