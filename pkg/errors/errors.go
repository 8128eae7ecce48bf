package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderAlreadyFilled    = errors.New("order already filled")
	ErrOrderAlreadyCancelled = errors.New("order already cancelled")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrMalformedPayload      = errors.New("malformed exchange payload")
)

// IsAlreadyDone reports whether err is one of the semantic "already done"
// responses that cancel operations treat as success.
func IsAlreadyDone(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderAlreadyFilled) ||
		errors.Is(err, ErrOrderAlreadyCancelled)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrExchangeMaintenance)
}
