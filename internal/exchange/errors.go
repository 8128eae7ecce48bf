package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	apperrors "position_guard/pkg/errors"
	"position_guard/pkg/httpclient"

	"position_guard/internal/core"
)

// parseAPIError maps an exchange error response body to a standard error.
func parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		if statusCode >= 500 {
			return fmt.Errorf("%w: status %d", apperrors.ErrNetwork, statusCode)
		}
		return fmt.Errorf("exchange error (unmarshal failed): %s", string(body))
	}

	switch errResp.Code {
	case -2011:
		return apperrors.ErrOrderAlreadyCancelled
	case -2013:
		return apperrors.ErrOrderNotFound
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -2010:
		return apperrors.ErrInsufficientFunds
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -1121:
		return apperrors.ErrInvalidSymbol
	case -1102, -1111:
		return apperrors.ErrInvalidOrderParameter
	}

	if statusCode == 429 {
		return apperrors.ErrRateLimitExceeded
	}
	if statusCode >= 500 {
		return fmt.Errorf("%w: status %d code %d: %s", apperrors.ErrNetwork, statusCode, errResp.Code, errResp.Msg)
	}

	return fmt.Errorf("exchange error %d: %s", errResp.Code, errResp.Msg)
}

// normalizeError converts transport-level failures into the standard
// taxonomy so callers only branch on sentinel errors.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		return parseAPIError(apiErr.StatusCode, apiErr.Body)
	}

	// Anything that never produced an HTTP status is a network problem.
	return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
}

// classifyCancel folds a cancel error into the closed CancelResult set.
func classifyCancel(err error) core.CancelResult {
	if err == nil {
		return core.CancelOK
	}
	if apperrors.IsAlreadyDone(err) {
		return core.CancelGone
	}
	if apperrors.IsTransient(err) {
		return core.CancelTransient
	}
	return core.CancelFatal
}
