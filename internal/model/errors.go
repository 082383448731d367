package model

import (
	"errors"
	"fmt"
	"time"
)

// Broker errors. Adapters translate venue responses into these before
// returning to callers.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrOrderRejected        = errors.New("order rejected")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrConnectionLost       = errors.New("connection lost")
	ErrSymbolNotFound       = errors.New("symbol not found")
	ErrDataUnavailable      = errors.New("data unavailable")
)

// Engine errors raised by the simulated broker and backtest loop.
var (
	ErrNoPriceData            = errors.New("no price data")
	ErrPositionShort          = errors.New("position short")
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	ErrOrderNotFound          = errors.New("order not found")
)

// Bus errors.
var (
	ErrPublishTimeout = errors.New("bus publish timeout")
	ErrSubscribeLost  = errors.New("bus subscription lost")
)

// Storage errors.
var (
	ErrRowNotFound         = errors.New("row not found")
	ErrUniquenessViolation = errors.New("uniqueness violation")
	ErrTransactionConflict = errors.New("transaction conflict")
)

// RateLimitedError wraps ErrRateLimited-class failures with the venue's
// retry-after hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// IsRateLimited reports whether err is a rate-limit rejection and returns
// the retry-after hint when available.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
