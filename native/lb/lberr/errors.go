// Package lberr defines the error kinds shared by every Liquidity Book
// component. Callers wrap a kind with the violated bound so the message
// names the offending id, amount or parameter, and match with errors.Is.
package lberr

import "errors"

var (
	// ErrValidation marks a malformed request: mismatched lengths, ids out of
	// range, zero denominators, unknown bins.
	ErrValidation = errors.New("lb: validation failed")
	// ErrSlippageExceeded marks an active id or output outside caller bounds.
	ErrSlippageExceeded = errors.New("lb: slippage exceeded")
	// ErrDeadlineExpired marks a request submitted after its deadline.
	ErrDeadlineExpired = errors.New("lb: deadline expired")
	// ErrArithmeticOverflow marks a fixed-point result outside the
	// representable range.
	ErrArithmeticOverflow = errors.New("lb: arithmetic overflow")
	// ErrInsufficientLiquidity marks a swap that no bin in range can fill.
	ErrInsufficientLiquidity = errors.New("lb: insufficient liquidity")
)

// Kind returns the taxonomy label for err, or "internal" when err does not
// wrap any known kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrDeadlineExpired):
		return "deadline_expired"
	case errors.Is(err, ErrArithmeticOverflow):
		return "arithmetic_overflow"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	default:
		return "internal"
	}
}
