package fixed

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/lberr"
)

// ParseAmount decodes a decimal-string amount and checks it fits in 128 bits.
// The empty string decodes to zero.
func ParseAmount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not an unsigned decimal: %v", lberr.ErrValidation, field, value, err)
	}
	if err := CheckU128(field, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseShares parses a liquidity share amount. Shares are minted in
// liquidity units (price·x + y·2^128) and may use the full 256 bits, so only
// positivity is enforced.
func ParseShares(field, value string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not an unsigned decimal: %v", lberr.ErrValidation, field, value, err)
	}
	if err := CheckShares(field, v); err != nil {
		return nil, err
	}
	return v, nil
}

// CheckShares rejects missing or zero share amounts.
func CheckShares(field string, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return fmt.Errorf("%w: %s must be positive", lberr.ErrValidation, field)
	}
	return nil
}

// CheckU128 rejects amounts that do not fit in 128 bits.
func CheckU128(field string, v *uint256.Int) error {
	if v == nil {
		return nil
	}
	if v.Gt(MaxU128) {
		return fmt.Errorf("%w: %s %s exceeds 2^128-1", lberr.ErrValidation, field, v.Dec())
	}
	return nil
}

// String renders v as a decimal string, treating nil as zero.
func String(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
