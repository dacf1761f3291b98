package fixed

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/lberr"
)

// maxPowExponent bounds |y| in Pow; the ladder covers 20 bits.
const maxPowExponent = 0x100000

// Pow returns x^y where x is a 128.128 value and y a signed integer
// exponent. Bases above 1.0 are inverted before squaring so every
// intermediate stays below 2^128 and the product of two fits in 256 bits.
func Pow(x *uint256.Int, y int64) (*uint256.Int, error) {
	if y == 0 {
		return new(uint256.Int).Set(Scale), nil
	}
	invert := false
	absY := y
	if absY < 0 {
		absY = -absY
		invert = !invert
	}
	if absY >= maxPowExponent {
		return nil, fmt.Errorf("%w: exponent %d outside (-%d, %d)", lberr.ErrArithmeticOverflow, y, maxPowExponent, maxPowExponent)
	}
	if x.IsZero() {
		return nil, fmt.Errorf("%w: zero base", lberr.ErrValidation)
	}

	squared := new(uint256.Int).Set(x)
	if squared.Gt(MaxU128) {
		squared.Div(Max, squared)
		invert = !invert
	}

	result := new(uint256.Int).Set(Scale)
	for bit := uint(0); bit < 20; bit++ {
		if absY&(1<<bit) != 0 {
			result.Mul(result, squared)
			result.Rsh(result, ScaleOffset)
		}
		if absY>>(bit+1) == 0 {
			break
		}
		squared.Mul(squared, squared)
		squared.Rsh(squared, ScaleOffset)
	}

	if result.IsZero() {
		return nil, fmt.Errorf("%w: %s^%d underflows 128.128", lberr.ErrArithmeticOverflow, x.Dec(), y)
	}
	if invert {
		result.Div(Max, result)
	}
	return result, nil
}
