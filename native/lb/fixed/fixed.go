// Package fixed implements the checked 128.128 fixed-point arithmetic used by
// the Liquidity Book engine. Every helper allocates its result; arguments and
// the package constants are never mutated.
package fixed

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/lberr"
)

const (
	// ScaleOffset is the number of fractional bits in a 128.128 value.
	ScaleOffset = 128
	// BasisPointMax is the denominator of every basis-point ratio.
	BasisPointMax = 10_000
)

var (
	// Scale is 1.0 in 128.128 fixed point.
	Scale = new(uint256.Int).Lsh(uint256.NewInt(1), ScaleOffset)
	// Precision is 1.0 for fee and distribution fractions.
	Precision = uint256.NewInt(1_000_000_000_000_000_000)
	// SquaredPrecision is Precision squared.
	SquaredPrecision = new(uint256.Int).Mul(Precision, Precision)
	// MaxU128 is the largest amount a reserve or request may carry.
	MaxU128 = new(uint256.Int).Sub(Scale, uint256.NewInt(1))
	// Max is 2^256-1.
	Max = new(uint256.Int).SetAllOne()

	basisPoints = uint256.NewInt(BasisPointMax)
	one         = uint256.NewInt(1)
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Clone returns a copy of v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// MulDivRoundDown returns floor(x*y/d) computed with a 512-bit intermediate.
func MulDivRoundDown(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero in %s*%s/0", lberr.ErrValidation, x.Dec(), y.Dec())
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s/%s exceeds 256 bits", lberr.ErrArithmeticOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// MulDivRoundUp returns ceil(x*y/d).
func MulDivRoundUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDivRoundDown(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		return Add(z, one)
	}
	return z, nil
}

// MulShiftRoundDown returns floor(x*y / 2^offset).
func MulShiftRoundDown(x, y *uint256.Int, offset uint) (*uint256.Int, error) {
	d, err := pow2(offset)
	if err != nil {
		return nil, err
	}
	return MulDivRoundDown(x, y, d)
}

// MulShiftRoundUp returns ceil(x*y / 2^offset).
func MulShiftRoundUp(x, y *uint256.Int, offset uint) (*uint256.Int, error) {
	d, err := pow2(offset)
	if err != nil {
		return nil, err
	}
	return MulDivRoundUp(x, y, d)
}

// ShiftDivRoundDown returns floor(x * 2^offset / y).
func ShiftDivRoundDown(x *uint256.Int, offset uint, y *uint256.Int) (*uint256.Int, error) {
	n, err := pow2(offset)
	if err != nil {
		return nil, err
	}
	return MulDivRoundDown(x, n, y)
}

// ShiftDivRoundUp returns ceil(x * 2^offset / y).
func ShiftDivRoundUp(x *uint256.Int, offset uint, y *uint256.Int) (*uint256.Int, error) {
	n, err := pow2(offset)
	if err != nil {
		return nil, err
	}
	return MulDivRoundUp(x, n, y)
}

// MulBasisPointsRoundDown returns floor(x * bp / 10_000).
func MulBasisPointsRoundDown(x *uint256.Int, bp uint64) (*uint256.Int, error) {
	return MulDivRoundDown(x, uint256.NewInt(bp), basisPoints)
}

// Add returns x+y or an overflow error.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s+%s exceeds 256 bits", lberr.ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Sub returns x-y or an underflow error.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("%w: %s-%s is negative", lberr.ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Mul returns x*y or an overflow error.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s exceeds 256 bits", lberr.ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Min returns a copy of the smaller operand.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}

func pow2(offset uint) (*uint256.Int, error) {
	if offset > 255 {
		return nil, fmt.Errorf("%w: shift offset %d above 255", lberr.ErrArithmeticOverflow, offset)
	}
	return new(uint256.Int).Lsh(one, offset), nil
}
