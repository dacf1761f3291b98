// Package pricing maps bin identifiers to 128.128 prices and back.
//
// The price of bin id is (1 + binStep/10_000)^(id - 2^23). The inverse returns
// the bin whose price is closest to the input without exceeding it, so
// IDFromPrice(PriceFromID(id)) == id for every representable id.
package pricing

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

const (
	// RealIDShift is the id of the bin priced at exactly 1.0.
	RealIDShift = 1 << 23
	// MaxID is the largest valid bin id.
	MaxID = 1<<24 - 1
	// MaxBinStep bounds the basis-point step between adjacent bins.
	MaxBinStep = 10_000

	decimalPlaces = 18
)

var (
	// MinPrice and MaxPrice bound the ladder to 2^-64 .. 2^64 so adjacent
	// bins always resolve to distinct prices.
	MinPrice = new(uint256.Int).Lsh(uint256.NewInt(1), 64)
	MaxPrice = new(uint256.Int).Lsh(uint256.NewInt(1), 192)
)

// ValidateID rejects ids outside the 24-bit range.
func ValidateID(id int64) error {
	if id < 0 || id > MaxID {
		return fmt.Errorf("%w: bin id %d outside [0, %d]", lberr.ErrValidation, id, MaxID)
	}
	return nil
}

// ValidateBinStep rejects a zero or oversized bin step.
func ValidateBinStep(binStep uint16) error {
	if binStep == 0 || binStep > MaxBinStep {
		return fmt.Errorf("%w: bin step %d outside [1, %d]", lberr.ErrValidation, binStep, MaxBinStep)
	}
	return nil
}

// Base returns 1 + binStep/10_000 in 128.128.
func Base(binStep uint16) *uint256.Int {
	step := new(uint256.Int).Lsh(uint256.NewInt(uint64(binStep)), fixed.ScaleOffset)
	step.Div(step, uint256.NewInt(fixed.BasisPointMax))
	return step.Add(step, fixed.Scale)
}

// PriceFromID returns the 128.128 price of bin id.
func PriceFromID(id uint32, binStep uint16) (*uint256.Int, error) {
	if err := ValidateID(int64(id)); err != nil {
		return nil, err
	}
	if err := ValidateBinStep(binStep); err != nil {
		return nil, err
	}
	price, side := ladderPrice(id, binStep)
	if side != 0 {
		return nil, fmt.Errorf("%w: price of bin %d at step %d outside the representable range", lberr.ErrValidation, id, binStep)
	}
	return price, nil
}

// IDFromPrice returns the largest id whose price does not exceed price.
func IDFromPrice(price *uint256.Int, binStep uint16) (uint32, error) {
	if err := ValidateBinStep(binStep); err != nil {
		return 0, err
	}
	if price == nil || price.IsZero() {
		return 0, fmt.Errorf("%w: price must be positive", lberr.ErrValidation)
	}
	if price.Lt(MinPrice) {
		return 0, fmt.Errorf("%w: price %s below minimum %s", lberr.ErrValidation, price.Hex(), MinPrice.Hex())
	}
	if price.Gt(MaxPrice) {
		return 0, fmt.Errorf("%w: price %s above maximum %s", lberr.ErrValidation, price.Hex(), MaxPrice.Hex())
	}

	// lo always prices at or below the target (or sits under the ladder);
	// everything above hi prices over it.
	lo, hi := int64(-1), int64(MaxID)
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		p, side := ladderPrice(uint32(mid), binStep)
		if side < 0 || (side == 0 && !p.Gt(price)) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo < 0 {
		return 0, fmt.Errorf("%w: price %s below the lowest bin at step %d", lberr.ErrValidation, price.Hex(), binStep)
	}
	if _, side := ladderPrice(uint32(lo), binStep); side != 0 {
		return 0, fmt.Errorf("%w: price %s below the lowest representable bin at step %d", lberr.ErrValidation, price.Hex(), binStep)
	}
	return uint32(lo), nil
}

// ladderPrice computes the price of id and reports -1 when it falls under
// MinPrice, +1 when it exceeds MaxPrice and 0 otherwise.
func ladderPrice(id uint32, binStep uint16) (*uint256.Int, int) {
	exponent := int64(id) - RealIDShift
	p, err := fixed.Pow(Base(binStep), exponent)
	switch {
	case err != nil && exponent < 0:
		return nil, -1
	case err != nil:
		return nil, 1
	case p.Lt(MinPrice):
		return nil, -1
	case p.Gt(MaxPrice):
		return nil, 1
	}
	return p, 0
}

// ToDecimal converts a 128.128 price to an integer scaled by 10^18.
func ToDecimal(price *uint256.Int) (*uint256.Int, error) {
	return fixed.MulShiftRoundDown(price, fixed.Precision, fixed.ScaleOffset)
}

// FromDecimal converts a 10^18-scaled price to 128.128.
func FromDecimal(scaled *uint256.Int) (*uint256.Int, error) {
	return fixed.ShiftDivRoundDown(scaled, fixed.ScaleOffset, fixed.Precision)
}

// Render returns price as a decimal with 18 fractional digits.
func Render(price *uint256.Int) (decimal.Decimal, error) {
	scaled, err := ToDecimal(price)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(scaled.ToBig(), -decimalPlaces), nil
}

// Parse converts a human decimal price such as "1.01" to 128.128.
func Parse(value string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: price %q: %v", lberr.ErrValidation, value, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: price %q must be positive", lberr.ErrValidation, value)
	}
	scaled := d.Shift(decimalPlaces).Truncate(0).BigInt()
	v, overflow := uint256.FromBig(scaled)
	if overflow {
		return nil, fmt.Errorf("%w: price %q exceeds 256 bits", lberr.ErrValidation, value)
	}
	return FromDecimal(v)
}
