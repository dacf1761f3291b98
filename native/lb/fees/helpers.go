package fees

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

func verifyFee(fee *uint256.Int) error {
	if fee.Gt(MaxFee) {
		return fmt.Errorf("%w: fee %s exceeds ceiling %s", lberr.ErrValidation, fee.Dec(), MaxFee.Dec())
	}
	return nil
}

// FeeAmountFrom returns the fee contained in an amount that already includes
// it: ceil(amountWithFees * fee / 10^18).
func FeeAmountFrom(amountWithFees, fee *uint256.Int) (*uint256.Int, error) {
	if err := verifyFee(fee); err != nil {
		return nil, err
	}
	return fixed.MulDivRoundUp(amountWithFees, fee, fixed.Precision)
}

// FeeAmount returns the fee to add on top of amount so that
// FeeAmountFrom(amount+fee) == fee: ceil(amount * fee / (10^18 - fee)).
func FeeAmount(amount, fee *uint256.Int) (*uint256.Int, error) {
	if err := verifyFee(fee); err != nil {
		return nil, err
	}
	denominator := new(uint256.Int).Sub(fixed.Precision, fee)
	return fixed.MulDivRoundUp(amount, fee, denominator)
}

// CompositionFee is charged on the part of a deposit that changes the
// composition of the active bin: amount * fee * (fee + 10^18) / 10^36.
func CompositionFee(amountWithFees, fee *uint256.Int) (*uint256.Int, error) {
	if err := verifyFee(fee); err != nil {
		return nil, err
	}
	scaled, err := fixed.Mul(amountWithFees, fee)
	if err != nil {
		return nil, err
	}
	factor := new(uint256.Int).Add(fee, fixed.Precision)
	return fixed.MulDivRoundDown(scaled, factor, fixed.SquaredPrecision)
}

// ProtocolFee returns the protocol cut of fee: floor(fee * share / 10_000).
func ProtocolFee(fee *uint256.Int, share uint16) (*uint256.Int, error) {
	return fixed.MulBasisPointsRoundDown(fee, uint64(share))
}
