package bins

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

// Liquidity values x and y in Y units scaled by 2^128: price*x + y<<128.
func Liquidity(x, y, price *uint256.Int) (*uint256.Int, error) {
	liquidity := new(uint256.Int)
	if !x.IsZero() {
		px, err := fixed.Mul(price, x)
		if err != nil {
			return nil, err
		}
		liquidity = px
	}
	if !y.IsZero() {
		if y.Gt(fixed.MaxU128) {
			return nil, fmt.Errorf("%w: amount y %s exceeds 128 bits", lberr.ErrArithmeticOverflow, y.Dec())
		}
		shifted := new(uint256.Int).Lsh(y, fixed.ScaleOffset)
		sum, err := fixed.Add(liquidity, shifted)
		if err != nil {
			return nil, err
		}
		liquidity = sum
	}
	return liquidity, nil
}

// SharesAndEffectiveAmountsIn returns the shares minted for depositing x and
// y into b at price and the amounts actually taken. Any liquidity the rounded
// shares do not pay for is refunded from y first, then from x.
func SharesAndEffectiveAmountsIn(b Bin, x, y, price *uint256.Int) (shares, effX, effY *uint256.Int, err error) {
	effX, effY = fixed.Clone(x), fixed.Clone(y)
	userLiquidity, err := Liquidity(x, y, price)
	if err != nil {
		return nil, nil, nil, err
	}
	if userLiquidity.IsZero() {
		return new(uint256.Int), new(uint256.Int), new(uint256.Int), nil
	}
	binLiquidity, err := Liquidity(&b.ReserveX, &b.ReserveY, price)
	if err != nil {
		return nil, nil, nil, err
	}
	if binLiquidity.IsZero() || b.TotalSupply.IsZero() {
		return userLiquidity, effX, effY, nil
	}

	shares, err = fixed.MulDivRoundDown(userLiquidity, &b.TotalSupply, binLiquidity)
	if err != nil {
		return nil, nil, nil, err
	}
	effective, err := fixed.MulDivRoundUp(shares, binLiquidity, &b.TotalSupply)
	if err != nil {
		return nil, nil, nil, err
	}
	if userLiquidity.Gt(effective) {
		delta := new(uint256.Int).Sub(userLiquidity, effective)
		if !delta.Lt(fixed.Scale) {
			deltaY := new(uint256.Int).Rsh(delta, fixed.ScaleOffset)
			if deltaY.Gt(effY) {
				deltaY.Set(effY)
			}
			effY.Sub(effY, deltaY)
			delta.Sub(delta, new(uint256.Int).Lsh(deltaY, fixed.ScaleOffset))
		}
		if !delta.Lt(price) {
			deltaX := new(uint256.Int).Div(delta, price)
			if deltaX.Gt(effX) {
				deltaX.Set(effX)
			}
			effX.Sub(effX, deltaX)
		}
	}
	return shares, effX, effY, nil
}

// AmountsOut returns the reserves owed for burning shares of b, rounded down.
func AmountsOut(b Bin, shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if b.TotalSupply.IsZero() {
		return nil, nil, fmt.Errorf("%w: bin has no supply", lberr.ErrValidation)
	}
	x, y := new(uint256.Int), new(uint256.Int)
	var err error
	if !b.ReserveX.IsZero() {
		if x, err = fixed.MulDivRoundDown(shares, &b.ReserveX, &b.TotalSupply); err != nil {
			return nil, nil, err
		}
	}
	if !b.ReserveY.IsZero() {
		if y, err = fixed.MulDivRoundDown(shares, &b.ReserveY, &b.TotalSupply); err != nil {
			return nil, nil, err
		}
	}
	return x, y, nil
}

// CompositionFees returns the fee charged for a deposit of x and y that
// would otherwise let the depositor swap implicitly against the active bin.
func CompositionFees(b Bin, params fees.Parameters, binStep uint16, x, y, shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	feeX, feeY := new(uint256.Int), new(uint256.Int)
	if shares.IsZero() {
		return feeX, feeY, nil
	}
	after := Bin{}
	after.ReserveX.Add(&b.ReserveX, x)
	after.ReserveY.Add(&b.ReserveY, y)
	after.TotalSupply.Add(&b.TotalSupply, shares)
	receivedX, receivedY, err := AmountsOut(after, shares)
	if err != nil {
		return nil, nil, err
	}
	total := params.TotalFee(binStep)
	switch {
	case receivedX.Gt(x) && y.Gt(receivedY):
		feeY, err = fees.CompositionFee(new(uint256.Int).Sub(y, receivedY), total)
	case receivedY.Gt(y) && x.Gt(receivedX):
		feeX, err = fees.CompositionFee(new(uint256.Int).Sub(x, receivedX), total)
	}
	if err != nil {
		return nil, nil, err
	}
	return feeX, feeY, nil
}

// VerifyAmounts rejects X deposited below the active id and Y above it.
func VerifyAmounts(activeID, id uint32, x, y *uint256.Int) error {
	if id < activeID && !x.IsZero() {
		return fmt.Errorf("%w: bin %d below active id %d cannot take token X", lberr.ErrValidation, id, activeID)
	}
	if id > activeID && !y.IsZero() {
		return fmt.Errorf("%w: bin %d above active id %d cannot take token Y", lberr.ErrValidation, id, activeID)
	}
	return nil
}

// SwapStep is the outcome of swapping against one bin.
type SwapStep struct {
	AmountInWithFees *uint256.Int
	AmountOut        *uint256.Int
	Fee              *uint256.Int
}

// SwapAmounts computes how much of amountInLeft b absorbs at price. When the
// input covers the whole output reserve plus fee the bin is drained;
// otherwise the fee is taken from the input and the rest converted at price.
func SwapAmounts(b Bin, params fees.Parameters, binStep uint16, swapForY bool, amountInLeft, price *uint256.Int) (SwapStep, error) {
	reserveOut := b.Reserve(!swapForY)
	var maxIn *uint256.Int
	var err error
	if swapForY {
		maxIn, err = fixed.ShiftDivRoundUp(reserveOut, fixed.ScaleOffset, price)
	} else {
		maxIn, err = fixed.MulShiftRoundUp(reserveOut, price, fixed.ScaleOffset)
	}
	if err != nil {
		return SwapStep{}, err
	}
	if err := fixed.CheckU128("bin max amount in", maxIn); err != nil {
		return SwapStep{}, fmt.Errorf("%w: %v", lberr.ErrArithmeticOverflow, err)
	}

	total := params.TotalFee(binStep)
	maxFee, err := fees.FeeAmount(maxIn, total)
	if err != nil {
		return SwapStep{}, err
	}
	maxInWithFees, err := fixed.Add(maxIn, maxFee)
	if err != nil {
		return SwapStep{}, err
	}

	if !amountInLeft.Lt(maxInWithFees) {
		return SwapStep{AmountInWithFees: maxInWithFees, AmountOut: reserveOut, Fee: maxFee}, nil
	}

	fee, err := fees.FeeAmountFrom(amountInLeft, total)
	if err != nil {
		return SwapStep{}, err
	}
	net := new(uint256.Int).Sub(amountInLeft, fee)
	var out *uint256.Int
	if swapForY {
		out, err = fixed.MulShiftRoundDown(net, price, fixed.ScaleOffset)
	} else {
		out, err = fixed.ShiftDivRoundDown(net, fixed.ScaleOffset, price)
	}
	if err != nil {
		return SwapStep{}, err
	}
	if out.Gt(reserveOut) {
		out.Set(reserveOut)
	}
	return SwapStep{AmountInWithFees: fixed.Clone(amountInLeft), AmountOut: out, Fee: fee}, nil
}
