package lb

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquiditybook/native/lb/bins"
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
	"liquiditybook/native/lb/pricing"
)

// SwapRequest swaps an exact input amount. OfferToken is optional; when set
// it must be the token the direction consumes. A zero Deadline disables the
// deadline check.
type SwapRequest struct {
	OfferToken   common.Address
	SwapForY     bool
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
	AllowPartial bool
	Deadline     uint64
}

// ExactOutRequest swaps for an exact output amount, spending at most
// AmountInMax when it is set.
type ExactOutRequest struct {
	OfferToken  common.Address
	SwapForY    bool
	AmountOut   *uint256.Int
	AmountInMax *uint256.Int
	Deadline    uint64
}

// SwapResult reports a committed swap. Fee includes ProtocolFee; both are in
// the input token.
type SwapResult struct {
	AmountIn     *uint256.Int
	AmountInLeft *uint256.Int
	AmountOut    *uint256.Int
	Fee          *uint256.Int
	ProtocolFee  *uint256.Int
	BinsCrossed  int
	ActiveID     uint32
}

// OutQuote is the simulated result of swapping an exact input.
type OutQuote struct {
	AmountInLeft *uint256.Int
	AmountOut    *uint256.Int
	LPFee        *uint256.Int
	ProtocolFee  *uint256.Int
	TotalFee     *uint256.Int
}

// InQuote is the input needed for an exact output. AmountOutLeft is what the
// reachable bins could not provide.
type InQuote struct {
	AmountIn      *uint256.Int
	AmountOutLeft *uint256.Int
	Fee           *uint256.Int
}

func (p *Pair) checkOfferToken(token common.Address, swapForY bool) error {
	if token == (common.Address{}) {
		return nil
	}
	want := p.tokenY
	if swapForY {
		want = p.tokenX
	}
	if token != want {
		return fmt.Errorf("%w: offered token %s but the swap direction consumes %s", lberr.ErrValidation, token.Hex(), want.Hex())
	}
	return nil
}

func checkAmount(field string, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return fmt.Errorf("%w: %s must be positive", lberr.ErrValidation, field)
	}
	return fixed.CheckU128(field, v)
}

// Swap executes an exact-input swap starting at the active bin.
func (p *Pair) Swap(req SwapRequest) (SwapResult, error) {
	if err := checkAmount("amount in", req.AmountIn); err != nil {
		return SwapResult{}, err
	}
	if err := fixed.CheckU128("amount out min", req.AmountOutMin); err != nil {
		return SwapResult{}, err
	}
	if err := p.checkOfferToken(req.OfferToken, req.SwapForY); err != nil {
		return SwapResult{}, err
	}
	var result SwapResult
	err := p.update(func(tx *txn) error {
		if req.Deadline != 0 {
			if err := checkDeadline(tx.now, req.Deadline); err != nil {
				return err
			}
		}
		liquid := hasOutLiquidity(tx.state, req.SwapForY)
		res, err := p.swapOn(tx.state, req.SwapForY, req.AmountIn, tx.now)
		if err != nil {
			return err
		}
		if res.AmountOut.IsZero() {
			if liquid {
				return fmt.Errorf("%w: amount in %s yields zero amount out after fees at bin %d", lberr.ErrSlippageExceeded, req.AmountIn.Dec(), res.ActiveID)
			}
			return fmt.Errorf("%w: no bin from %d in the swap direction could fill %s", lberr.ErrInsufficientLiquidity, res.ActiveID, req.AmountIn.Dec())
		}
		if !res.AmountInLeft.IsZero() && !req.AllowPartial {
			return fmt.Errorf("%w: %s of %s left unfilled after %d bins", lberr.ErrInsufficientLiquidity, res.AmountInLeft.Dec(), req.AmountIn.Dec(), res.BinsCrossed+1)
		}
		if req.AmountOutMin != nil && res.AmountOut.Lt(req.AmountOutMin) {
			return fmt.Errorf("%w: amount out %s below minimum %s", lberr.ErrSlippageExceeded, res.AmountOut.Dec(), req.AmountOutMin.Dec())
		}
		result = res
		return nil
	})
	if err != nil {
		return SwapResult{}, err
	}
	return result, nil
}

// SwapExactOut quotes the input for req.AmountOut and swaps exactly that input.
func (p *Pair) SwapExactOut(req ExactOutRequest) (SwapResult, error) {
	if err := checkAmount("amount out", req.AmountOut); err != nil {
		return SwapResult{}, err
	}
	if err := fixed.CheckU128("amount in max", req.AmountInMax); err != nil {
		return SwapResult{}, err
	}
	if err := p.checkOfferToken(req.OfferToken, req.SwapForY); err != nil {
		return SwapResult{}, err
	}
	var result SwapResult
	err := p.update(func(tx *txn) error {
		if req.Deadline != 0 {
			if err := checkDeadline(tx.now, req.Deadline); err != nil {
				return err
			}
		}
		quote, err := p.quoteIn(tx.state, req.SwapForY, req.AmountOut, tx.now)
		if err != nil {
			return err
		}
		if !quote.AmountOutLeft.IsZero() {
			return fmt.Errorf("%w: %s of requested %s cannot be provided", lberr.ErrInsufficientLiquidity, quote.AmountOutLeft.Dec(), req.AmountOut.Dec())
		}
		if req.AmountInMax != nil && quote.AmountIn.Gt(req.AmountInMax) {
			return fmt.Errorf("%w: amount in %s above maximum %s", lberr.ErrSlippageExceeded, quote.AmountIn.Dec(), req.AmountInMax.Dec())
		}
		if err := fixed.CheckU128("amount in", quote.AmountIn); err != nil {
			return err
		}
		res, err := p.swapOn(tx.state, req.SwapForY, quote.AmountIn, tx.now)
		if err != nil {
			return err
		}
		if res.AmountOut.Lt(req.AmountOut) {
			return fmt.Errorf("%w: amount out %s below requested %s", lberr.ErrSlippageExceeded, res.AmountOut.Dec(), req.AmountOut.Dec())
		}
		result = res
		return nil
	})
	if err != nil {
		return SwapResult{}, err
	}
	return result, nil
}

// GetSwapOut simulates an exact-input swap. Unfilled input is reported in
// AmountInLeft rather than as an error.
func (p *Pair) GetSwapOut(amountIn *uint256.Int, swapForY bool) (OutQuote, error) {
	if err := checkAmount("amount in", amountIn); err != nil {
		return OutQuote{}, err
	}
	var quote OutQuote
	err := p.view(func(st *state, now uint64) error {
		res, err := p.swapOn(st.clone(), swapForY, amountIn, now)
		if err != nil {
			return err
		}
		quote = OutQuote{
			AmountInLeft: res.AmountInLeft,
			AmountOut:    res.AmountOut,
			LPFee:        new(uint256.Int).Sub(res.Fee, res.ProtocolFee),
			ProtocolFee:  res.ProtocolFee,
			TotalFee:     res.Fee,
		}
		return nil
	})
	return quote, err
}

// GetSwapIn simulates the input required to receive amountOut.
func (p *Pair) GetSwapIn(amountOut *uint256.Int, swapForY bool) (InQuote, error) {
	if err := checkAmount("amount out", amountOut); err != nil {
		return InQuote{}, err
	}
	var quote InQuote
	err := p.view(func(st *state, now uint64) error {
		q, err := p.quoteIn(st, swapForY, amountOut, now)
		quote = q
		return err
	})
	return quote, err
}

// quoteIn walks the bins like swapOn but from the output side. It works on a
// copy of the fee parameters and never writes to st.
func (p *Pair) quoteIn(st *state, swapForY bool, amountOut *uint256.Int, now uint64) (InQuote, error) {
	params := st.params
	params.UpdateReferences(now)
	left := fixed.Clone(amountOut)
	amountIn, fee := new(uint256.Int), new(uint256.Int)
	id := params.ActiveID
	for crossed := 0; ; crossed++ {
		if b, ok := st.bins.Get(id); ok && !b.IsEmpty(!swapForY) {
			price, err := pricing.PriceFromID(id, p.binStep)
			if err != nil {
				return InQuote{}, err
			}
			outOfBin := fixed.Min(b.Reserve(!swapForY), left)
			params.UpdateVolatilityAccumulator(id)
			var inWithoutFee *uint256.Int
			if swapForY {
				inWithoutFee, err = fixed.ShiftDivRoundUp(outOfBin, fixed.ScaleOffset, price)
			} else {
				inWithoutFee, err = fixed.MulShiftRoundUp(outOfBin, price, fixed.ScaleOffset)
			}
			if err != nil {
				return InQuote{}, err
			}
			binFee, err := fees.FeeAmount(inWithoutFee, params.TotalFee(p.binStep))
			if err != nil {
				return InQuote{}, err
			}
			if amountIn, err = addAll(amountIn, inWithoutFee, binFee); err != nil {
				return InQuote{}, err
			}
			if fee, err = fixed.Add(fee, binFee); err != nil {
				return InQuote{}, err
			}
			left.Sub(left, outOfBin)
		}
		if left.IsZero() {
			break
		}
		next, ok := st.bins.Next(id, swapForY)
		if !ok || crossed+1 >= p.maxBins {
			break
		}
		id = next
	}
	return InQuote{AmountIn: amountIn, AmountOutLeft: left, Fee: fee}, nil
}

// swapOn runs the exact-input swap loop against st and leaves the active id
// on the last bin visited. It applies no caller policy; Swap decides whether
// the outcome is acceptable.
// hasOutLiquidity reports whether the active bin or any bin beyond it in the
// swap direction holds the output token.
func hasOutLiquidity(st *state, swapForY bool) bool {
	id := st.params.ActiveID
	if b, ok := st.bins.Get(id); ok && !b.IsEmpty(!swapForY) {
		return true
	}
	_, ok := st.bins.Next(id, swapForY)
	return ok
}

func (p *Pair) swapOn(st *state, swapForY bool, amountIn *uint256.Int, now uint64) (SwapResult, error) {
	left := fixed.Clone(amountIn)
	out, fee, protocolFee := new(uint256.Int), new(uint256.Int), new(uint256.Int)
	st.params.UpdateReferences(now)
	start := st.params.ActiveID
	id := start
	crossed := 0
	for {
		if b, ok := st.bins.Get(id); ok && !b.IsEmpty(!swapForY) {
			step, binProtocolFee, err := p.swapInBin(st, b, id, swapForY, left, now)
			if err != nil {
				return SwapResult{}, err
			}
			left.Sub(left, step.AmountInWithFees)
			if out, err = fixed.Add(out, step.AmountOut); err != nil {
				return SwapResult{}, err
			}
			if fee, err = fixed.Add(fee, step.Fee); err != nil {
				return SwapResult{}, err
			}
			if protocolFee, err = fixed.Add(protocolFee, binProtocolFee); err != nil {
				return SwapResult{}, err
			}
		}
		if left.IsZero() {
			break
		}
		next, ok := st.bins.Next(id, swapForY)
		if !ok || crossed+1 >= p.maxBins {
			break
		}
		id = next
		crossed++
	}

	st.params.ActiveID = id
	if err := updateOracle(st, now); err != nil {
		return SwapResult{}, err
	}
	return SwapResult{
		AmountIn:     new(uint256.Int).Sub(amountIn, left),
		AmountInLeft: left,
		AmountOut:    out,
		Fee:          fee,
		ProtocolFee:  protocolFee,
		BinsCrossed:  crossed,
		ActiveID:     id,
	}, nil
}

// swapInBin fills as much of left as bin id allows, routes the protocol share
// of the fee out of the bin and records the bin's volume and liquidity.
func (p *Pair) swapInBin(st *state, b bins.Bin, id uint32, swapForY bool, left *uint256.Int, now uint64) (bins.SwapStep, *uint256.Int, error) {
	st.params.UpdateVolatilityAccumulator(id)
	price, err := pricing.PriceFromID(id, p.binStep)
	if err != nil {
		return bins.SwapStep{}, nil, err
	}
	step, err := bins.SwapAmounts(b, st.params, p.binStep, swapForY, left, price)
	if err != nil {
		return bins.SwapStep{}, nil, err
	}
	protocolFee, err := fees.ProtocolFee(step.Fee, st.params.Static.ProtocolShare)
	if err != nil {
		return bins.SwapStep{}, nil, err
	}
	toBin := new(uint256.Int).Sub(step.AmountInWithFees, protocolFee)

	in, out, protocol := &b.ReserveY, &b.ReserveX, &st.protocolY
	if swapForY {
		in, out, protocol = &b.ReserveX, &b.ReserveY, &st.protocolX
	}
	if err := addReserve(in, toBin); err != nil {
		return bins.SwapStep{}, nil, err
	}
	if err := subReserve(out, step.AmountOut); err != nil {
		return bins.SwapStep{}, nil, err
	}
	total, err := fixed.Add(protocol, protocolFee)
	if err != nil {
		return bins.SwapStep{}, nil, err
	}
	protocol.Set(total)
	st.bins.Put(id, b)

	volume := step.AmountInWithFees
	if swapForY {
		if volume, err = fixed.MulShiftRoundDown(step.AmountInWithFees, price, fixed.ScaleOffset); err != nil {
			return bins.SwapStep{}, nil, err
		}
	}
	if err := st.rewards.ObserveVolume(id, volume, now); err != nil {
		return bins.SwapStep{}, nil, err
	}
	if err := p.observeBin(st, id, price, now); err != nil {
		return bins.SwapStep{}, nil, err
	}
	return step, protocolFee, nil
}

func addAll(values ...*uint256.Int) (*uint256.Int, error) {
	sum := new(uint256.Int)
	for _, v := range values {
		var err error
		if sum, err = fixed.Add(sum, v); err != nil {
			return nil, err
		}
	}
	return sum, nil
}
