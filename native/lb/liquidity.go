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

// LiquidityRequest spreads AmountX and AmountY over the bins
// ActiveIDDesired+DeltaIDs[i] with the given 10^18-scaled distributions.
type LiquidityRequest struct {
	TokenX          common.Address
	TokenY          common.Address
	BinStep         uint16
	AmountX         *uint256.Int
	AmountY         *uint256.Int
	AmountXMin      *uint256.Int
	AmountYMin      *uint256.Int
	ActiveIDDesired uint32
	IDSlippage      uint32
	DeltaIDs        []int64
	DistributionX   []*uint256.Int
	DistributionY   []*uint256.Int
	Deadline        uint64
}

// BinDeposit is what one bin received and minted.
type BinDeposit struct {
	ID      uint32
	AmountX *uint256.Int
	AmountY *uint256.Int
	Shares  *uint256.Int
}

// AddLiquidityResult reports the applied amounts. DustX/DustY is the part of
// the request lost to flooring amount*distribution/10^18; AmountXLeft and
// AmountYLeft are everything not taken, dust included.
type AddLiquidityResult struct {
	AmountXAdded *uint256.Int
	AmountYAdded *uint256.Int
	AmountXLeft  *uint256.Int
	AmountYLeft  *uint256.Int
	DustX        *uint256.Int
	DustY        *uint256.Int
	Deposits     []BinDeposit
}

// RemoveLiquidityRequest burns Amounts[i] shares of bin IDs[i].
type RemoveLiquidityRequest struct {
	TokenX     common.Address
	TokenY     common.Address
	BinStep    uint16
	IDs        []uint32
	Amounts    []*uint256.Int
	AmountXMin *uint256.Int
	AmountYMin *uint256.Int
	Deadline   uint64
}

// BinWithdrawal is what burning shares of one bin paid out.
type BinWithdrawal struct {
	ID      uint32
	Shares  *uint256.Int
	AmountX *uint256.Int
	AmountY *uint256.Int
}

// RemoveLiquidityResult reports the withdrawn totals.
type RemoveLiquidityResult struct {
	AmountX     *uint256.Int
	AmountY     *uint256.Int
	Withdrawals []BinWithdrawal
}

// allocation is one validated bin of an add request.
type allocation struct {
	id uint32
	x  *uint256.Int
	y  *uint256.Int
}

func (p *Pair) planDeposits(req LiquidityRequest) ([]allocation, error) {
	n := len(req.DeltaIDs)
	if n == 0 {
		return nil, fmt.Errorf("%w: delta ids must not be empty", lberr.ErrValidation)
	}
	if len(req.DistributionX) != n || len(req.DistributionY) != n {
		return nil, fmt.Errorf("%w: %d delta ids, %d x distributions and %d y distributions", lberr.ErrValidation, n, len(req.DistributionX), len(req.DistributionY))
	}
	for _, amount := range []struct {
		field string
		value *uint256.Int
	}{{"amount x", req.AmountX}, {"amount y", req.AmountY}, {"amount x min", req.AmountXMin}, {"amount y min", req.AmountYMin}} {
		if err := fixed.CheckU128(amount.field, amount.value); err != nil {
			return nil, err
		}
	}
	if err := pricing.ValidateID(int64(req.ActiveIDDesired)); err != nil {
		return nil, err
	}

	amountX, amountY := orZero(req.AmountX), orZero(req.AmountY)
	sumX, sumY := new(uint256.Int), new(uint256.Int)
	seen := make(map[uint32]struct{}, n)
	plan := make([]allocation, 0, n)
	for i, delta := range req.DeltaIDs {
		distX, distY := orZero(req.DistributionX[i]), orZero(req.DistributionY[i])
		if distX.Gt(fixed.Precision) || distY.Gt(fixed.Precision) {
			return nil, fmt.Errorf("%w: distribution at delta %d exceeds 10^18", lberr.ErrValidation, delta)
		}
		sumX.Add(sumX, distX)
		sumY.Add(sumY, distY)
		if sumX.Gt(fixed.Precision) || sumY.Gt(fixed.Precision) {
			return nil, fmt.Errorf("%w: distributions sum to %s/%s, above 10^18", lberr.ErrValidation, sumX.Dec(), sumY.Dec())
		}

		target := int64(req.ActiveIDDesired) + delta
		if err := pricing.ValidateID(target); err != nil {
			return nil, fmt.Errorf("delta id %d: %w", delta, err)
		}
		id := uint32(target)
		if id < req.ActiveIDDesired && !distX.IsZero() {
			return nil, fmt.Errorf("%w: bin %d below desired active id %d cannot take token X", lberr.ErrValidation, id, req.ActiveIDDesired)
		}
		if id > req.ActiveIDDesired && !distY.IsZero() {
			return nil, fmt.Errorf("%w: bin %d above desired active id %d cannot take token Y", lberr.ErrValidation, id, req.ActiveIDDesired)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: bin %d listed twice", lberr.ErrValidation, id)
		}
		seen[id] = struct{}{}

		x, err := fixed.MulDivRoundDown(amountX, distX, fixed.Precision)
		if err != nil {
			return nil, err
		}
		y, err := fixed.MulDivRoundDown(amountY, distY, fixed.Precision)
		if err != nil {
			return nil, err
		}
		plan = append(plan, allocation{id: id, x: x, y: y})
	}
	return plan, nil
}

// AddLiquidity deposits into the requested bins and mints shares to owner.
// Either every bin is credited or none is.
func (p *Pair) AddLiquidity(owner common.Address, req LiquidityRequest) (AddLiquidityResult, error) {
	if err := p.checkIdentity(req.TokenX, req.TokenY, req.BinStep); err != nil {
		return AddLiquidityResult{}, err
	}
	plan, err := p.planDeposits(req)
	if err != nil {
		return AddLiquidityResult{}, err
	}

	var result AddLiquidityResult
	err = p.update(func(tx *txn) error {
		if err := checkDeadline(tx.now, req.Deadline); err != nil {
			return err
		}
		active := tx.params.ActiveID
		if distance(active, req.ActiveIDDesired) > req.IDSlippage {
			return fmt.Errorf("%w: active id %d is more than %d bins from desired %d", lberr.ErrSlippageExceeded, active, req.IDSlippage, req.ActiveIDDesired)
		}

		addedX, addedY := new(uint256.Int), new(uint256.Int)
		plannedX, plannedY := new(uint256.Int), new(uint256.Int)
		deposits := make([]BinDeposit, 0, len(plan))
		for _, alloc := range plan {
			plannedX.Add(plannedX, alloc.x)
			plannedY.Add(plannedY, alloc.y)
			dep, err := p.depositInBin(tx, owner, alloc)
			if err != nil {
				return err
			}
			addedX.Add(addedX, dep.AmountX)
			addedY.Add(addedY, dep.AmountY)
			deposits = append(deposits, dep)
		}

		if req.AmountXMin != nil && addedX.Lt(req.AmountXMin) {
			return fmt.Errorf("%w: amount x added %s below minimum %s", lberr.ErrSlippageExceeded, addedX.Dec(), req.AmountXMin.Dec())
		}
		if req.AmountYMin != nil && addedY.Lt(req.AmountYMin) {
			return fmt.Errorf("%w: amount y added %s below minimum %s", lberr.ErrSlippageExceeded, addedY.Dec(), req.AmountYMin.Dec())
		}
		amountX, amountY := orZero(req.AmountX), orZero(req.AmountY)
		result = AddLiquidityResult{
			AmountXAdded: addedX,
			AmountYAdded: addedY,
			AmountXLeft:  new(uint256.Int).Sub(amountX, addedX),
			AmountYLeft:  new(uint256.Int).Sub(amountY, addedY),
			DustX:        new(uint256.Int).Sub(amountX, plannedX),
			DustY:        new(uint256.Int).Sub(amountY, plannedY),
			Deposits:     deposits,
		}
		return nil
	})
	if err != nil {
		return AddLiquidityResult{}, err
	}
	return result, nil
}

// depositInBin mints shares for one allocation. Deposits into the active bin
// pay the composition fee; everywhere else the amounts must sit on the correct
// side of the active id.
func (p *Pair) depositInBin(tx *txn, owner common.Address, alloc allocation) (BinDeposit, error) {
	id := alloc.id
	if alloc.x.IsZero() && alloc.y.IsZero() {
		return BinDeposit{}, fmt.Errorf("%w: bin %d receives no liquidity", lberr.ErrValidation, id)
	}
	price, err := pricing.PriceFromID(id, p.binStep)
	if err != nil {
		return BinDeposit{}, err
	}
	b, _ := tx.bins.Get(id)
	shares, x, y, err := bins.SharesAndEffectiveAmountsIn(b, alloc.x, alloc.y, price)
	if err != nil {
		return BinDeposit{}, err
	}
	toBinX, toBinY := fixed.Clone(x), fixed.Clone(y)

	if id == tx.params.ActiveID {
		tx.params.UpdateVolatilityParameters(id, tx.now)
		feeX, feeY, err := bins.CompositionFees(b, tx.params, p.binStep, x, y, shares)
		if err != nil {
			return BinDeposit{}, err
		}
		if !feeX.IsZero() || !feeY.IsZero() {
			if shares, err = sharesAfterCompositionFee(b, x, y, feeX, feeY, price); err != nil {
				return BinDeposit{}, err
			}
			protocolX, err := fees.ProtocolFee(feeX, tx.params.Static.ProtocolShare)
			if err != nil {
				return BinDeposit{}, err
			}
			protocolY, err := fees.ProtocolFee(feeY, tx.params.Static.ProtocolShare)
			if err != nil {
				return BinDeposit{}, err
			}
			toBinX.Sub(toBinX, protocolX)
			toBinY.Sub(toBinY, protocolY)
			if err := addProtocol(&tx.protocolX, protocolX); err != nil {
				return BinDeposit{}, err
			}
			if err := addProtocol(&tx.protocolY, protocolY); err != nil {
				return BinDeposit{}, err
			}
			if err := updateOracle(tx.state, tx.now); err != nil {
				return BinDeposit{}, err
			}
		}
	} else if err := bins.VerifyAmounts(tx.params.ActiveID, id, x, y); err != nil {
		return BinDeposit{}, err
	}

	if shares.IsZero() || (toBinX.IsZero() && toBinY.IsZero()) {
		return BinDeposit{}, fmt.Errorf("%w: deposit into bin %d mints zero shares", lberr.ErrValidation, id)
	}
	if err := addReserve(&b.ReserveX, toBinX); err != nil {
		return BinDeposit{}, err
	}
	if err := addReserve(&b.ReserveY, toBinY); err != nil {
		return BinDeposit{}, err
	}
	supply, err := fixed.Add(&b.TotalSupply, shares)
	if err != nil {
		return BinDeposit{}, err
	}
	b.TotalSupply.Set(supply)
	tx.bins.Put(id, b)
	tx.changes = append(tx.changes, ShareChange{Owner: owner, ID: id, Delta: shares})
	if err := p.observeBin(tx.state, id, price, tx.now); err != nil {
		return BinDeposit{}, err
	}
	return BinDeposit{ID: id, AmountX: x, AmountY: y, Shares: shares}, nil
}

// sharesAfterCompositionFee reprices the deposit net of the composition fee
// against the bin's liquidity before the deposit.
func sharesAfterCompositionFee(b bins.Bin, x, y, feeX, feeY, price *uint256.Int) (*uint256.Int, error) {
	netX, err := fixed.Sub(x, feeX)
	if err != nil {
		return nil, err
	}
	netY, err := fixed.Sub(y, feeY)
	if err != nil {
		return nil, err
	}
	userLiquidity, err := bins.Liquidity(netX, netY, price)
	if err != nil {
		return nil, err
	}
	binLiquidity, err := bins.Liquidity(&b.ReserveX, &b.ReserveY, price)
	if err != nil {
		return nil, err
	}
	if binLiquidity.IsZero() {
		return userLiquidity, nil
	}
	return fixed.MulDivRoundDown(userLiquidity, &b.TotalSupply, binLiquidity)
}

// RemoveLiquidity burns owner's shares and pays out the bins' reserves pro
// rata. Bins whose whole supply is burned are removed.
func (p *Pair) RemoveLiquidity(owner common.Address, req RemoveLiquidityRequest) (RemoveLiquidityResult, error) {
	if err := p.checkIdentity(req.TokenX, req.TokenY, req.BinStep); err != nil {
		return RemoveLiquidityResult{}, err
	}
	if len(req.IDs) == 0 {
		return RemoveLiquidityResult{}, fmt.Errorf("%w: ids must not be empty", lberr.ErrValidation)
	}
	if len(req.IDs) != len(req.Amounts) {
		return RemoveLiquidityResult{}, fmt.Errorf("%w: %d ids but %d amounts", lberr.ErrValidation, len(req.IDs), len(req.Amounts))
	}
	for i, id := range req.IDs {
		if err := pricing.ValidateID(int64(id)); err != nil {
			return RemoveLiquidityResult{}, err
		}
		if err := fixed.CheckShares(fmt.Sprintf("shares for bin %d", id), req.Amounts[i]); err != nil {
			return RemoveLiquidityResult{}, err
		}
	}
	if err := fixed.CheckU128("amount x min", req.AmountXMin); err != nil {
		return RemoveLiquidityResult{}, err
	}
	if err := fixed.CheckU128("amount y min", req.AmountYMin); err != nil {
		return RemoveLiquidityResult{}, err
	}

	var result RemoveLiquidityResult
	err := p.update(func(tx *txn) error {
		if err := checkDeadline(tx.now, req.Deadline); err != nil {
			return err
		}
		totalX, totalY := new(uint256.Int), new(uint256.Int)
		withdrawals := make([]BinWithdrawal, 0, len(req.IDs))
		for i, id := range req.IDs {
			w, err := p.withdrawFromBin(tx, owner, id, req.Amounts[i])
			if err != nil {
				return err
			}
			totalX.Add(totalX, w.AmountX)
			totalY.Add(totalY, w.AmountY)
			withdrawals = append(withdrawals, w)
		}
		if req.AmountXMin != nil && totalX.Lt(req.AmountXMin) {
			return fmt.Errorf("%w: amount x removed %s below minimum %s", lberr.ErrSlippageExceeded, totalX.Dec(), req.AmountXMin.Dec())
		}
		if req.AmountYMin != nil && totalY.Lt(req.AmountYMin) {
			return fmt.Errorf("%w: amount y removed %s below minimum %s", lberr.ErrSlippageExceeded, totalY.Dec(), req.AmountYMin.Dec())
		}
		result = RemoveLiquidityResult{AmountX: totalX, AmountY: totalY, Withdrawals: withdrawals}
		return nil
	})
	if err != nil {
		return RemoveLiquidityResult{}, err
	}
	return result, nil
}

func (p *Pair) withdrawFromBin(tx *txn, owner common.Address, id uint32, shares *uint256.Int) (BinWithdrawal, error) {
	b, ok := tx.bins.Get(id)
	if !ok {
		return BinWithdrawal{}, fmt.Errorf("%w: bin %d holds no liquidity", lberr.ErrValidation, id)
	}
	balance, err := p.pendingBalance(tx, owner, id)
	if err != nil {
		return BinWithdrawal{}, err
	}
	if shares.Gt(balance) {
		return BinWithdrawal{}, fmt.Errorf("%w: owner %s holds %s shares of bin %d, cannot burn %s", lberr.ErrValidation, owner.Hex(), balance.Dec(), id, shares.Dec())
	}
	if shares.Gt(&b.TotalSupply) {
		return BinWithdrawal{}, fmt.Errorf("%w: burning %s shares exceeds bin %d supply %s", lberr.ErrValidation, shares.Dec(), id, b.TotalSupply.Dec())
	}
	x, y, err := bins.AmountsOut(b, shares)
	if err != nil {
		return BinWithdrawal{}, err
	}
	if x.IsZero() && y.IsZero() {
		return BinWithdrawal{}, fmt.Errorf("%w: burning %s shares of bin %d pays out nothing", lberr.ErrValidation, shares.Dec(), id)
	}
	if err := subReserve(&b.ReserveX, x); err != nil {
		return BinWithdrawal{}, err
	}
	if err := subReserve(&b.ReserveY, y); err != nil {
		return BinWithdrawal{}, err
	}
	b.TotalSupply.Sub(&b.TotalSupply, shares)
	tx.bins.Put(id, b)
	tx.changes = append(tx.changes, ShareChange{Owner: owner, ID: id, Delta: fixed.Clone(shares), Burn: true})

	price, err := pricing.PriceFromID(id, p.binStep)
	if err != nil {
		return BinWithdrawal{}, err
	}
	if err := p.observeBin(tx.state, id, price, tx.now); err != nil {
		return BinWithdrawal{}, err
	}
	return BinWithdrawal{ID: id, Shares: fixed.Clone(shares), AmountX: x, AmountY: y}, nil
}

func addProtocol(acc *uint256.Int, amount *uint256.Int) error {
	sum, err := fixed.Add(acc, amount)
	if err != nil {
		return err
	}
	acc.Set(sum)
	return nil
}

func distance(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
