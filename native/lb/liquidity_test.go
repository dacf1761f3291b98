package lb

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquiditybook/native/lb/lberr"
)

func removeAll(clock *testClock, deposits []BinDeposit) RemoveLiquidityRequest {
	req := RemoveLiquidityRequest{
		TokenX:     testTokenX,
		TokenY:     testTokenY,
		BinStep:    100,
		AmountXMin: uint256.NewInt(950_000),
		AmountYMin: uint256.NewInt(950_000),
		Deadline:   clock.Unix() + 600,
	}
	for _, dep := range deposits {
		req.IDs = append(req.IDs, dep.ID)
		req.Amounts = append(req.Amounts, dep.Shares)
	}
	return req
}

func TestAddRemoveRoundTrip(t *testing.T) {
	pair, clock := newTestPair(t, nil)
	added := seedSpread(t, pair, clock)

	expectUint(t, "x added", added.AmountXAdded, 99_999_996)
	expectUint(t, "y added", added.AmountYAdded, 99_999_996)
	expectUint(t, "x dust", added.DustX, 4)
	expectUint(t, "x left", added.AmountXLeft, 4)
	if len(added.Deposits) != 11 || len(pair.BinIDs()) != 11 {
		t.Fatalf("expected 11 populated bins, got %d deposits and %d bins", len(added.Deposits), len(pair.BinIDs()))
	}
	for _, dep := range added.Deposits {
		if dep.Shares.BitLen() <= 128 {
			t.Fatalf("bin %d minted %s shares, expected liquidity units above 2^128", dep.ID, dep.Shares.Dec())
		}
	}
	x, y, err := pair.BinReserves(middleID)
	if err != nil {
		t.Fatalf("bin reserves: %v", err)
	}
	expectUint(t, "active x", x, 16_666_666)
	expectUint(t, "active y", y, 16_666_666)
	if x, y, _ := pair.BinReserves(middleID - 1); !x.IsZero() || y.Uint64() != 16_666_666 {
		t.Fatalf("bins below active hold only Y, got %s/%s", x, y)
	}

	removed, err := pair.RemoveLiquidity(alice, removeAll(clock, added.Deposits))
	if err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}
	if !removed.AmountX.Eq(added.AmountXAdded) || !removed.AmountY.Eq(added.AmountYAdded) {
		t.Fatalf("withdrew %s/%s, deposited %s/%s", removed.AmountX, removed.AmountY, added.AmountXAdded, added.AmountYAdded)
	}
	if removed.AmountX.Uint64() < 950_000 || removed.AmountY.Uint64() < 950_000 {
		t.Fatalf("withdrawal below minimum: %s/%s", removed.AmountX, removed.AmountY)
	}
	if ids := pair.BinIDs(); len(ids) != 0 {
		t.Fatalf("burning the full supply should empty the store, left %v", ids)
	}
	if _, ok, _ := pair.NextNonEmptyBin(middleID, true); ok {
		t.Fatalf("tree still reports a populated bin")
	}
	rx, ry := pair.Reserves()
	if !rx.IsZero() || !ry.IsZero() {
		t.Fatalf("reserves left after full removal: %s/%s", rx, ry)
	}
}

func TestAddLiquidityValidation(t *testing.T) {
	pair, clock := newTestPair(t, nil)
	cases := map[string]struct {
		mutate func(*LiquidityRequest)
		kind   error
	}{
		"wrong token": {func(r *LiquidityRequest) { r.TokenX = bob }, lberr.ErrValidation},
		"wrong bin step": {func(r *LiquidityRequest) { r.BinStep = 25 }, lberr.ErrValidation},
		"length mismatch": {func(r *LiquidityRequest) { r.DistributionY = r.DistributionY[1:] }, lberr.ErrValidation},
		"empty": {func(r *LiquidityRequest) {
			r.DeltaIDs, r.DistributionX, r.DistributionY = nil, nil, nil
		}, lberr.ErrValidation},
		"over allocation": {func(r *LiquidityRequest) { r.DistributionX[10] = oneShare }, lberr.ErrValidation},
		"single bin above one": {func(r *LiquidityRequest) {
			r.DistributionX[5] = new(uint256.Int).AddUint64(oneShare, 1)
		}, lberr.ErrValidation},
		"x below desired": {func(r *LiquidityRequest) { r.DistributionX[0] = uint256.NewInt(1) }, lberr.ErrValidation},
		"y above desired": {func(r *LiquidityRequest) { r.DistributionY[10] = uint256.NewInt(1) }, lberr.ErrValidation},
		"id out of range": {func(r *LiquidityRequest) {
			r.ActiveIDDesired = 1<<24 - 3
			r.IDSlippage = 1 << 24
		}, lberr.ErrValidation},
		"amount above 128 bits": {func(r *LiquidityRequest) {
			r.AmountX = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
		}, lberr.ErrValidation},
		"duplicate bin": {func(r *LiquidityRequest) { r.DeltaIDs[1] = r.DeltaIDs[0] }, lberr.ErrValidation},
		"id slippage": {func(r *LiquidityRequest) {
			r.ActiveIDDesired = middleID + 10
			for i := range r.DistributionX {
				r.DistributionX[i], r.DistributionY[i] = new(uint256.Int), new(uint256.Int)
			}
			r.DistributionX[5] = oneShare
		}, lberr.ErrSlippageExceeded},
		"deadline": {func(r *LiquidityRequest) { r.Deadline = clock.Unix() - 1 }, lberr.ErrDeadlineExpired},
		"minimum x": {func(r *LiquidityRequest) { r.AmountXMin = uint256.NewInt(100_000_000) }, lberr.ErrSlippageExceeded},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := spreadRequest(clock, 100_000_000)
			tc.mutate(&req)
			_, err := pair.AddLiquidity(alice, req)
			expectKind(t, err, tc.kind)
			if ids := pair.BinIDs(); len(ids) != 0 {
				t.Fatalf("rejected request left bins %v", ids)
			}
		})
	}
}

func TestAddLiquidityRollsBackPartialProgress(t *testing.T) {
	pair, clock := newTestPair(t, nil)
	// The first bin is valid; the second carries Y above the current active id.
	req := LiquidityRequest{
		TokenX:          testTokenX,
		TokenY:          testTokenY,
		BinStep:         100,
		AmountX:         uint256.NewInt(1_000),
		AmountY:         uint256.NewInt(1_000),
		ActiveIDDesired: middleID + 1,
		IDSlippage:      1,
		DeltaIDs:        []int64{-1, 0},
		DistributionX:   []*uint256.Int{new(uint256.Int), oneShare},
		DistributionY:   []*uint256.Int{uint256.NewInt(500_000_000_000_000_000), uint256.NewInt(500_000_000_000_000_000)},
		Deadline:        clock.Unix(),
	}
	_, err := pair.AddLiquidity(alice, req)
	expectKind(t, err, lberr.ErrValidation)
	if ids := pair.BinIDs(); len(ids) != 0 {
		t.Fatalf("partial deposit survived: %v", ids)
	}
	if state := pair.VariableFeeParameters(); state.TimeOfLastUpdate != 0 {
		t.Fatalf("volatility state changed by a failed call: %+v", state)
	}
	balance, err := pair.ledger.BalanceOf(alice, middleID)
	if err != nil || !balance.IsZero() {
		t.Fatalf("shares minted by a failed call: %s %v", balance, err)
	}
}

func TestCompositionFeeOnActiveBin(t *testing.T) {
	pair, clock := newTestPair(t, nil)
	single := func(x, y uint64, distX, distY *uint256.Int) LiquidityRequest {
		return LiquidityRequest{
			TokenX:          testTokenX,
			TokenY:          testTokenY,
			BinStep:         100,
			AmountX:         uint256.NewInt(x),
			AmountY:         uint256.NewInt(y),
			ActiveIDDesired: middleID,
			DeltaIDs:        []int64{0},
			DistributionX:   []*uint256.Int{distX},
			DistributionY:   []*uint256.Int{distY},
			Deadline:        clock.Unix(),
		}
	}
	if _, err := pair.AddLiquidity(alice, single(100_000_000, 100_000_000, oneShare, oneShare)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := pair.AddLiquidity(bob, single(100_000_000, 0, oneShare, new(uint256.Int)))
	if err != nil {
		t.Fatalf("x-only deposit: %v", err)
	}
	expectUint(t, "x added", res.AmountXAdded, 100_000_000)

	protocolX, protocolY := pair.ProtocolFees()
	expectUint(t, "protocol x", protocolX, 26_880)
	expectUint(t, "protocol y", protocolY, 0)

	x, _, _ := pair.BinReserves(middleID)
	expectUint(t, "bin x", x, 199_973_120)
	want := new(uint256.Int).Lsh(uint256.NewInt(99_731_200), 128)
	if !res.Deposits[0].Shares.Eq(want) {
		t.Fatalf("shares net of composition fee: got %s want %s", res.Deposits[0].Shares.Hex(), want.Hex())
	}
}

func TestRemoveLiquidityValidation(t *testing.T) {
	pair, clock := newTestPair(t, nil)
	added := seedSpread(t, pair, clock)
	before, _ := pair.Reserves()

	cases := map[string]struct {
		request func() RemoveLiquidityRequest
		caller  common.Address
		kind    error
	}{
		"not the owner": {func() RemoveLiquidityRequest { return removeAll(clock, added.Deposits) }, bob, lberr.ErrValidation},
		"unknown bin": {func() RemoveLiquidityRequest {
			r := removeAll(clock, added.Deposits[:1])
			r.IDs[0] = middleID + 100
			return r
		}, alice, lberr.ErrValidation},
		"length mismatch": {func() RemoveLiquidityRequest {
			r := removeAll(clock, added.Deposits)
			r.Amounts = r.Amounts[1:]
			return r
		}, alice, lberr.ErrValidation},
		"burn twice": {func() RemoveLiquidityRequest {
			r := removeAll(clock, added.Deposits[:1])
			r.IDs = append(r.IDs, r.IDs[0])
			r.Amounts = append(r.Amounts, r.Amounts[0])
			return r
		}, alice, lberr.ErrValidation},
		"minimum y": {func() RemoveLiquidityRequest {
			r := removeAll(clock, added.Deposits[:1])
			r.AmountYMin = uint256.NewInt(100_000_000)
			return r
		}, alice, lberr.ErrSlippageExceeded},
		"zero shares": {func() RemoveLiquidityRequest {
			r := removeAll(clock, added.Deposits[:1])
			r.Amounts[0] = new(uint256.Int)
			return r
		}, alice, lberr.ErrValidation},
		"deadline": {func() RemoveLiquidityRequest {
			r := removeAll(clock, added.Deposits)
			r.Deadline = clock.Unix() - 1
			return r
		}, alice, lberr.ErrDeadlineExpired},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pair.RemoveLiquidity(tc.caller, tc.request())
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			after, _ := pair.Reserves()
			if !after.Eq(before) {
				t.Fatalf("rejected removal changed reserves: %s -> %s", before, after)
			}
		})
	}
}

func TestPartialRemovalKeepsBin(t *testing.T) {
	pair, clock := newTestPair(t, nil)
	added := seedSpread(t, pair, clock)
	dep := added.Deposits[5]
	half := new(uint256.Int).Rsh(dep.Shares, 1)
	req := removeAll(clock, []BinDeposit{{ID: dep.ID, Shares: half}})
	req.AmountXMin, req.AmountYMin = nil, nil
	res, err := pair.RemoveLiquidity(alice, req)
	if err != nil {
		t.Fatalf("remove half: %v", err)
	}
	expectUint(t, "x out", res.AmountX, 8_333_333)
	b, err := pair.Bin(dep.ID)
	if err != nil || b.TotalSupply.IsZero() {
		t.Fatalf("bin should survive a partial burn: %+v %v", b, err)
	}
	balance, _ := pair.ledger.BalanceOf(alice, dep.ID)
	if !balance.Eq(new(uint256.Int).Sub(dep.Shares, half)) {
		t.Fatalf("unexpected remaining shares %s", balance.Hex())
	}
}
