package bins

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

const maxID = 1<<24 - 1

func TestTreeFindsNeighbours(t *testing.T) {
	tree := NewTree()
	for _, id := range []uint32{5, 300, 70_000, 1 << 23} {
		tree.Add(id)
	}
	walkDown := []uint32{}
	for id, ok := uint32(1<<23), true; ok; {
		id, ok = tree.FindFirstRight(id)
		if ok {
			walkDown = append(walkDown, id)
		}
	}
	if !slices.Equal(walkDown, []uint32{70_000, 300, 5}) {
		t.Fatalf("unexpected downward walk %v", walkDown)
	}
	walkUp := []uint32{}
	for id, ok := uint32(5), true; ok; {
		id, ok = tree.FindFirstLeft(id)
		if ok {
			walkUp = append(walkUp, id)
		}
	}
	if !slices.Equal(walkUp, []uint32{300, 70_000, 1 << 23}) {
		t.Fatalf("unexpected upward walk %v", walkUp)
	}

	tree.Remove(300)
	if next, ok := tree.FindFirstLeft(5); !ok || next != 70_000 {
		t.Fatalf("removed id still reachable: %d %v", next, ok)
	}
	if tree.Contains(300) {
		t.Fatalf("contains removed id")
	}
}

func TestTreeBoundaries(t *testing.T) {
	tree := NewTree()
	for _, id := range []uint32{0, 255, 256, maxID} {
		tree.Add(id)
	}
	if got, ok := tree.FindFirstLeft(255); !ok || got != 256 {
		t.Fatalf("expected 256, got %d %v", got, ok)
	}
	if got, ok := tree.FindFirstRight(256); !ok || got != 255 {
		t.Fatalf("expected 255, got %d %v", got, ok)
	}
	if got, ok := tree.FindFirstRight(1); !ok || got != 0 {
		t.Fatalf("expected 0, got %d %v", got, ok)
	}
	if got, ok := tree.FindFirstLeft(maxID - 1); !ok || got != maxID {
		t.Fatalf("expected max id, got %d %v", got, ok)
	}
	if _, ok := tree.FindFirstLeft(maxID); ok {
		t.Fatalf("nothing lies above the max id")
	}
	if _, ok := tree.FindFirstRight(0); ok {
		t.Fatalf("nothing lies below id 0")
	}
}

func TestTreeMatchesSortedScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := NewTree()
	set := map[uint32]bool{}
	for i := 0; i < 300; i++ {
		id := uint32(rng.Intn(maxID + 1))
		if i%3 == 0 {
			id = 1<<23 + uint32(rng.Intn(2_000)) - 1_000
		}
		tree.Add(id)
		set[id] = true
	}
	for i := 0; i < 60; i++ {
		for id := range set {
			tree.Remove(id)
			delete(set, id)
			break
		}
	}
	sorted := make([]uint32, 0, len(set))
	for id := range set {
		sorted = append(sorted, id)
	}
	slices.Sort(sorted)

	for i := 0; i < 500; i++ {
		query := uint32(rng.Intn(maxID + 1))
		pos, _ := slices.BinarySearch(sorted, query)
		wantRight, okRight := uint32(0), pos > 0
		if okRight {
			wantRight = sorted[pos-1]
		}
		if got, ok := tree.FindFirstRight(query); ok != okRight || got != wantRight {
			t.Fatalf("right of %d: got %d %v want %d %v", query, got, ok, wantRight, okRight)
		}
		after := pos
		if after < len(sorted) && sorted[after] == query {
			after++
		}
		wantLeft, okLeft := uint32(0), after < len(sorted)
		if okLeft {
			wantLeft = sorted[after]
		}
		if got, ok := tree.FindFirstLeft(query); ok != okLeft || got != wantLeft {
			t.Fatalf("left of %d: got %d %v want %d %v", query, got, ok, wantLeft, okLeft)
		}
	}
}

func TestStorePutDeletesEmptySupply(t *testing.T) {
	s := NewStore()
	b := Bin{}
	b.ReserveX.SetUint64(10)
	b.TotalSupply.SetUint64(10)
	s.Put(42, b)
	clone := s.Clone()

	s.Put(42, Bin{})
	if _, ok := s.Get(42); ok || s.Len() != 0 {
		t.Fatalf("bin with zero supply should be removed")
	}
	if _, ok := s.Next(100, true); ok {
		t.Fatalf("tree still references the removed bin")
	}
	if got, ok := clone.Get(42); !ok || got.ReserveX.Uint64() != 10 {
		t.Fatalf("clone lost the bin: %+v %v", got, ok)
	}
	if next, ok := clone.Next(100, true); !ok || next != 42 {
		t.Fatalf("clone tree lost the bin: %d %v", next, ok)
	}
}

func TestLiquidity(t *testing.T) {
	liq, err := Liquidity(uint256.NewInt(3), uint256.NewInt(2), fixed.Scale)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	want := new(uint256.Int).Lsh(uint256.NewInt(5), 128)
	if !liq.Eq(want) {
		t.Fatalf("expected 5<<128, got %s", liq.Hex())
	}
	if _, err := Liquidity(fixed.Max, uint256.NewInt(0), fixed.Scale); !errors.Is(err, lberr.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestSharesForFirstAndSecondDeposit(t *testing.T) {
	shares, x, y, err := SharesAndEffectiveAmountsIn(Bin{}, uint256.NewInt(100), uint256.NewInt(0), fixed.Scale)
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	want := new(uint256.Int).Lsh(uint256.NewInt(100), 128)
	if !shares.Eq(want) || x.Uint64() != 100 || !y.IsZero() {
		t.Fatalf("unexpected first deposit %s %s %s", shares.Hex(), x, y)
	}

	b := Bin{}
	b.ReserveX.SetUint64(100)
	b.TotalSupply.Set(shares)
	again, x, y, err := SharesAndEffectiveAmountsIn(b, uint256.NewInt(100), uint256.NewInt(0), fixed.Scale)
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	if !again.Eq(shares) || x.Uint64() != 100 || !y.IsZero() {
		t.Fatalf("equal deposit should mint equal shares, got %s", again.Hex())
	}
}

func TestAmountsOut(t *testing.T) {
	b := Bin{}
	b.ReserveX.SetUint64(100)
	b.ReserveY.SetUint64(50)
	b.TotalSupply.SetUint64(10)
	x, y, err := AmountsOut(b, uint256.NewInt(3))
	if err != nil || x.Uint64() != 30 || y.Uint64() != 15 {
		t.Fatalf("unexpected burn output %v %v %v", x, y, err)
	}
	if _, _, err := AmountsOut(Bin{}, uint256.NewInt(1)); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func onePercentParams() fees.Parameters {
	return fees.Parameters{Static: fees.StaticFeeParameters{BaseFactor: 10_000}}
}

func TestCompositionFee(t *testing.T) {
	b := Bin{}
	b.ReserveX.SetUint64(100_000_000)
	b.ReserveY.SetUint64(100_000_000)
	b.TotalSupply.Lsh(uint256.NewInt(200_000_000), 128)
	shares, x, y, err := SharesAndEffectiveAmountsIn(b, uint256.NewInt(100_000_000), uint256.NewInt(0), fixed.Scale)
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	feeX, feeY, err := CompositionFees(b, onePercentParams(), 100, x, y, shares)
	if err != nil {
		t.Fatalf("composition: %v", err)
	}
	if feeX.Uint64() != 336_666 || !feeY.IsZero() {
		t.Fatalf("unexpected composition fees x=%s y=%s", feeX, feeY)
	}
}

func TestSwapAmounts(t *testing.T) {
	b := Bin{}
	b.ReserveY.SetUint64(1_000)
	b.TotalSupply.SetUint64(1)

	step, err := SwapAmounts(b, fees.Parameters{}, 100, true, uint256.NewInt(400), fixed.Scale)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if step.AmountOut.Uint64() != 400 || !step.Fee.IsZero() {
		t.Fatalf("fee-free swap at 1.0 should be 1:1, got %+v", step)
	}

	step, err = SwapAmounts(b, onePercentParams(), 100, true, uint256.NewInt(1_000), fixed.Scale)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if step.Fee.Uint64() != 10 || step.AmountOut.Uint64() != 990 || step.AmountInWithFees.Uint64() != 1_000 {
		t.Fatalf("unexpected partial step %+v", step)
	}

	step, err = SwapAmounts(b, onePercentParams(), 100, true, uint256.NewInt(5_000), fixed.Scale)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if step.AmountOut.Uint64() != 1_000 || step.Fee.Uint64() != 11 || step.AmountInWithFees.Uint64() != 1_011 {
		t.Fatalf("unexpected draining step %+v", step)
	}
}

func TestVerifyAmounts(t *testing.T) {
	one := uint256.NewInt(1)
	zero := uint256.NewInt(0)
	if err := VerifyAmounts(10, 9, one, zero); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("X below active must fail, got %v", err)
	}
	if err := VerifyAmounts(10, 11, zero, one); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("Y above active must fail, got %v", err)
	}
	if err := VerifyAmounts(10, 10, one, one); err != nil {
		t.Fatalf("active bin takes both: %v", err)
	}
}
