package pricing

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

func TestPriceAtMiddleBinIsOne(t *testing.T) {
	price, err := PriceFromID(RealIDShift, 100)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Eq(fixed.Scale) {
		t.Fatalf("expected 1.0, got %s", price.Hex())
	}
	rendered, err := Render(price)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !rendered.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1, got %s", rendered)
	}
}

func TestPriceOneStepAbove(t *testing.T) {
	price, err := PriceFromID(RealIDShift+1, 100)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	rendered, err := Render(price)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := decimal.RequireFromString("1.01")
	if rendered.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.000000000001")) {
		t.Fatalf("expected ~1.01, got %s", rendered)
	}

	below, err := PriceFromID(RealIDShift-1, 100)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	renderedBelow, _ := Render(below)
	wantBelow := decimal.NewFromInt(1).Div(want)
	if renderedBelow.Sub(wantBelow).Abs().GreaterThan(decimal.RequireFromString("0.000000000001")) {
		t.Fatalf("expected ~%s, got %s", wantBelow, renderedBelow)
	}
}

func TestIDFromPriceRoundTrip(t *testing.T) {
	cases := []struct {
		binStep uint16
		offsets []int64
	}{
		{binStep: 1, offsets: []int64{0, 1, -1, 17, -17, 5_000, -5_000, 400_000, -400_000}},
		{binStep: 25, offsets: []int64{0, 1, -1, 250, -250, 15_000, -15_000}},
		{binStep: 100, offsets: []int64{0, 1, -1, 5, -5, 1_000, -1_000, 4_000, -4_000}},
	}
	for _, tc := range cases {
		for _, offset := range tc.offsets {
			id := uint32(RealIDShift + offset)
			price, err := PriceFromID(id, tc.binStep)
			if err != nil {
				t.Fatalf("step %d id %d: %v", tc.binStep, id, err)
			}
			got, err := IDFromPrice(price, tc.binStep)
			if err != nil {
				t.Fatalf("step %d id %d inverse: %v", tc.binStep, id, err)
			}
			if got != id {
				t.Fatalf("step %d: round trip of %d returned %d", tc.binStep, id, got)
			}
		}
	}
}

func TestIDFromPriceRoundsDown(t *testing.T) {
	lower, _ := PriceFromID(RealIDShift+3, 100)
	upper, _ := PriceFromID(RealIDShift+4, 100)
	mid := new(uint256.Int).Add(lower, upper)
	mid.Rsh(mid, 1)
	got, err := IDFromPrice(mid, 100)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	if got != RealIDShift+3 {
		t.Fatalf("expected %d, got %d", RealIDShift+3, got)
	}
	justBelow := new(uint256.Int).Sub(upper, uint256.NewInt(1))
	if got, _ := IDFromPrice(justBelow, 100); got != RealIDShift+3 {
		t.Fatalf("price just under bin %d should map to %d, got %d", RealIDShift+4, RealIDShift+3, got)
	}
}

func TestParseDecimalPrice(t *testing.T) {
	price, err := Parse("1.0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id, err := IDFromPrice(price, 100)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	// 10^18 / 10^18 converts to exactly 1.0 in 128.128.
	if id != RealIDShift {
		t.Fatalf("expected middle bin, got %d", id)
	}
	if _, err := Parse("-2"); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPriceValidation(t *testing.T) {
	if _, err := PriceFromID(MaxID+1, 100); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected id range error, got %v", err)
	}
	if _, err := PriceFromID(RealIDShift, 0); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected bin step error, got %v", err)
	}
	if _, err := PriceFromID(0, 100); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected unrepresentable price error, got %v", err)
	}
	if _, err := IDFromPrice(uint256.NewInt(1), 100); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected minimum price error, got %v", err)
	}
	if _, err := IDFromPrice(nil, 100); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected zero price error, got %v", err)
	}
}

func TestIDFromPriceRejectsAboveMaximum(t *testing.T) {
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 230)
	if id, err := IDFromPrice(huge, 100); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected maximum price error, got id %d err %v", id, err)
	}
	over := new(uint256.Int).AddUint64(MaxPrice, 1)
	if _, err := IDFromPrice(over, 100); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected maximum price error just above the bound, got %v", err)
	}
	id, err := IDFromPrice(MaxPrice, 100)
	if err != nil {
		t.Fatalf("maximum price should resolve: %v", err)
	}
	top, err := PriceFromID(id, 100)
	if err != nil || top.Gt(MaxPrice) {
		t.Fatalf("bin %d at the top of the ladder: %v %v", id, top, err)
	}
	if _, err := PriceFromID(id+1, 100); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("bin above %d should be unrepresentable, got %v", id, err)
	}
}
