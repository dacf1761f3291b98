package fixed

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/lberr"
)

func TestMulDivRounding(t *testing.T) {
	down, err := MulDivRoundDown(uint256.NewInt(10), uint256.NewInt(10), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("mul div: %v", err)
	}
	if down.Uint64() != 33 {
		t.Fatalf("expected 33, got %s", down.Dec())
	}
	up, err := MulDivRoundUp(uint256.NewInt(10), uint256.NewInt(10), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("mul div up: %v", err)
	}
	if up.Uint64() != 34 {
		t.Fatalf("expected 34, got %s", up.Dec())
	}
	exact, err := MulDivRoundUp(uint256.NewInt(9), uint256.NewInt(10), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("mul div exact: %v", err)
	}
	if exact.Uint64() != 30 {
		t.Fatalf("expected 30, got %s", exact.Dec())
	}
}

func TestMulDivWideIntermediate(t *testing.T) {
	// (2^200 * 2^100) / 2^150 needs a 512-bit product.
	x := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	y := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	d := new(uint256.Int).Lsh(uint256.NewInt(1), 150)
	got, err := MulDivRoundDown(x, y, d)
	if err != nil {
		t.Fatalf("wide mul div: %v", err)
	}
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 150)
	if !got.Eq(want) {
		t.Fatalf("expected 2^150, got %s", got.Hex())
	}
}

func TestMulDivOverflowAndZeroDivisor(t *testing.T) {
	if _, err := MulDivRoundDown(Max, Max, uint256.NewInt(1)); !errors.Is(err, lberr.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := MulDivRoundDown(Max, Max, Zero()); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected validation error on zero divisor, got %v", err)
	}
	if _, err := Sub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, lberr.ErrArithmeticOverflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, err := Add(Max, uint256.NewInt(1)); !errors.Is(err, lberr.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestShiftHelpers(t *testing.T) {
	half := new(uint256.Int).Rsh(Scale, 1)
	got, err := MulShiftRoundDown(uint256.NewInt(7), half, ScaleOffset)
	if err != nil {
		t.Fatalf("mul shift: %v", err)
	}
	if got.Uint64() != 3 {
		t.Fatalf("expected 3, got %s", got.Dec())
	}
	up, err := MulShiftRoundUp(uint256.NewInt(7), half, ScaleOffset)
	if err != nil {
		t.Fatalf("mul shift up: %v", err)
	}
	if up.Uint64() != 4 {
		t.Fatalf("expected 4, got %s", up.Dec())
	}
	div, err := ShiftDivRoundDown(uint256.NewInt(7), ScaleOffset, half)
	if err != nil {
		t.Fatalf("shift div: %v", err)
	}
	if div.Uint64() != 14 {
		t.Fatalf("expected 14, got %s", div.Dec())
	}
	if _, err := MulShiftRoundDown(uint256.NewInt(1), uint256.NewInt(1), 256); !errors.Is(err, lberr.ErrArithmeticOverflow) {
		t.Fatalf("expected offset error, got %v", err)
	}
}

func TestPow(t *testing.T) {
	two := new(uint256.Int).Lsh(Scale, 1)
	got, err := Pow(two, 0)
	if err != nil || !got.Eq(Scale) {
		t.Fatalf("x^0 should be 1.0, got %v %v", got, err)
	}

	// Both signs go through the inverted base and lose only the last bits.
	got, err = Pow(two, -3)
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	assertClose(t, got, new(uint256.Int).Rsh(Scale, 3))

	got, err = Pow(two, 3)
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	assertClose(t, got, new(uint256.Int).Lsh(Scale, 3))

	if _, err := Pow(two, maxPowExponent); !errors.Is(err, lberr.ErrArithmeticOverflow) {
		t.Fatalf("expected exponent bound error, got %v", err)
	}
	if _, err := Pow(two, -300); !errors.Is(err, lberr.ErrArithmeticOverflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("amount", " 100000000 ")
	if err != nil || v.Uint64() != 100_000_000 {
		t.Fatalf("parse: %v %v", v, err)
	}
	if v, err := ParseAmount("amount", ""); err != nil || !v.IsZero() {
		t.Fatalf("empty should parse as zero: %v %v", v, err)
	}
	if _, err := ParseAmount("amount", "-1"); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := ParseAmount("amount", Scale.Dec()); !errors.Is(err, lberr.ErrValidation) {
		t.Fatalf("expected 128-bit bound error, got %v", err)
	}
}

func TestParseSharesAllowsWideValues(t *testing.T) {
	wide := new(uint256.Int).Lsh(uint256.NewInt(5), 150)
	v, err := ParseShares("shares", wide.Dec())
	if err != nil || !v.Eq(wide) {
		t.Fatalf("parse: %v %v", v, err)
	}
	if err := CheckShares("shares", wide); err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := ParseShares("shares", bad); !errors.Is(err, lberr.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", bad, err)
		}
	}
}

func assertClose(t *testing.T, got, want *uint256.Int) {
	t.Helper()
	diff := new(uint256.Int)
	if got.Gt(want) {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	if diff.Gt(uint256.NewInt(1 << 10)) {
		t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
	}
}
