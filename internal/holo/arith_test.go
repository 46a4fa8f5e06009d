package holo

import (
	"math/big"
	mrand "math/rand"
	"testing"

	xerrors "Sigha-Chain/internal/errors"
)

func TestParseDecimalCanonical(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0", want: "0"},
		{in: "1", want: "1"},
		{in: "98765432109876543210", want: "98765432109876543210"},
		{in: "0xff", want: "255"},
		{in: "0X10", want: "16"},
		{in: "", wantErr: true},
		{in: "007", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "12a", wantErr: true},
		{in: "0x", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseDecimal(%q) expected error, got %v", tc.in, got)
			}
			if !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
				t.Fatalf("ParseDecimal(%q) unexpected code: %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", tc.in, err)
		}
		if FormatDecimal(got) != tc.want {
			t.Fatalf("ParseDecimal(%q) = %s, want %s", tc.in, FormatDecimal(got), tc.want)
		}
	}
}

func TestFormatDecimalRoundTrip(t *testing.T) {
	rng := mrand.New(mrand.NewSource(7))
	for i := 0; i < 50; i++ {
		original := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 512))
		parsed, err := ParseDecimal(FormatDecimal(original))
		if err != nil {
			t.Fatalf("round trip parse: %v", err)
		}
		if parsed.Cmp(original) != 0 {
			t.Fatalf("round trip mismatch: %s != %s", parsed, original)
		}
	}
}

func TestPowModMatchesStdlib(t *testing.T) {
	rng := mrand.New(mrand.NewSource(11))
	bound := new(big.Int).Lsh(big.NewInt(1), 384)
	for i := 0; i < 40; i++ {
		base := new(big.Int).Rand(rng, bound)
		exp := new(big.Int).Rand(rng, bound)
		m := new(big.Int).Rand(rng, bound)
		if m.Sign() == 0 {
			m.SetInt64(97)
		}
		got, err := PowMod(base, exp, m)
		if err != nil {
			t.Fatalf("PowMod: %v", err)
		}
		want := new(big.Int).Exp(base, exp, m)
		if got.Cmp(want) != 0 {
			t.Fatalf("PowMod(%s, %s, %s) = %s, want %s", base, exp, m, got, want)
		}
	}
}

func TestPowModEdgeCases(t *testing.T) {
	one := big.NewInt(1)
	if _, err := PowMod(one, one, big.NewInt(0)); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("zero modulus expected InvalidArgument, got %v", err)
	}
	if _, err := PowMod(one, one, big.NewInt(-3)); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("negative modulus expected InvalidArgument, got %v", err)
	}
	if _, err := PowMod(one, big.NewInt(-1), big.NewInt(5)); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("negative exponent expected InvalidArgument, got %v", err)
	}
	got, err := PowMod(big.NewInt(12345), big.NewInt(0), big.NewInt(7))
	if err != nil || got.Cmp(one) != 0 {
		t.Fatalf("x^0 mod 7 = %v (%v), want 1", got, err)
	}
	got, err = PowMod(big.NewInt(12345), big.NewInt(99), one)
	if err != nil || got.Sign() != 0 {
		t.Fatalf("x^e mod 1 = %v (%v), want 0", got, err)
	}
}

func TestModInverse(t *testing.T) {
	m := big.NewInt(101 * 103)
	a := big.NewInt(17)
	inv, err := ModInverse(a, m)
	if err != nil {
		t.Fatalf("ModInverse: %v", err)
	}
	product := new(big.Int).Mul(a, inv)
	product.Mod(product, m)
	if product.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("a*inv mod m = %s, want 1", product)
	}
	if _, err := ModInverse(big.NewInt(101), m); err == nil {
		t.Fatal("expected error for non-coprime element")
	}
}

func TestRandBelow(t *testing.T) {
	rng := mrand.New(mrand.NewSource(0))
	n := new(big.Int).Lsh(big.NewInt(1), 130)
	for i := 0; i < 100; i++ {
		sample, err := RandBelow(rng, n)
		if err != nil {
			t.Fatalf("RandBelow: %v", err)
		}
		if sample.Sign() < 0 || sample.Cmp(n) >= 0 {
			t.Fatalf("sample %s outside [0, n)", sample)
		}
	}
	if _, err := RandBelow(rng, big.NewInt(0)); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("zero bound expected InvalidArgument, got %v", err)
	}
}
