package holo

import (
	"math/big"
	mrand "math/rand"
	"testing"

	xerrors "Sigha-Chain/internal/errors"
)

func TestIsProbablePrimeKnownValues(t *testing.T) {
	primes := []string{
		"2", "3", "5", "17", "1619", "7919",
		"170141183460469231731687303715884105727", // 2^127 - 1
	}
	for _, raw := range primes {
		n, _ := new(big.Int).SetString(raw, 10)
		if !IsProbablePrime(n, DefaultMRRounds) {
			t.Fatalf("%s should be prime", raw)
		}
	}
	composites := []string{
		"0", "1", "4", "9", "561", "1729", // Carmichael 数也必须被识破
		"340282366920938463463374607431768211456", // 2^128
	}
	for _, raw := range composites {
		n, _ := new(big.Int).SetString(raw, 10)
		if IsProbablePrime(n, DefaultMRRounds) {
			t.Fatalf("%s should be composite", raw)
		}
	}
}

func TestIsProbablePrimeAgreesWithStdlib(t *testing.T) {
	rng := mrand.New(mrand.NewSource(3))
	for i := 0; i < 200; i++ {
		n := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 96))
		if n.Cmp(big.NewInt(2)) < 0 {
			continue
		}
		got := IsProbablePrime(n, DefaultMRRounds)
		want := n.ProbablyPrime(40)
		if got != want {
			t.Fatalf("disagreement on %s: got %v, want %v", n, got, want)
		}
	}
}

func TestGeneratePrime(t *testing.T) {
	rng := mrand.New(mrand.NewSource(0))
	prime, err := GeneratePrime(rng, 128, DefaultMRRounds)
	if err != nil {
		t.Fatalf("GeneratePrime: %v", err)
	}
	if prime.BitLen() != 128 {
		t.Fatalf("bit length = %d, want 128", prime.BitLen())
	}
	if prime.Bit(0) != 1 {
		t.Fatal("generated prime must be odd")
	}
	if !prime.ProbablyPrime(40) {
		t.Fatalf("%s failed independent primality check", prime)
	}
	if _, err := GeneratePrime(rng, 1, DefaultMRRounds); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("tiny bit length expected InvalidArgument, got %v", err)
	}
}

func TestGenerateSafePrime(t *testing.T) {
	rng := mrand.New(mrand.NewSource(0))
	p, err := GenerateSafePrime(rng, 64, DefaultMRRounds)
	if err != nil {
		t.Fatalf("GenerateSafePrime: %v", err)
	}
	if !p.ProbablyPrime(40) {
		t.Fatalf("%s is not prime", p)
	}
	q := new(big.Int).Sub(p, big.NewInt(1))
	q.Rsh(q, 1)
	if !q.ProbablyPrime(40) {
		t.Fatalf("(p-1)/2 = %s is not prime", q)
	}
}

func TestHashToPrimeDeterministic(t *testing.T) {
	first, err := HashToPrime([]byte("alice"), 256, DefaultMRRounds)
	if err != nil {
		t.Fatalf("HashToPrime: %v", err)
	}
	second, err := HashToPrime([]byte("alice"), 256, DefaultMRRounds)
	if err != nil {
		t.Fatalf("HashToPrime repeat: %v", err)
	}
	if first.Cmp(second) != 0 {
		t.Fatalf("determinism violated: %s != %s", first, second)
	}
	if first.BitLen() != 256 || first.Bit(0) != 1 {
		t.Fatalf("prime shape wrong: bits=%d odd=%v", first.BitLen(), first.Bit(0) == 1)
	}
	if !first.ProbablyPrime(40) {
		t.Fatalf("%s failed independent primality check", first)
	}

	other, err := HashToPrime([]byte("bob"), 256, DefaultMRRounds)
	if err != nil {
		t.Fatalf("HashToPrime(bob): %v", err)
	}
	if other.Cmp(first) == 0 {
		t.Fatal("distinct identities mapped to the same prime")
	}
}

func TestHashToPrimeDistinctness(t *testing.T) {
	ids := []string{"planner", "executor", "critic", "router", "scribe", "auditor"}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		prime, err := HashToPrime([]byte(id), 128, DefaultMRRounds)
		if err != nil {
			t.Fatalf("HashToPrime(%s): %v", id, err)
		}
		key := prime.String()
		if prior, ok := seen[key]; ok {
			t.Fatalf("collision between %s and %s", prior, id)
		}
		seen[key] = id
	}
}

func TestHashToPrimeRejectsEmptyID(t *testing.T) {
	if _, err := HashToPrime(nil, 128, DefaultMRRounds); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("empty id expected InvalidArgument, got %v", err)
	}
}
