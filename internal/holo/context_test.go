package holo

import (
	"math/big"
	mrand "math/rand"
	"testing"

	xerrors "Sigha-Chain/internal/errors"
)

// newTestContext 以固定种子构建 512 位测试上下文。
func newTestContext(t *testing.T, seed int64, opts ...ContextOption) *Context {
	t.Helper()
	base := []ContextOption{
		WithRand(mrand.New(mrand.NewSource(seed))),
		WithMaxDepth(3),
	}
	ctx, err := NewContext(512, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func TestNewContextInvariants(t *testing.T) {
	ctx := newTestContext(t, 0)

	m := ctx.M()
	if m.Bit(0) != 1 {
		t.Fatal("modulus must be odd")
	}
	if got := m.BitLen(); got < 511 || got > 512 {
		t.Fatalf("modulus bit length = %d, want ~512", got)
	}
	if !ctx.VerifyInGroup(ctx.G()) {
		t.Fatal("generator outside the working group")
	}
	if !ctx.VerifyInGroup(ctx.T0()) {
		t.Fatal("seed outside the working group")
	}
	if ctx.G().Cmp(ctx.T0()) == 0 {
		t.Fatal("generator and seed should differ")
	}
	if ctx.MaxDepth() != 3 {
		t.Fatalf("max depth = %d, want 3", ctx.MaxDepth())
	}
}

func TestNewContextRejectsWeakParameters(t *testing.T) {
	if _, err := NewContext(128); !xerrors.IsCode(err, xerrors.CodeWeakParameters) {
		t.Fatalf("short modulus expected WeakParameters, got %v", err)
	}
	if _, err := NewContext(511); !xerrors.IsCode(err, xerrors.CodeWeakParameters) {
		t.Fatalf("odd bit length expected WeakParameters, got %v", err)
	}
}

func TestContextDigestStability(t *testing.T) {
	first := newTestContext(t, 0)
	second := newTestContext(t, 0)
	if first.Digest() != second.Digest() {
		t.Fatal("same seed must produce the same digest")
	}
	third := newTestContext(t, 1)
	if first.Digest() == third.Digest() {
		t.Fatal("different parameters must change the digest")
	}
	retained := newTestContext(t, 0, WithDebugRetainFactors(true))
	if first.Digest() == retained.Digest() {
		t.Fatal("retain-factors flag must be visible in the digest")
	}
}

func TestContextQuadraticResidues(t *testing.T) {
	ctx := newTestContext(t, 0, WithDebugRetainFactors(true))
	for _, x := range []*big.Int{ctx.G(), ctx.T0()} {
		ok, err := ctx.IsQuadraticResidue(x)
		if err != nil {
			t.Fatalf("IsQuadraticResidue: %v", err)
		}
		if !ok {
			t.Fatalf("%s should be a quadratic residue", x)
		}
	}

	plain := newTestContext(t, 0)
	if _, err := plain.IsQuadraticResidue(plain.G()); err == nil {
		t.Fatal("expected error without retained factors")
	}
}

func TestVerifyInGroupBoundaries(t *testing.T) {
	ctx := newTestContext(t, 0)
	m := ctx.M()
	bad := []*big.Int{nil, big.NewInt(0), big.NewInt(1), m, new(big.Int).Add(m, big.NewInt(5))}
	for _, x := range bad {
		if ctx.VerifyInGroup(x) {
			t.Fatalf("%v should be rejected", x)
		}
	}
	if !ctx.VerifyInGroup(big.NewInt(4)) {
		t.Fatal("4 should be accepted for an odd composite modulus")
	}
}

func TestHExpDeterministicAndBounded(t *testing.T) {
	ctx := newTestContext(t, 0)
	if ctx.HExp(1).Cmp(ctx.HExp(1)) != 0 {
		t.Fatal("H_exp must be deterministic")
	}
	if ctx.HExp(1).Cmp(ctx.HExp(2)) == 0 {
		t.Fatal("H_exp must separate depths")
	}
	for d := 1; d <= 64; d++ {
		if ctx.HExp(d).Cmp(lambdaBound) >= 0 {
			t.Fatalf("H_exp(%d) escaped the reduction bound", d)
		}
	}
}

func TestNewContextFromValuesRoundTrip(t *testing.T) {
	ctx := newTestContext(t, 0)
	rebuilt, err := NewContextFromValues(ctx.BitLength(), ctx.MaxDepth(), ctx.M(), ctx.G(), ctx.T0())
	if err != nil {
		t.Fatalf("NewContextFromValues: %v", err)
	}
	if rebuilt.Digest() != ctx.Digest() {
		t.Fatal("rebuilt context digest mismatch")
	}

	if _, err := NewContextFromValues(ctx.BitLength(), ctx.MaxDepth(), ctx.M(), big.NewInt(1), ctx.T0()); !xerrors.IsCode(err, xerrors.CodeWeakParameters) {
		t.Fatalf("trivial generator expected WeakParameters, got %v", err)
	}
	if _, err := NewContextFromValues(ctx.BitLength(), ctx.MaxDepth(), ctx.M(), ctx.G(), ctx.M()); !xerrors.IsCode(err, xerrors.CodeWeakParameters) {
		t.Fatalf("seed = M expected WeakParameters, got %v", err)
	}
	if _, err := NewContextFromValues(ctx.BitLength(), 0, ctx.M(), ctx.G(), ctx.T0()); !xerrors.IsCode(err, xerrors.CodeWeakParameters) {
		t.Fatalf("zero max depth expected WeakParameters, got %v", err)
	}
}

func TestFoldSeedAndRestart(t *testing.T) {
	ctx := newTestContext(t, 0)
	seed := ctx.FoldSeed(ctx.T0(), 3)
	if seed != ctx.FoldSeed(ctx.T0(), 3) {
		t.Fatal("fold seed must be deterministic")
	}
	if seed == ctx.FoldSeed(ctx.T0(), 4) {
		t.Fatal("fold seed must bind the depth")
	}
	restart, err := ctx.FoldRestart(seed)
	if err != nil {
		t.Fatalf("FoldRestart: %v", err)
	}
	if !ctx.VerifyInGroup(restart) {
		t.Fatal("restart point left the working group")
	}
}
