package trace

import (
	"math/big"
	"testing"

	xerrors "Sigha-Chain/internal/errors"
)

func TestVerifyPathRoundTrip(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	path := []string{"alice", "bob"}
	feed(t, acc, path...)

	inspector := NewInspector(ctx, reg)
	ok, reason := inspector.VerifyPath(acc.CurrentT(), path, ctx.T0(), 0)
	if !ok {
		t.Fatalf("valid path rejected: %s", reason)
	}
	if reason != "ok" {
		t.Fatalf("reason = %q, want ok", reason)
	}
}

func TestVerifyPathAcrossFold(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	path := []string{"a", "b", "c", "d"}
	feed(t, acc, path...)
	if len(acc.SnapshotChain()) != 1 {
		t.Fatal("fixture should have folded once")
	}

	// 校验方不知道折叠点，仅靠相同的 max_depth 重放即可对上。
	inspector := NewInspector(ctx, reg)
	ok, reason := inspector.VerifyPath(acc.CurrentT(), path, ctx.T0(), 0)
	if !ok {
		t.Fatalf("folded path rejected: %s", reason)
	}
}

func TestVerifyPathRejectsWrongClaims(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "alice", "bob")
	inspector := NewInspector(ctx, reg)

	if ok, _ := inspector.VerifyPath(acc.CurrentT(), []string{"bob", "alice"}, ctx.T0(), 0); ok {
		t.Fatal("reordered path must not verify")
	}
	if ok, _ := inspector.VerifyPath(acc.CurrentT(), []string{"alice"}, ctx.T0(), 0); ok {
		t.Fatal("truncated path must not verify")
	}
	if ok, _ := inspector.VerifyPath(ctx.T0(), []string{"alice", "bob"}, ctx.T0(), 0); ok {
		t.Fatal("stale fingerprint must not verify")
	}
	if ok, reason := inspector.VerifyPath(acc.CurrentT(), []string{"alice", "bob"}, big.NewInt(0), 0); ok || reason == "" {
		t.Fatal("invalid starting point must be rejected with a reason")
	}
}

func TestSealRoundTrip(t *testing.T) {
	_, _, acc := newTestEnv(t, 0)
	feed(t, acc, "alice", "bob")

	sealer := NewSealer()
	seal, err := sealer.Seal(acc, []byte("hello"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !acc.IsSealed() {
		t.Fatal("accumulator should be sealed")
	}
	if seal.Meta.SessionID == "" || seal.Meta.BitLength != 512 {
		t.Fatalf("meta not populated: %+v", seal.Meta)
	}

	if !sealer.Verify(seal, []byte("hello")) {
		t.Fatal("genuine seal rejected")
	}
	if sealer.Verify(seal, []byte("help!")) {
		t.Fatal("tampered payload accepted")
	}

	tampered := *seal
	tampered.Anchor[0] ^= 1
	if sealer.Verify(&tampered, []byte("hello")) {
		t.Fatal("tampered anchor accepted")
	}
	shifted := *seal
	shifted.T = new(big.Int).Add(seal.T, big.NewInt(1))
	if sealer.Verify(&shifted, []byte("hello")) {
		t.Fatal("tampered fingerprint accepted")
	}
}

func TestSealedAccumulatorIsReadOnly(t *testing.T) {
	_, _, acc := newTestEnv(t, 0)
	feed(t, acc, "alice")

	sealer := NewSealer()
	if _, err := sealer.Seal(acc, []byte("payload")); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := acc.Update("bob"); !xerrors.IsCode(err, xerrors.CodeSealed) {
		t.Fatalf("update on sealed expected Sealed, got %v", err)
	}
	if err := acc.SetState(acc.CurrentT(), 0, acc.SnapshotChain()); !xerrors.IsCode(err, xerrors.CodeSealed) {
		t.Fatalf("SetState on sealed expected Sealed, got %v", err)
	}
	if _, err := sealer.Seal(acc, []byte("again")); !xerrors.IsCode(err, xerrors.CodeSealed) {
		t.Fatalf("double seal expected Sealed, got %v", err)
	}
}
