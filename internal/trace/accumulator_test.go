package trace

import (
	"math/big"
	mrand "math/rand"
	"testing"

	xerrors "Sigha-Chain/internal/errors"
	"Sigha-Chain/internal/holo"
)

// newTestEnv 构建固定种子的 512 位测试环境，折叠阈值 3。
func newTestEnv(t *testing.T, seed int64, opts ...holo.ContextOption) (*holo.Context, *holo.Registry, *Accumulator) {
	t.Helper()
	base := []holo.ContextOption{
		holo.WithRand(mrand.New(mrand.NewSource(seed))),
		holo.WithMaxDepth(3),
	}
	ctx, err := holo.NewContext(512, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	reg := holo.NewRegistry(ctx)
	return ctx, reg, NewAccumulator(ctx, reg)
}

func feed(t *testing.T, acc *Accumulator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := acc.Update(id); err != nil {
			t.Fatalf("Update(%s): %v", id, err)
		}
	}
}

func TestSingleUpdate(t *testing.T) {
	ctx, _, acc := newTestEnv(t, 0)

	if err := acc.Update("alice"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if acc.Depth() != 1 {
		t.Fatalf("depth = %d, want 1", acc.Depth())
	}
	if acc.CurrentT().Cmp(ctx.T0()) == 0 {
		t.Fatal("fingerprint did not move off the seed")
	}
	if !ctx.VerifyInGroup(acc.CurrentT()) {
		t.Fatal("fingerprint left the working group")
	}
	if acc.OpCount() == 0 {
		t.Fatal("op accounting did not record the update")
	}
}

func TestUpdateDeterminism(t *testing.T) {
	_, _, first := newTestEnv(t, 0)
	_, _, second := newTestEnv(t, 0)

	path := []string{"planner", "executor", "critic", "executor", "auditor"}
	feed(t, first, path...)
	feed(t, second, path...)

	if first.CurrentT().Cmp(second.CurrentT()) != 0 {
		t.Fatal("same path produced different fingerprints")
	}
	if first.Depth() != second.Depth() {
		t.Fatalf("depth mismatch: %d != %d", first.Depth(), second.Depth())
	}
	firstChain := first.SnapshotChain()
	secondChain := second.SnapshotChain()
	if len(firstChain) != len(secondChain) {
		t.Fatalf("snapshot count mismatch: %d != %d", len(firstChain), len(secondChain))
	}
	for i := range firstChain {
		if firstChain[i].T.Cmp(secondChain[i].T) != 0 ||
			firstChain[i].Depth != secondChain[i].Depth ||
			firstChain[i].FoldSeed != secondChain[i].FoldSeed {
			t.Fatalf("snapshot %d diverged", i)
		}
	}
}

func TestOrderSensitivity(t *testing.T) {
	_, _, first := newTestEnv(t, 0)
	_, _, second := newTestEnv(t, 0)

	feed(t, first, "alice", "bob")
	feed(t, second, "bob", "alice")

	if first.CurrentT().Cmp(second.CurrentT()) == 0 {
		t.Fatal("reordered path produced the same fingerprint")
	}
}

func TestFoldTrigger(t *testing.T) {
	ctx, _, acc := newTestEnv(t, 0)

	feed(t, acc, "a", "b", "c", "d")

	chain := acc.SnapshotChain()
	if len(chain) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(chain))
	}
	if acc.Depth() != 1 {
		t.Fatalf("depth after fold = %d, want 1", acc.Depth())
	}
	archived := chain[0]
	if archived.Depth != 3 {
		t.Fatalf("archived depth = %d, want 3", archived.Depth)
	}
	if archived.FoldSeed != ctx.FoldSeed(archived.T, archived.Depth) {
		t.Fatal("fold seed does not match the archived state")
	}
	restart, err := ctx.FoldRestart(archived.FoldSeed)
	if err != nil {
		t.Fatalf("FoldRestart: %v", err)
	}
	// 折叠后的链从派生起点继续演化了一步（"d"）。
	if acc.CurrentT().Cmp(restart) == 0 {
		t.Fatal("fingerprint should have moved past the restart point")
	}
}

func TestFingerprintStaysInQuadraticResidues(t *testing.T) {
	ctx, _, acc := newTestEnv(t, 0, holo.WithDebugRetainFactors(true))

	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		feed(t, acc, id)
		ok, err := ctx.IsQuadraticResidue(acc.CurrentT())
		if err != nil {
			t.Fatalf("IsQuadraticResidue: %v", err)
		}
		if !ok {
			t.Fatalf("fingerprint left QR_M after step %d", i+1)
		}
	}
	if len(acc.SnapshotChain()) == 0 {
		t.Fatal("fixture should have folded at least once")
	}
}

func TestUpdateWithCheck(t *testing.T) {
	_, _, checked := newTestEnv(t, 0)
	_, _, plain := newTestEnv(t, 0)

	for _, id := range []string{"alice", "bob"} {
		if err := checked.UpdateWithCheck(id); err != nil {
			t.Fatalf("UpdateWithCheck(%s): %v", id, err)
		}
	}
	feed(t, plain, "alice", "bob")

	if checked.CurrentT().Cmp(plain.CurrentT()) != 0 {
		t.Fatal("checked update diverged from plain update")
	}
}

func TestUpdateRejectsEmptyAgentID(t *testing.T) {
	_, _, acc := newTestEnv(t, 0)
	before := acc.CurrentT()
	if err := acc.Update(""); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("empty id expected InvalidArgument, got %v", err)
	}
	if acc.CurrentT().Cmp(before) != 0 || acc.Depth() != 0 {
		t.Fatal("failed update must not mutate state")
	}
}

func TestSetStateValidation(t *testing.T) {
	ctx, _, acc := newTestEnv(t, 0)

	if err := acc.SetState(ctx.M(), 0, nil); !xerrors.IsCode(err, xerrors.CodeWeakParameters) {
		t.Fatalf("T = M expected WeakParameters, got %v", err)
	}
	if err := acc.SetState(big.NewInt(1), 0, nil); !xerrors.IsCode(err, xerrors.CodeWeakParameters) {
		t.Fatalf("T = 1 expected WeakParameters, got %v", err)
	}
	if err := acc.SetState(ctx.T0(), -1, nil); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("negative depth expected InvalidArgument, got %v", err)
	}

	other := ctx.G()
	if err := acc.SetState(other, 2, nil); err != nil {
		t.Fatalf("valid SetState: %v", err)
	}
	if acc.CurrentT().Cmp(other) != 0 || acc.Depth() != 2 {
		t.Fatal("SetState did not install the new state")
	}
}

func TestSetStateSnapshotsAppendOnly(t *testing.T) {
	_, _, acc := newTestEnv(t, 0)
	feed(t, acc, "a", "b", "c", "d")

	chain := acc.SnapshotChain()
	if len(chain) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(chain))
	}
	current := acc.CurrentT()

	if err := acc.SetState(current, 1, nil); !xerrors.IsCode(err, xerrors.CodeConflict) {
		t.Fatalf("shrinking snapshots expected Conflict, got %v", err)
	}

	tampered := acc.SnapshotChain()
	tampered[0].Depth++
	if err := acc.SetState(current, 1, tampered); !xerrors.IsCode(err, xerrors.CodeConflict) {
		t.Fatalf("rewritten prefix expected Conflict, got %v", err)
	}

	if err := acc.SetState(current, 1, acc.SnapshotChain()); err != nil {
		t.Fatalf("identical chain should be accepted: %v", err)
	}
}

func TestOpLimitExhaustion(t *testing.T) {
	ctx, reg, _ := newTestEnv(t, 0)
	acc := NewAccumulator(ctx, reg, WithOpLimit(3))

	if err := acc.Update("alice"); err != nil {
		t.Fatalf("first update: %v", err)
	}
	before := acc.CurrentT()
	if err := acc.Update("bob"); !xerrors.IsCode(err, xerrors.CodeOpsExhausted) {
		t.Fatalf("expected OpsExhausted, got %v", err)
	}
	if acc.CurrentT().Cmp(before) != 0 || acc.Depth() != 1 {
		t.Fatal("exhausted update must not mutate state")
	}
}
