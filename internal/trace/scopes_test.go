package trace

import (
	"sync"
	"testing"
)

func TestParallelMergeCommutativity(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "root")

	orders := [][]string{
		{"x", "y", "z"},
		{"z", "y", "x"},
		{"y", "x", "z"},
	}
	var results []string
	for _, order := range orders {
		scope, err := NewParallelScope(ctx, reg, acc.CurrentT(), acc.Depth())
		if err != nil {
			t.Fatalf("NewParallelScope: %v", err)
		}
		for _, id := range order {
			if err := scope.AddBranch(id); err != nil {
				t.Fatalf("AddBranch(%s): %v", id, err)
			}
		}
		merged, depth, err := scope.Merge()
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if depth != acc.Depth()+1 {
			t.Fatalf("merged depth = %d, want %d", depth, acc.Depth()+1)
		}
		results = append(results, merged.String())
	}
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("branch order %d changed the merge result", i)
		}
	}
}

func TestParallelMergeFormsAgree(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "root")

	scope, err := NewParallelScope(ctx, reg, acc.CurrentT(), acc.Depth())
	if err != nil {
		t.Fatalf("NewParallelScope: %v", err)
	}
	for _, id := range []string{"x", "y", "z", "w"} {
		if err := scope.AddBranch(id); err != nil {
			t.Fatalf("AddBranch(%s): %v", id, err)
		}
	}

	closedForm, closedDepth, err := scope.Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	product, productDepth, err := scope.mergeProduct()
	if err != nil {
		t.Fatalf("mergeProduct: %v", err)
	}
	if closedForm.Cmp(product) != 0 {
		t.Fatalf("merge forms disagree: %s != %s", closedForm, product)
	}
	if closedDepth != productDepth {
		t.Fatalf("merge depths disagree: %d != %d", closedDepth, productDepth)
	}
}

func TestParallelScopeConcurrentBranches(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "root")

	ids := []string{"b0", "b1", "b2", "b3", "b4", "b5", "b6", "b7"}

	sequential, err := NewParallelScope(ctx, reg, acc.CurrentT(), acc.Depth())
	if err != nil {
		t.Fatalf("NewParallelScope: %v", err)
	}
	for _, id := range ids {
		if err := sequential.AddBranch(id); err != nil {
			t.Fatalf("AddBranch(%s): %v", id, err)
		}
	}
	wantT, wantDepth, err := sequential.Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	concurrent, err := NewParallelScope(ctx, reg, acc.CurrentT(), acc.Depth())
	if err != nil {
		t.Fatalf("NewParallelScope: %v", err)
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			if err := concurrent.AddBranch(agentID); err != nil {
				t.Errorf("AddBranch(%s): %v", agentID, err)
			}
		}(id)
	}
	wg.Wait()
	if concurrent.BranchCount() != len(ids) {
		t.Fatalf("branch count = %d, want %d", concurrent.BranchCount(), len(ids))
	}
	gotT, gotDepth, err := concurrent.Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if gotT.Cmp(wantT) != 0 || gotDepth != wantDepth {
		t.Fatal("concurrent branch insertion changed the merge result")
	}
}

func TestParallelMergeEmpty(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "root")

	scope, err := NewParallelScope(ctx, reg, acc.CurrentT(), acc.Depth())
	if err != nil {
		t.Fatalf("NewParallelScope: %v", err)
	}
	merged, depth, err := scope.Merge()
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Cmp(acc.CurrentT()) != 0 || depth != acc.Depth() {
		t.Fatal("empty merge must return the base state unchanged")
	}
}

func TestComputeBranchMatchesUpdate(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)

	prime, err := reg.Register("solo")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	branch, err := ComputeBranch(ctx, acc.CurrentT(), acc.Depth(), prime)
	if err != nil {
		t.Fatalf("ComputeBranch: %v", err)
	}
	feed(t, acc, "solo")
	if branch.Cmp(acc.CurrentT()) != 0 {
		t.Fatal("single branch must equal a single update from the same base")
	}
}

func TestSwarmScopeOrdering(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "root")

	first, err := EnterSwarm(ctx, reg, "swarm", acc.CurrentT(), acc.Depth())
	if err != nil {
		t.Fatalf("EnterSwarm: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := first.Record(id); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	second, err := EnterSwarm(ctx, reg, "swarm", acc.CurrentT(), acc.Depth())
	if err != nil {
		t.Fatalf("EnterSwarm: %v", err)
	}
	for _, id := range []string{"b", "a"} {
		if err := second.Record(id); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	firstT, firstDepth := first.Commit()
	secondT, secondDepth := second.Commit()
	if firstDepth != secondDepth {
		t.Fatalf("depth mismatch: %d != %d", firstDepth, secondDepth)
	}
	if firstT.Cmp(secondT) == 0 {
		t.Fatal("swarm updates must be order sensitive")
	}
}

func TestSwarmScopeCommitInstallsIntoParent(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "root")

	parentT := acc.CurrentT()
	parentDepth := acc.Depth()

	scope, err := EnterSwarm(ctx, reg, "research-swarm", parentT, parentDepth)
	if err != nil {
		t.Fatalf("EnterSwarm: %v", err)
	}
	for _, id := range []string{"searcher", "summarizer"} {
		if err := scope.Record(id); err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	// 作用域从不回写父累加器。
	if acc.CurrentT().Cmp(parentT) != 0 || acc.Depth() != parentDepth {
		t.Fatal("scope mutated the parent accumulator")
	}

	committedT, committedDepth := scope.Commit()
	if err := acc.SetState(committedT, committedDepth, acc.SnapshotChain()); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if acc.CurrentT().Cmp(committedT) != 0 || acc.Depth() != committedDepth {
		t.Fatal("committed state was not installed")
	}
	if scope.Steps() != 2 {
		t.Fatalf("steps = %d, want 2", scope.Steps())
	}
}

func TestSwarmExportProofDeterministic(t *testing.T) {
	ctx, reg, acc := newTestEnv(t, 0)
	feed(t, acc, "root")

	build := func() SwarmProof {
		scope, err := EnterSwarm(ctx, reg, "swarm", acc.CurrentT(), acc.Depth())
		if err != nil {
			t.Fatalf("EnterSwarm: %v", err)
		}
		for _, id := range []string{"a", "b", "c"} {
			if err := scope.Record(id); err != nil {
				t.Fatalf("Record(%s): %v", id, err)
			}
		}
		return scope.ExportProof()
	}

	first := build()
	second := build()
	if first.WorkProof != second.WorkProof {
		t.Fatal("work proof must be deterministic")
	}
	if first.SwarmPrime.Cmp(second.SwarmPrime) != 0 {
		t.Fatal("swarm prime must be stable")
	}
	if first.Complexity != 3 {
		t.Fatalf("complexity = %d, want 3", first.Complexity)
	}
}
