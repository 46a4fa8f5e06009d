package holo

import (
	"sync"
	"testing"

	xerrors "Sigha-Chain/internal/errors"
)

func TestRegistryRegisterIdempotent(t *testing.T) {
	reg := NewRegistry(newTestContext(t, 0))
	first, err := reg.Register("alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := reg.Register("alice")
	if err != nil {
		t.Fatalf("Register repeat: %v", err)
	}
	if first.Cmp(second) != 0 {
		t.Fatal("repeated registration changed the prime")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}

	// 返回值是副本，调用方改写不得污染缓存。
	first.SetInt64(0)
	third, err := reg.Register("alice")
	if err != nil {
		t.Fatalf("Register after mutation: %v", err)
	}
	if third.Cmp(second) != 0 {
		t.Fatal("cache was mutated through a returned value")
	}
}

func TestRegistryConcurrentRegisterConverges(t *testing.T) {
	reg := NewRegistry(newTestContext(t, 0))

	const workers = 16
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			prime, err := reg.Register("shared-agent")
			if err != nil {
				t.Errorf("worker %d: %v", slot, err)
				return
			}
			results[slot] = prime.String()
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d diverged: %s != %s", i, results[i], results[0])
		}
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(newTestContext(t, 0))
	if _, err := reg.Get("ghost"); !xerrors.IsCode(err, xerrors.CodeNotRegistered) {
		t.Fatalf("unknown id expected NotRegistered, got %v", err)
	}
	registered, err := reg.Register("alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := reg.Get("alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Cmp(registered) != 0 {
		t.Fatal("Get returned a different prime")
	}
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	reg := NewRegistry(newTestContext(t, 0))
	if _, err := reg.Register(""); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("empty id expected InvalidArgument, got %v", err)
	}
	if _, err := reg.Get(""); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("empty id expected InvalidArgument, got %v", err)
	}
}

func TestRegistryIterAndDigest(t *testing.T) {
	reg := NewRegistry(newTestContext(t, 0))
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if _, err := reg.Register(id); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	entries := reg.Iter()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].ID >= entries[i].ID {
			t.Fatalf("iter not sorted: %s >= %s", entries[i-1].ID, entries[i].ID)
		}
	}

	other := NewRegistry(newTestContext(t, 0))
	for _, id := range []string{"mid", "zeta", "alpha"} {
		if _, err := other.Register(id); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	if reg.Digest() != other.Digest() {
		t.Fatal("digest must not depend on insertion order")
	}

	if _, err := other.Register("extra"); err != nil {
		t.Fatalf("Register(extra): %v", err)
	}
	if reg.Digest() == other.Digest() {
		t.Fatal("digest must change when the mapping grows")
	}
}
