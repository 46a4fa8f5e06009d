package ethereum

import (
	"context"
	"crypto/sha256"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestAnchorSealOnSimulatedBackend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	chainID := big.NewInt(1337)
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		t.Fatalf("new transactor: %v", err)
	}

	alloc := core.GenesisAlloc{
		auth.From: {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	anchorAddr := common.HexToAddress("0x00000000000000000000000000000000000051bA")
	client := NewSimulatedClient("simulated", chainID, key, anchorAddr, backend)
	t.Cleanup(client.Close)

	digest := sha256.Sum256([]byte("seal anchor"))
	receipt, err := client.AnchorSeal(ctx, "session-1", digest)
	if err != nil {
		t.Fatalf("anchor seal: %v", err)
	}
	if receipt.TxHash == "" {
		t.Fatal("expected a transaction hash")
	}
	if receipt.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", receipt.ChainID)
	}
	backend.Commit()

	txHash := common.HexToHash(receipt.TxHash)
	mined, err := backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		t.Fatalf("fetch receipt: %v", err)
	}
	if mined.Status != 1 {
		t.Fatalf("anchor transaction failed: %+v", mined)
	}

	tx, _, err := backend.TransactionByHash(ctx, txHash)
	if err != nil {
		t.Fatalf("fetch transaction: %v", err)
	}
	if got := tx.Data(); len(got) < sha256.Size || string(got[:sha256.Size]) != string(digest[:]) {
		t.Fatal("anchor digest missing from calldata")
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
}

func TestAnchorSealRequiresKey(t *testing.T) {
	t.Parallel()

	chainID := big.NewInt(1337)
	backend := backends.NewSimulatedBackend(core.GenesisAlloc{}, 8_000_000)
	client := NewSimulatedClient("simulated", chainID, nil, common.Address{}, backend)
	t.Cleanup(client.Close)

	digest := sha256.Sum256([]byte("x"))
	if _, err := client.AnchorSeal(context.Background(), "s", digest); err == nil {
		t.Fatal("expected error without a signing key")
	}
}
