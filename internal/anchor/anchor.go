package anchor

import (
	"context"
	"crypto/sha256"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Receipt captures the outcome of an anchoring submission.
type Receipt struct {
	TxHash  string
	ChainID string
}

// Client defines the common interface that any chain implementation must
// provide so the session layer can anchor seal digests uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	AnchorSeal(ctx context.Context, sessionID string, anchor [sha256.Size]byte) (Receipt, error)
	Close()
}
