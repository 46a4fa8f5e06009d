package session

import (
	"context"

	xerrors "Sigha-Chain/internal/errors"
)

// SealRecord 是一次封印的落库结构，大整数一律为十进制字符串，
// 摘要一律为十六进制字符串。
type SealRecord struct {
	SessionID     string `json:"session_id"`
	BitLength     int    `json:"bit_length"`
	ContextDigest string `json:"context_digest"`
	T             string `json:"t"`
	Depth         int    `json:"depth"`
	SnapshotCount int    `json:"snapshot_count"`
	PayloadDigest string `json:"payload_digest"`
	Anchor        string `json:"anchor"`
	AnchorTx      string `json:"anchor_tx,omitempty"`
	Blob          []byte `json:"blob"`
	CreatedAt     int64  `json:"created_at"`
}

// FoldEvent 描述一次快照折叠，发布给下游审计消费者。
type FoldEvent struct {
	SessionID  string `json:"session_id"`
	Segment    int    `json:"segment"`
	T          string `json:"t"`
	Depth      int    `json:"depth"`
	FoldSeed   string `json:"fold_seed"`
	OccurredAt int64  `json:"occurred_at"`
}

// Store 抽象封印记录的持久化接口。
type Store interface {
	SaveSeal(ctx context.Context, record *SealRecord) error
	GetSeal(ctx context.Context, sessionID string) (*SealRecord, error)
	ListSeals(ctx context.Context, limit int) ([]*SealRecord, error)
	Close() error
}

// Handler 处理一条序列化后的折叠事件。
type Handler func(ctx context.Context, payload []byte) error

// Producer 负责向队列发布折叠事件。
type Producer interface {
	Publish(ctx context.Context, event FoldEvent) error
	Close() error
}

// Consumer 负责从队列中消费折叠事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

var (
	// ErrSessionNotFound 表示指定的会话不存在。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrSealNotFound 表示指定会话尚无封印记录。
	ErrSealNotFound = xerrors.New(CodeSealNotFound, "seal not found")
)

const (
	CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"
	CodeSealNotFound    xerrors.Code = "SEAL_NOT_FOUND"
	CodeSealPublish     xerrors.Code = "SEAL_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:   "session not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSealNotFound, xerrors.Attributes{
		Message:   "seal not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSealPublish, xerrors.Attributes{
		Message:   "failed to publish fold event",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}
