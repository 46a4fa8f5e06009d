package trace

import (
	"time"

	"github.com/google/uuid"

	"Sigha-Chain/internal/holo"
)

// Meta 是附着在封印上的全息元数据；归档快照（Snapshot）不携带元数据。
type Meta struct {
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	BitLength     int       `json:"bit_length"`
	ContextDigest []byte    `json:"context_digest"`
}

// NewMeta 为指定上下文生成一份元数据，会话标识取 UUID。
func NewMeta(ctx *holo.Context) Meta {
	digest := ctx.Digest()
	return Meta{
		SessionID:     uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		BitLength:     ctx.BitLength(),
		ContextDigest: digest[:],
	}
}
