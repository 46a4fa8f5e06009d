package trace

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	xerrors "Sigha-Chain/internal/errors"
	"Sigha-Chain/internal/holo"
)

// Inspector 通过逐步重放演化规则校验声称的路径。
type Inspector struct {
	ctx *holo.Context
	reg *holo.Registry
}

// NewInspector 创建路径校验器。
func NewInspector(ctx *holo.Context, reg *holo.Registry) *Inspector {
	return &Inspector{ctx: ctx, reg: reg}
}

// VerifyPath 从 (startT, startDepth) 出发重放 path 中的每一步，
// 深度越界时执行与累加器完全一致的折叠，最终与 claimedT 比对。
// 校验不通过不是错误，返回 (false, 原因)。
func (i *Inspector) VerifyPath(claimedT *big.Int, path []string, startT *big.Int, startDepth int) (bool, string) {
	if claimedT == nil || startT == nil {
		return false, "fingerprint is nil"
	}
	if startDepth < 0 {
		return false, "negative starting depth"
	}
	if !i.ctx.VerifyInGroup(startT) {
		return false, "starting fingerprint outside the working group"
	}

	t := new(big.Int).Set(startT)
	depth := startDepth
	for idx, agentID := range path {
		prime, err := i.reg.Register(agentID)
		if err != nil {
			return false, fmt.Sprintf("step %d (%q): %v", idx, agentID, err)
		}
		next, err := evolve(i.ctx, t, depth, prime)
		if err != nil {
			return false, fmt.Sprintf("step %d (%q): %v", idx, agentID, err)
		}
		t = next
		depth++
		if depth >= i.ctx.MaxDepth() {
			seed := i.ctx.FoldSeed(t, depth)
			restart, err := i.ctx.FoldRestart(seed)
			if err != nil {
				return false, fmt.Sprintf("fold after step %d: %v", idx, err)
			}
			t = restart
			depth = 0
		}
	}

	if t.Cmp(claimedT) != 0 {
		return false, "replayed fingerprint does not match claim"
	}
	return true, "ok"
}

// Seal 是累加器状态与负载摘要在上下文下的不可变绑定。
type Seal struct {
	Meta      Meta
	T         *big.Int
	Depth     int
	Snapshots []Snapshot

	PayloadDigest [sha256.Size]byte
	Anchor        [sha256.Size]byte
}

// Sealer 负责封印累加器并校验封印。
type Sealer struct{}

// NewSealer 创建封印器。
func NewSealer() *Sealer { return &Sealer{} }

// Seal 生成封印并把累加器迁移到 SEALED 状态。
// anchor = SHA-256(decimal(T) || payload_digest || ctx_digest)。
func (s *Sealer) Seal(acc *Accumulator, payload []byte) (*Seal, error) {
	if acc == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "累加器不能为空")
	}
	if acc.IsSealed() {
		return nil, xerrors.New(xerrors.CodeSealed, "累加器已封印")
	}

	payloadDigest := sha256.Sum256(payload)
	ctxDigest := acc.Context().Digest()
	t := acc.CurrentT()

	seal := &Seal{
		Meta:          NewMeta(acc.Context()),
		T:             t,
		Depth:         acc.Depth(),
		Snapshots:     acc.SnapshotChain(),
		PayloadDigest: payloadDigest,
		Anchor:        computeAnchor(t, payloadDigest, ctxDigest),
	}
	acc.markSealed()
	return seal, nil
}

// Verify 重算负载摘要与锚点并与封印比对；负载、T、负载摘要、上下文摘要或锚点中
// 任何一位翻转都会失败。Depth、Snapshots 与 Meta 的其余字段不参与锚点，改动它们不影响结果。
func (s *Sealer) Verify(seal *Seal, payload []byte) bool {
	if seal == nil || seal.T == nil {
		return false
	}
	payloadDigest := sha256.Sum256(payload)
	if payloadDigest != seal.PayloadDigest {
		return false
	}
	if len(seal.Meta.ContextDigest) != sha256.Size {
		return false
	}
	var ctxDigest [sha256.Size]byte
	copy(ctxDigest[:], seal.Meta.ContextDigest)
	return computeAnchor(seal.T, payloadDigest, ctxDigest) == seal.Anchor
}

func computeAnchor(t *big.Int, payloadDigest, ctxDigest [sha256.Size]byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(holo.FormatDecimal(t)))
	h.Write(payloadDigest[:])
	h.Write(ctxDigest[:])
	var anchor [sha256.Size]byte
	copy(anchor[:], h.Sum(nil))
	return anchor
}
