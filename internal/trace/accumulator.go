package trace

import (
	"crypto/sha256"
	"math/big"

	xerrors "Sigha-Chain/internal/errors"
	"Sigha-Chain/internal/holo"
)

// DefaultOpLimit 是单个累加器的群运算预算，防御构造性的超长路径。
const DefaultOpLimit = 1_000_000

// Snapshot 是一次折叠归档的 (T, depth, fold_seed) 三元组。
type Snapshot struct {
	T        *big.Int
	Depth    int
	FoldSeed [sha256.Size]byte
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{T: new(big.Int).Set(s.T), Depth: s.Depth, FoldSeed: s.FoldSeed}
}

// Accumulator 持有单条追踪链的可变状态 (T, depth, snapshots)。
// 逻辑上单线程使用；SEALED 之后只读。
type Accumulator struct {
	ctx *holo.Context
	reg *holo.Registry

	t         *big.Int
	depth     int
	snapshots []Snapshot

	sealed  bool
	ops     uint64
	opLimit uint64
}

// AccumulatorOption 定义累加器的可选配置。
type AccumulatorOption func(*Accumulator)

// WithOpLimit 覆盖群运算预算；0 表示不设上限。
func WithOpLimit(limit uint64) AccumulatorOption {
	return func(a *Accumulator) {
		a.opLimit = limit
	}
}

// NewAccumulator 创建绑定到上下文与注册表的累加器，T 从 T0 出发。
func NewAccumulator(ctx *holo.Context, reg *holo.Registry, opts ...AccumulatorOption) *Accumulator {
	acc := &Accumulator{
		ctx:     ctx,
		reg:     reg,
		t:       ctx.T0(),
		depth:   0,
		opLimit: DefaultOpLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(acc)
		}
	}
	return acc
}

// Context 返回绑定的上下文。
func (a *Accumulator) Context() *holo.Context { return a.ctx }

// Registry 返回绑定的注册表。
func (a *Accumulator) Registry() *holo.Registry { return a.reg }

// CurrentT 返回当前指纹的副本。
func (a *Accumulator) CurrentT() *big.Int { return new(big.Int).Set(a.t) }

// Depth 返回自上次折叠以来的演化步数。
func (a *Accumulator) Depth() int { return a.depth }

// IsSealed 返回累加器是否已封印。
func (a *Accumulator) IsSealed() bool { return a.sealed }

// OpCount 返回累计消耗的群运算次数。
func (a *Accumulator) OpCount() uint64 { return a.ops }

// SnapshotChain 返回归档快照序列的副本。
func (a *Accumulator) SnapshotChain() []Snapshot {
	chain := make([]Snapshot, len(a.snapshots))
	for i, s := range a.snapshots {
		chain[i] = s.clone()
	}
	return chain
}

// evolve 执行一步演化 T' = T^p · G^H(depth+1) mod M，消耗两次模幂。
func evolve(ctx *holo.Context, t *big.Int, depth int, prime *big.Int) (*big.Int, error) {
	m := ctx.M()
	pathTerm, err := holo.PowMod(t, prime, m)
	if err != nil {
		return nil, err
	}
	depthTerm, err := holo.PowMod(ctx.G(), ctx.HExp(depth+1), m)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Mul(pathTerm, depthTerm)
	return next.Mod(next, m), nil
}

const opsPerEvolution = 2

func (a *Accumulator) chargeOps(n uint64) error {
	if a.opLimit > 0 && a.ops+n > a.opLimit {
		return xerrors.New(xerrors.CodeOpsExhausted, "累加器的群运算预算已耗尽")
	}
	a.ops += n
	return nil
}

// Update 执行核心演化步：注册素数、演化指纹、深度加一，
// 深度达到阈值时自动折叠。失败时状态保持不变。
func (a *Accumulator) Update(agentID string) error {
	_, err := a.applyUpdate(agentID, false)
	return err
}

// UpdateWithCheck 与 Update 相同，另在提交前校验 gcd(T', M) = 1 且
// T' 不为平凡元素；违反时返回 DegenerateState 且不提交。
func (a *Accumulator) UpdateWithCheck(agentID string) error {
	_, err := a.applyUpdate(agentID, true)
	return err
}

func (a *Accumulator) applyUpdate(agentID string, check bool) (*big.Int, error) {
	if a.sealed {
		return nil, xerrors.New(xerrors.CodeSealed, "累加器已封印，拒绝更新")
	}
	prime, err := a.reg.Register(agentID)
	if err != nil {
		return nil, err
	}
	if err := a.chargeOps(opsPerEvolution); err != nil {
		return nil, err
	}
	next, err := evolve(a.ctx, a.t, a.depth, prime)
	if err != nil {
		return nil, err
	}
	if check {
		if next.Cmp(big.NewInt(1)) <= 0 || !a.ctx.VerifyInGroup(next) {
			return nil, xerrors.New(xerrors.CodeDegenerateState, "演化结果退化，更新被回滚")
		}
	}
	// 变更是最后一步，前面的任何失败都不会留下半程状态。
	a.t = next
	a.depth++
	if a.depth >= a.ctx.MaxDepth() {
		if err := a.fold(); err != nil {
			return nil, err
		}
	}
	return new(big.Int).Set(a.t), nil
}

// fold 归档当前链段并以密码学方式派生新链起点。
func (a *Accumulator) fold() error {
	seed := a.ctx.FoldSeed(a.t, a.depth)
	a.snapshots = append(a.snapshots, Snapshot{
		T:        new(big.Int).Set(a.t),
		Depth:    a.depth,
		FoldSeed: seed,
	})
	restart, err := a.ctx.FoldRestart(seed)
	if err != nil {
		return err
	}
	a.t = restart
	a.depth = 0
	return nil
}

// SetState 是反序列化与测试使用的受控变更入口。
// 导入值必须通过群成员检查；快照链只允许在现有前缀上追加。
func (a *Accumulator) SetState(t *big.Int, depth int, snapshots []Snapshot) error {
	if a.sealed {
		return xerrors.New(xerrors.CodeSealed, "累加器已封印，拒绝变更")
	}
	if depth < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "深度不能为负数")
	}
	if !a.ctx.VerifyInGroup(t) {
		return xerrors.New(xerrors.CodeWeakParameters, "导入的指纹不在工作群内")
	}
	if len(snapshots) < len(a.snapshots) {
		return xerrors.New(xerrors.CodeConflict, "快照链只允许追加，拒绝回退")
	}
	for i, existing := range a.snapshots {
		incoming := snapshots[i]
		if incoming.T == nil || incoming.T.Cmp(existing.T) != 0 ||
			incoming.Depth != existing.Depth || incoming.FoldSeed != existing.FoldSeed {
			return xerrors.New(xerrors.CodeConflict, "快照链前缀不一致，拒绝改写")
		}
	}
	for _, s := range snapshots[len(a.snapshots):] {
		if s.T == nil || !a.ctx.VerifyInGroup(s.T) {
			return xerrors.New(xerrors.CodeWeakParameters, "导入的快照指纹不在工作群内")
		}
	}

	a.t = new(big.Int).Set(t)
	a.depth = depth
	chain := make([]Snapshot, len(snapshots))
	for i, s := range snapshots {
		chain[i] = s.clone()
	}
	a.snapshots = chain
	return nil
}

// markSealed 由 Sealer 调用，完成 ACTIVE → SEALED 的单向迁移。
func (a *Accumulator) markSealed() {
	a.sealed = true
}
