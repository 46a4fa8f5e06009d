package trace

import (
	"crypto/sha256"
	"math/big"
	"strconv"
	"sync"

	xerrors "Sigha-Chain/internal/errors"
	"Sigha-Chain/internal/holo"
)

// SwarmScope 是绑定到父状态值快照的有序子追踪。
// 作用域只在私有的 (T, depth) 上演化，从不回写父累加器；
// 调用方负责把 Commit 的结果通过 SetState 安装回去。
type SwarmScope struct {
	ctx *holo.Context
	reg *holo.Registry

	name       string
	swarmPrime *big.Int

	t     *big.Int
	depth int
	steps int
}

// EnterSwarm 以 (parentT, parentDepth) 的值快照建立子追踪。
func EnterSwarm(ctx *holo.Context, reg *holo.Registry, name string, parentT *big.Int, parentDepth int) (*SwarmScope, error) {
	if !ctx.VerifyInGroup(parentT) {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "父指纹不在工作群内")
	}
	swarmPrime, err := reg.Register(name)
	if err != nil {
		return nil, err
	}
	return &SwarmScope{
		ctx:        ctx,
		reg:        reg,
		name:       name,
		swarmPrime: swarmPrime,
		t:          new(big.Int).Set(parentT),
		depth:      parentDepth,
	}, nil
}

// Record 在作用域本地执行与主链相同的演化规则，保持顺序敏感。
func (s *SwarmScope) Record(agentID string) error {
	prime, err := s.reg.Register(agentID)
	if err != nil {
		return err
	}
	next, err := evolve(s.ctx, s.t, s.depth, prime)
	if err != nil {
		return err
	}
	s.t = next
	s.depth++
	s.steps++
	return nil
}

// Commit 返回作用域的最终状态；安装回父累加器由调用方完成。
func (s *SwarmScope) Commit() (*big.Int, int) {
	return new(big.Int).Set(s.t), s.depth
}

// Steps 返回作用域内记录的步数。
func (s *SwarmScope) Steps() int { return s.steps }

// SwarmProof 是子追踪导出的工作证明摘要。
type SwarmProof struct {
	SwarmPrime *big.Int
	WorkProof  [sha256.Size]byte
	Complexity int
}

// ExportProof 生成绑定 (名称, 最终 T, 步数) 的工作证明。
func (s *SwarmScope) ExportProof() SwarmProof {
	h := sha256.New()
	h.Write([]byte(s.name))
	h.Write([]byte{':'})
	h.Write([]byte(holo.FormatDecimal(s.t)))
	h.Write([]byte{':'})
	h.Write([]byte(strconv.Itoa(s.steps)))
	var proof [sha256.Size]byte
	copy(proof[:], h.Sum(nil))
	return SwarmProof{
		SwarmPrime: new(big.Int).Set(s.swarmPrime),
		WorkProof:  proof,
		Complexity: s.steps,
	}
}

// ComputeBranch 是纯函数形式的单分支演化，
// branch_T = base_T^prime · G^H(base_depth+1) mod M，供调用方自行并行。
func ComputeBranch(ctx *holo.Context, baseT *big.Int, baseDepth int, prime *big.Int) (*big.Int, error) {
	return evolve(ctx, baseT, baseDepth, prime)
}

// ParallelScope 实现同深度的扇出/扇入：每个分支都是从同一基点出发的
// 单步演化，合并利用 Z_M* 上乘法的交换性，分支加入顺序不影响结果。
type ParallelScope struct {
	ctx *holo.Context
	reg *holo.Registry

	baseT     *big.Int
	baseDepth int

	mu       sync.Mutex
	primes   []*big.Int
	branches []*big.Int
}

// NewParallelScope 以 (baseT, baseDepth) 的值快照建立并行作用域。
func NewParallelScope(ctx *holo.Context, reg *holo.Registry, baseT *big.Int, baseDepth int) (*ParallelScope, error) {
	if !ctx.VerifyInGroup(baseT) {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "基点指纹不在工作群内")
	}
	return &ParallelScope{
		ctx:       ctx,
		reg:       reg,
		baseT:     new(big.Int).Set(baseT),
		baseDepth: baseDepth,
	}, nil
}

// AddBranch 计算一个分支的单步演化，可被多个 goroutine 并发调用。
func (p *ParallelScope) AddBranch(agentID string) error {
	prime, err := p.reg.Register(agentID)
	if err != nil {
		return err
	}
	branch, err := ComputeBranch(p.ctx, p.baseT, p.baseDepth, prime)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.primes = append(p.primes, prime)
	p.branches = append(p.branches, branch)
	p.mu.Unlock()
	return nil
}

// BranchCount 返回已加入的分支数。
func (p *ParallelScope) BranchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.branches)
}

// Merge 扇入所有分支：
// T_merged = base_T^(Σp_i - (k-1)) · G^(k·H(base_depth+1)) mod M，
// new_depth = base_depth + 1。无分支时原样返回基点状态。
func (p *ParallelScope) Merge() (*big.Int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := len(p.primes)
	if k == 0 {
		return new(big.Int).Set(p.baseT), p.baseDepth, nil
	}

	exp := big.NewInt(int64(-(k - 1)))
	for _, prime := range p.primes {
		exp.Add(exp, prime)
	}
	m := p.ctx.M()
	pathTerm, err := holo.PowMod(p.baseT, exp, m)
	if err != nil {
		return nil, 0, err
	}
	depthExp := new(big.Int).Mul(big.NewInt(int64(k)), p.ctx.HExp(p.baseDepth+1))
	depthTerm, err := holo.PowMod(p.ctx.G(), depthExp, m)
	if err != nil {
		return nil, 0, err
	}
	merged := new(big.Int).Mul(pathTerm, depthTerm)
	merged.Mod(merged, m)
	return merged, p.baseDepth + 1, nil
}

// mergeProduct 是 Merge 的乘积/逆元等价形式
// ∏ branch_T_i · base_T^-(k-1) mod M，与闭式指数必须逐位一致，
// 由测试交叉验证。
func (p *ParallelScope) mergeProduct() (*big.Int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := len(p.branches)
	if k == 0 {
		return new(big.Int).Set(p.baseT), p.baseDepth, nil
	}
	m := p.ctx.M()
	merged := big.NewInt(1)
	for _, branch := range p.branches {
		merged.Mul(merged, branch)
		merged.Mod(merged, m)
	}
	if k > 1 {
		basePow, err := holo.PowMod(p.baseT, big.NewInt(int64(k-1)), m)
		if err != nil {
			return nil, 0, err
		}
		inv, err := holo.ModInverse(basePow, m)
		if err != nil {
			return nil, 0, err
		}
		merged.Mul(merged, inv)
		merged.Mod(merged, m)
	}
	return merged, p.baseDepth + 1, nil
}
