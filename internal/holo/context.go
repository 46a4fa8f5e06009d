package holo

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	xerrors "Sigha-Chain/internal/errors"
)

const (
	// DefaultBitLength 是模数 M 的默认位长。
	DefaultBitLength = 2048
	// MinBitLength 是允许的最小模数位长。
	MinBitLength = 256
	// DefaultMaxDepth 是触发快照折叠的默认深度阈值。
	DefaultMaxDepth = 10
	// DefaultPrimeBits 是注册表素数的默认位长。
	DefaultPrimeBits = 256

	// EnvMRRounds 覆盖 Miller-Rabin 轮数（下限 MinMRRounds）。
	EnvMRRounds = "SIGHA_MR_ROUNDS"
	// EnvSafePrimes 取值 "1" 时强制安全素数模式。
	EnvSafePrimes = "SIGHA_SAFE_PRIMES"

	// hExpBits 是 H_exp 的约简宽度，写入上下文摘要，不可变更。
	hExpBits = 256

	contextDigestDomain = "sigha-ctx-v1"
)

// lambdaBound 是 H_exp 约简使用的 256 位模：2^256 - 189。
var lambdaBound = func() *big.Int {
	bound := new(big.Int).Lsh(bigOne, hExpBits)
	return bound.Sub(bound, big.NewInt(189))
}()

// Context 持有群参数 (M, G, T0) 与派生配置，构造完成后不可变，
// 可被任意数量的累加器与作用域只读共享。
type Context struct {
	m  *big.Int
	g  *big.Int
	t0 *big.Int

	bitLength int
	maxDepth  int
	primeBits int
	mrRounds  int

	safePrimes    bool
	retainFactors bool
	p, q          *big.Int // 仅 debugRetainFactors 模式保留

	digest [sha256.Size]byte
}

// ContextOption 定义上下文构造的可选配置。
type ContextOption func(*contextParams)

type contextParams struct {
	rand          io.Reader
	maxDepth      int
	primeBits     int
	mrRounds      int
	safePrimes    bool
	retainFactors bool
}

// WithRand 指定熵源，测试中用于注入确定性 PRNG。
func WithRand(r io.Reader) ContextOption {
	return func(p *contextParams) {
		if r != nil {
			p.rand = r
		}
	}
}

// WithMaxDepth 覆盖快照折叠阈值。
func WithMaxDepth(depth int) ContextOption {
	return func(p *contextParams) {
		if depth > 0 {
			p.maxDepth = depth
		}
	}
}

// WithPrimeBits 覆盖注册表素数位长。
func WithPrimeBits(bits int) ContextOption {
	return func(p *contextParams) {
		if bits > 0 {
			p.primeBits = bits
		}
	}
}

// WithMRRounds 覆盖 Miller-Rabin 轮数。
func WithMRRounds(rounds int) ContextOption {
	return func(p *contextParams) {
		if rounds > 0 {
			p.mrRounds = rounds
		}
	}
}

// WithSafePrimes 强制 (p-1)/2 与 (q-1)/2 同为素数的安全素数模式。
func WithSafePrimes(enabled bool) ContextOption {
	return func(p *contextParams) {
		p.safePrimes = enabled
	}
}

// WithDebugRetainFactors 保留模数因子供测试检查子群闭包。
// 默认关闭；开启与否会体现在 Digest 中。
func WithDebugRetainFactors(enabled bool) ContextOption {
	return func(p *contextParams) {
		p.retainFactors = enabled
	}
}

func defaultParams() contextParams {
	params := contextParams{
		rand:      rand.Reader,
		maxDepth:  DefaultMaxDepth,
		primeBits: DefaultPrimeBits,
		mrRounds:  DefaultMRRounds,
	}
	if raw := strings.TrimSpace(os.Getenv(EnvMRRounds)); raw != "" {
		if rounds, err := strconv.Atoi(raw); err == nil && rounds >= MinMRRounds {
			params.mrRounds = rounds
		}
	}
	if os.Getenv(EnvSafePrimes) == "1" {
		params.safePrimes = true
	}
	return params
}

// NewContext 生成一组新的群参数：M = p·q，G 与 T0 取随机单位元的平方，
// 落在 QR_M 子群内。位长过小或素数采样超出预算时返回 WeakParameters。
func NewContext(bitLength int, opts ...ContextOption) (*Context, error) {
	if bitLength < MinBitLength || bitLength%2 != 0 {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "模数位长必须为不小于 256 的偶数")
	}
	params := defaultParams()
	for _, opt := range opts {
		if opt != nil {
			opt(&params)
		}
	}
	if params.mrRounds < MinMRRounds {
		params.mrRounds = MinMRRounds
	}

	half := bitLength / 2
	sample := GeneratePrime
	if params.safePrimes {
		sample = GenerateSafePrime
	}
	p, err := sample(params.rand, half, params.mrRounds)
	if err != nil {
		return nil, err
	}
	var q *big.Int
	for {
		q, err = sample(params.rand, half, params.mrRounds)
		if err != nil {
			return nil, err
		}
		if p.Cmp(q) != 0 {
			break
		}
	}

	m := new(big.Int).Mul(p, q)
	g, err := sampleQuadraticResidue(params.rand, m)
	if err != nil {
		return nil, err
	}
	t0, err := sampleQuadraticResidue(params.rand, m)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		m:             m,
		g:             g,
		t0:            t0,
		bitLength:     bitLength,
		maxDepth:      params.maxDepth,
		primeBits:     params.primeBits,
		mrRounds:      params.mrRounds,
		safePrimes:    params.safePrimes,
		retainFactors: params.retainFactors,
	}
	if params.retainFactors {
		ctx.p = p
		ctx.q = q
	} else {
		// 因子是有毒副产品，派生完成后立即覆写。
		scrub(p)
		scrub(q)
	}
	ctx.digest = ctx.computeDigest()
	return ctx, nil
}

// NewContextFromValues 以既有参数重建上下文（反序列化路径）。
// 对导入值执行群成员检查，不通过时返回 WeakParameters。
func NewContextFromValues(bitLength, maxDepth int, m, g, t0 *big.Int, opts ...ContextOption) (*Context, error) {
	if bitLength < MinBitLength || bitLength%2 != 0 {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "模数位长必须为不小于 256 的偶数")
	}
	if maxDepth <= 0 {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "max_depth 必须为正整数")
	}
	if m == nil || m.Sign() <= 0 || m.Bit(0) == 0 {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "导入的模数必须为正奇数")
	}
	params := defaultParams()
	for _, opt := range opts {
		if opt != nil {
			opt(&params)
		}
	}

	ctx := &Context{
		m:         new(big.Int).Set(m),
		g:         new(big.Int).Set(g),
		t0:        new(big.Int).Set(t0),
		bitLength: bitLength,
		maxDepth:  maxDepth,
		primeBits: params.primeBits,
		mrRounds:  params.mrRounds,
		// 重建的上下文只继承标志位，因子本身不会跨边界传递。
		safePrimes:    params.safePrimes,
		retainFactors: params.retainFactors,
	}
	if !ctx.VerifyInGroup(ctx.g) {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "导入的生成元不在工作群内")
	}
	if !ctx.VerifyInGroup(ctx.t0) {
		return nil, xerrors.New(xerrors.CodeWeakParameters, "导入的初始种子不在工作群内")
	}
	ctx.digest = ctx.computeDigest()
	return ctx, nil
}

// sampleQuadraticResidue 取随机单位元 s 并返回 s^2 mod M，
// 拒绝平凡元素 0、1 与 M-1。
func sampleQuadraticResidue(r io.Reader, m *big.Int) (*big.Int, error) {
	mMinusOne := new(big.Int).Sub(m, bigOne)
	for attempt := 0; attempt < primeRetryBudget; attempt++ {
		s, err := RandBelow(r, m)
		if err != nil {
			return nil, err
		}
		if s.Cmp(bigTwo) < 0 || s.Cmp(mMinusOne) == 0 {
			continue
		}
		if GCD(s, m).Cmp(bigOne) != 0 {
			continue
		}
		square := new(big.Int).Mul(s, s)
		square.Mod(square, m)
		if square.Cmp(bigOne) <= 0 || square.Cmp(mMinusOne) == 0 {
			continue
		}
		scrub(s)
		return square, nil
	}
	return nil, xerrors.New(xerrors.CodeWeakParameters, "二次剩余采样超出重试预算")
}

func scrub(x *big.Int) {
	if x != nil {
		x.SetInt64(0)
	}
}

// M 返回模数。
func (c *Context) M() *big.Int { return new(big.Int).Set(c.m) }

// G 返回生成元。
func (c *Context) G() *big.Int { return new(big.Int).Set(c.g) }

// T0 返回初始种子。
func (c *Context) T0() *big.Int { return new(big.Int).Set(c.t0) }

// BitLength 返回模数位长。
func (c *Context) BitLength() int { return c.bitLength }

// MaxDepth 返回快照折叠阈值。
func (c *Context) MaxDepth() int { return c.maxDepth }

// PrimeBits 返回注册表素数位长。
func (c *Context) PrimeBits() int { return c.primeBits }

// MRRounds 返回素性测试轮数。
func (c *Context) MRRounds() int { return c.mrRounds }

// SafePrimes 返回是否以安全素数模式生成。
func (c *Context) SafePrimes() bool { return c.safePrimes }

// FactorsRetained 返回调试模式下是否保留了因子。
func (c *Context) FactorsRetained() bool { return c.retainFactors }

// VerifyInGroup 检查 1 < x < M 且 gcd(x, M) = 1，用于拒绝导入的恶意值。
func (c *Context) VerifyInGroup(x *big.Int) bool {
	if x == nil || x.Cmp(bigOne) <= 0 || x.Cmp(c.m) >= 0 {
		return false
	}
	return GCD(x, c.m).Cmp(bigOne) == 0
}

// IsQuadraticResidue 借助保留的因子判断 x 是否属于 QR_M。
// 仅在 WithDebugRetainFactors 模式下可用，供测试检查子群闭包。
func (c *Context) IsQuadraticResidue(x *big.Int) (bool, error) {
	if !c.retainFactors || c.p == nil || c.q == nil {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "未保留因子，无法判定二次剩余")
	}
	if !c.VerifyInGroup(x) {
		return false, nil
	}
	for _, factor := range []*big.Int{c.p, c.q} {
		exp := new(big.Int).Sub(factor, bigOne)
		exp.Rsh(exp, 1)
		legendre := new(big.Int).Exp(new(big.Int).Mod(x, factor), exp, factor)
		if legendre.Cmp(bigOne) != 0 {
			return false, nil
		}
	}
	return true, nil
}

// Digest 返回 32 字节的上下文摘要，绑定 (bit_length, M, G, T0)、
// H_exp 的约简宽度以及因子保留标志。
func (c *Context) Digest() [sha256.Size]byte {
	return c.digest
}

func (c *Context) computeDigest() [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(contextDigestDomain))
	var scalar [4]byte
	binary.LittleEndian.PutUint32(scalar[:], uint32(c.bitLength))
	h.Write(scalar[:])
	h.Write([]byte(FormatDecimal(c.m)))
	h.Write([]byte{'|'})
	h.Write([]byte(FormatDecimal(c.g)))
	h.Write([]byte{'|'})
	h.Write([]byte(FormatDecimal(c.t0)))
	h.Write([]byte{'|'})
	binary.LittleEndian.PutUint32(scalar[:], uint32(hExpBits))
	h.Write(scalar[:])
	if c.retainFactors {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	var digest [sha256.Size]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// HExp 计算深度 d 的结构扰动指数：
// SHA-256(ctx_digest || "depth:" || decimal(d)) mod (2^256 - 189)。
func (c *Context) HExp(depth int) *big.Int {
	h := sha256.New()
	h.Write(c.digest[:])
	h.Write([]byte("depth:"))
	h.Write([]byte(strconv.Itoa(depth)))
	e := new(big.Int).SetBytes(h.Sum(nil))
	return e.Mod(e, lambdaBound)
}

// FoldSeed 计算快照折叠的链接种子：
// SHA-256(ctx_digest || "fold" || decimal(T) || decimal(depth))。
func (c *Context) FoldSeed(t *big.Int, depth int) [sha256.Size]byte {
	h := sha256.New()
	h.Write(c.digest[:])
	h.Write([]byte("fold"))
	h.Write([]byte(FormatDecimal(t)))
	h.Write([]byte(strconv.Itoa(depth)))
	var seed [sha256.Size]byte
	copy(seed[:], h.Sum(nil))
	return seed
}

// FoldRestart 由折叠种子推导新链起点 T0 · G^(seed mod λ_bound) mod M。
func (c *Context) FoldRestart(seed [sha256.Size]byte) (*big.Int, error) {
	exp := new(big.Int).SetBytes(seed[:])
	exp.Mod(exp, lambdaBound)
	gPow, err := PowMod(c.g, exp, c.m)
	if err != nil {
		return nil, err
	}
	restart := new(big.Int).Mul(c.t0, gPow)
	return restart.Mod(restart, c.m), nil
}
