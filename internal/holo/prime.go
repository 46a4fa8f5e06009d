package holo

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math/big"

	xerrors "Sigha-Chain/internal/errors"
)

const (
	// DefaultMRRounds 是 Miller-Rabin 的默认轮数。
	DefaultMRRounds = 40
	// MinMRRounds 是允许配置的最小轮数。
	MinMRRounds = 16
	// primeRetryBudget 是每个素数采样的重试上限。
	primeRetryBudget = 1024
	// hashToPrimeBudget 是 hash-to-prime 的 counter 上限，防御构造性输入。
	hashToPrimeBudget = 200000
	// smallPrimeCount 是试除表的规模。
	smallPrimeCount = 256
)

// smallPrimes 保存前 256 个素数，用于 Miller-Rabin 之前的快速试除。
var smallPrimes = buildSmallPrimes(smallPrimeCount)

func buildSmallPrimes(count int) []uint64 {
	primes := make([]uint64, 0, count)
	// 第 256 个素数是 1619，2048 的筛足够覆盖。
	const sieveLimit = 2048
	composite := make([]bool, sieveLimit)
	for n := uint64(2); n < sieveLimit && len(primes) < count; n++ {
		if composite[n] {
			continue
		}
		primes = append(primes, n)
		for multiple := n * n; multiple < sieveLimit; multiple += n {
			composite[multiple] = true
		}
	}
	return primes
}

// trialDivide 返回 n 是否通过小素数试除。n 本身是表内素数时直接通过。
func trialDivide(n *big.Int) bool {
	mod := new(big.Int)
	for _, p := range smallPrimes {
		prime := new(big.Int).SetUint64(p)
		if n.Cmp(prime) == 0 {
			return true
		}
		if mod.Mod(n, prime).Sign() == 0 {
			return false
		}
	}
	return true
}

// witness 为第 round 轮推导确定性底数 a ∈ [2, n-2]。
// 底数由候选数自身哈希得出，同一输入永远得到同一判定，
// 满足 hash-to-prime 与路径重放对可复现实性的要求。
func witness(n *big.Int, round int) *big.Int {
	h := sha256.New()
	h.Write(n.Bytes())
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], uint32(round))
	h.Write(idx[:])
	digest := h.Sum(nil)

	span := new(big.Int).Sub(n, big.NewInt(3)) // |[2, n-2]| = n-3
	a := new(big.Int).SetBytes(digest)
	a.Mod(a, span)
	return a.Add(a, bigTwo)
}

// millerRabin 对 n 执行 rounds 轮 Miller-Rabin 测试。
// 调用方保证 n 为大于 4 的奇数。
func millerRabin(n *big.Int, rounds int) bool {
	nMinusOne := new(big.Int).Sub(n, bigOne)
	// n-1 = d * 2^s
	s := 0
	d := new(big.Int).Set(nMinusOne)
	for d.Bit(0) == 0 {
		d.Rsh(d, 1)
		s++
	}

	x := new(big.Int)
	for round := 0; round < rounds; round++ {
		a := witness(n, round)
		x.Exp(a, d, n)
		if x.Cmp(bigOne) == 0 || x.Cmp(nMinusOne) == 0 {
			continue
		}
		composite := true
		for i := 0; i < s-1; i++ {
			x.Mul(x, x)
			x.Mod(x, n)
			if x.Cmp(nMinusOne) == 0 {
				composite = false
				break
			}
		}
		if composite {
			return false
		}
	}
	return true
}

// IsProbablePrime 结合试除与 Miller-Rabin 判定素性。
func IsProbablePrime(n *big.Int, rounds int) bool {
	if n == nil || n.Sign() <= 0 {
		return false
	}
	if rounds < MinMRRounds {
		rounds = MinMRRounds
	}
	if n.BitLen() <= 6 {
		small := n.Uint64()
		for _, p := range smallPrimes {
			if p == small {
				return true
			}
			if p > small {
				break
			}
		}
		return false
	}
	if n.Bit(0) == 0 {
		return false
	}
	if !trialDivide(n) {
		return false
	}
	return millerRabin(n, rounds)
}

// GeneratePrime 从熵源采样一个 bits 位素数，最高位与最低位恒置位。
func GeneratePrime(r io.Reader, bits, rounds int) (*big.Int, error) {
	if bits < 2 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "素数位长必须不小于 2")
	}
	for attempt := 0; attempt < primeRetryBudget; attempt++ {
		candidate, err := randBits(r, bits)
		if err != nil {
			return nil, err
		}
		if IsProbablePrime(candidate, rounds) {
			return candidate, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeWeakParameters, "素数采样超出重试预算")
}

// safePrimeSweep 是单次采样后向上递增检查的候选数量。
const safePrimeSweep = 4096

// GenerateSafePrime 采样安全素数 p = 2q + 1，p 与 q 均为素数。
// 安全素数密度低，每次采样后沿 p ≡ 3 (mod 4) 的格点向上递增扫描，
// 再计入一次重试，保持与 GeneratePrime 相同的预算语义。
func GenerateSafePrime(r io.Reader, bits, rounds int) (*big.Int, error) {
	if bits < 4 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "安全素数位长必须不小于 4")
	}
	four := big.NewInt(4)
	q := new(big.Int)
	limit := new(big.Int).Lsh(bigOne, uint(bits))
	for attempt := 0; attempt < primeRetryBudget; attempt++ {
		candidate, err := randBits(r, bits)
		if err != nil {
			return nil, err
		}
		// p = 2q+1 蕴含 p ≡ 3 (mod 4)。
		candidate.SetBit(candidate, 1, 1)
		for step := 0; step < safePrimeSweep; step++ {
			if candidate.Cmp(limit) >= 0 {
				break
			}
			q.Sub(candidate, bigOne)
			q.Rsh(q, 1)
			if quickScreen(candidate) && quickScreen(q) &&
				IsProbablePrime(candidate, rounds) && IsProbablePrime(q, rounds) {
				return candidate, nil
			}
			candidate.Add(candidate, four)
		}
	}
	return nil, xerrors.New(xerrors.CodeWeakParameters, "安全素数采样超出重试预算")
}

// quickScreen 只做小素数试除，用于扫描阶段的快速剔除。
func quickScreen(n *big.Int) bool {
	if n.Bit(0) == 0 {
		return false
	}
	return trialDivide(n)
}

// HashToPrime 把任意字节串确定性地映射到一个 bits 位奇素数。
// 候选数按 SHA-256(seed || counter || block) 逐块拼出，counter 从 0 递增，
// 首个通过素性测试的候选即为结果；同一 (id, bits) 永远得到同一素数。
func HashToPrime(id []byte, bits, rounds int) (*big.Int, error) {
	if len(id) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent 标识不能为空")
	}
	if bits < 2 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "素数位长必须不小于 2")
	}
	seed := sha256.Sum256(id)
	byteLen := (bits + 7) / 8
	blocks := (byteLen + sha256.Size - 1) / sha256.Size

	mask := new(big.Int).Lsh(bigOne, uint(bits))
	mask.Sub(mask, bigOne)

	for counter := uint64(0); counter < hashToPrimeBudget; counter++ {
		material := make([]byte, 0, blocks*sha256.Size)
		for block := 0; block < blocks; block++ {
			h := sha256.New()
			h.Write(seed[:])
			var ctr [8]byte
			binary.LittleEndian.PutUint64(ctr[:], counter)
			h.Write(ctr[:])
			var idx [4]byte
			binary.LittleEndian.PutUint32(idx[:], uint32(block))
			h.Write(idx[:])
			material = h.Sum(material)
		}
		candidate := new(big.Int).SetBytes(material[:byteLen])
		candidate.And(candidate, mask)
		candidate.SetBit(candidate, bits-1, 1)
		candidate.SetBit(candidate, 0, 1)
		if IsProbablePrime(candidate, rounds) {
			return candidate, nil
		}
	}
	return nil, xerrors.New(xerrors.CodeWeakParameters, "hash-to-prime 超出 counter 预算")
}
