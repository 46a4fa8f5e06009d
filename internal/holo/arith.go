package holo

import (
	"io"
	"math/big"
	"strings"

	xerrors "Sigha-Chain/internal/errors"
)

var (
	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
)

// ParseDecimal 解析串行化边界上使用的规范十进制大整数。
// 不允许符号位与前导零（"0" 除外）；兼容导入时的 "0x" 十六进制前缀。
func ParseDecimal(s string) (*big.Int, error) {
	if s == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "大整数字符串不能为空")
	}
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
		if digits == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "十六进制大整数缺少有效数字")
		}
	} else if len(s) > 1 && s[0] == '0' {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "十进制大整数不允许前导零")
	}
	value, ok := new(big.Int).SetString(digits, base)
	if !ok || value.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "无法解析为非负大整数: "+s)
	}
	return value, nil
}

// FormatDecimal 输出规范十进制表示，与 ParseDecimal 构成无损往返。
func FormatDecimal(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.Text(10)
}

// powWindowBits 是固定窗口模幂的窗口宽度。
const powWindowBits = 4

// PowMod 计算 base^exp mod m，使用 4-bit 固定窗口法。
// 窗口表在循环外一次性构建，主循环按指数高位到低位以固定节奏
// 平方与查表相乘，避免逐位的 branch-on-exponent 模式。
func PowMod(base, exp, m *big.Int) (*big.Int, error) {
	if m == nil || m.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "模数必须为正整数")
	}
	if base == nil || exp == nil || exp.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "模幂的底数与指数必须为非负整数")
	}
	if m.Cmp(bigOne) == 0 {
		return big.NewInt(0), nil
	}

	reduced := new(big.Int).Mod(base, m)
	if exp.Sign() == 0 {
		return big.NewInt(1), nil
	}

	// 预计算窗口表 table[i] = base^i mod m，i ∈ [0, 2^w)。
	table := make([]*big.Int, 1<<powWindowBits)
	table[0] = big.NewInt(1)
	for i := 1; i < len(table); i++ {
		table[i] = new(big.Int).Mul(table[i-1], reduced)
		table[i].Mod(table[i], m)
	}

	result := big.NewInt(1)
	scratch := new(big.Int)
	bits := exp.BitLen()
	// 向上对齐到窗口边界，保证每轮处理固定的 w 位。
	start := ((bits + powWindowBits - 1) / powWindowBits) * powWindowBits
	for i := start - powWindowBits; i >= 0; i -= powWindowBits {
		for j := 0; j < powWindowBits; j++ {
			scratch.Mul(result, result)
			result.Mod(scratch, m)
		}
		var window uint
		for j := powWindowBits - 1; j >= 0; j-- {
			window = window<<1 | exp.Bit(i+j)
		}
		scratch.Mul(result, table[window])
		result.Mod(scratch, m)
	}
	return result, nil
}

// GCD 返回两数的最大公约数。
func GCD(a, b *big.Int) *big.Int {
	return new(big.Int).GCD(nil, nil, new(big.Int).Abs(a), new(big.Int).Abs(b))
}

// ModInverse 返回 a 在模 m 下的乘法逆元；gcd(a, m) != 1 时报错。
func ModInverse(a, m *big.Int) (*big.Int, error) {
	if m == nil || m.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "模数必须为正整数")
	}
	inv := new(big.Int).ModInverse(a, m)
	if inv == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "元素与模数不互素，逆元不存在")
	}
	return inv, nil
}

// RandBelow 通过拒绝采样从熵源均匀抽取 [0, n) 内的整数。
func RandBelow(r io.Reader, n *big.Int) (*big.Int, error) {
	if n == nil || n.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "采样上界必须为正整数")
	}
	bits := n.BitLen()
	byteLen := (bits + 7) / 8
	buf := make([]byte, byteLen)
	// 多余高位清零后仍可能越界，重抽直到落入区间，保证均匀性。
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取随机熵源失败")
		}
		excess := uint(byteLen*8 - bits)
		buf[0] &= byte(0xFF >> excess)
		candidate := new(big.Int).SetBytes(buf)
		if candidate.Cmp(n) < 0 {
			return candidate, nil
		}
	}
}

// randBits 抽取一个恰好 bits 位、最高位与最低位均置位的奇数。
func randBits(r io.Reader, bits int) (*big.Int, error) {
	if bits < 2 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "位长必须不小于 2")
	}
	byteLen := (bits + 7) / 8
	buf := make([]byte, byteLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取随机熵源失败")
	}
	candidate := new(big.Int).SetBytes(buf)
	candidate.SetBit(candidate, bits-1, 1)
	candidate.SetBit(candidate, 0, 1)
	// 截断到目标位长。
	mask := new(big.Int).Lsh(bigOne, uint(bits))
	mask.Sub(mask, bigOne)
	candidate.And(candidate, mask)
	candidate.SetBit(candidate, bits-1, 1)
	return candidate, nil
}
