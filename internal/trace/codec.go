package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	xerrors "Sigha-Chain/internal/errors"
	"Sigha-Chain/internal/holo"
)

// 串行化状态 blob 的固定头部。
const (
	blobMagic   = "SIGHA1"
	blobVersion = uint8(1)

	flagSafePrimes    = uint8(1 << 0)
	flagRetainFactors = uint8(1 << 1)
)

// DecodedState 是一个 blob 解码后的全部内容。
type DecodedState struct {
	Ctx       *holo.Context
	T         *big.Int
	Depth     int
	Snapshots []Snapshot
	Flags     uint8
}

// EncodeState 把 (上下文, T, depth, snapshots) 编码为自描述的状态 blob。
// 边界上的所有大整数一律使用规范十进制字符串。
func EncodeState(ctx *holo.Context, t *big.Int, depth int, snapshots []Snapshot) ([]byte, error) {
	if ctx == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "上下文不能为空")
	}
	if t == nil || depth < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "状态不完整")
	}

	var buf bytes.Buffer
	buf.WriteString(blobMagic)
	buf.WriteByte(blobVersion)
	var flags uint8
	if ctx.SafePrimes() {
		flags |= flagSafePrimes
	}
	if ctx.FactorsRetained() {
		flags |= flagRetainFactors
	}
	buf.WriteByte(flags)

	writeUint32(&buf, uint32(ctx.BitLength()))
	writeUint32(&buf, uint32(ctx.MaxDepth()))
	writeBigInt(&buf, ctx.M())
	writeBigInt(&buf, ctx.G())
	writeBigInt(&buf, ctx.T0())

	var state bytes.Buffer
	writeBigInt(&state, t)
	writeUint32(&state, uint32(depth))
	writeUint32(&state, uint32(len(snapshots)))
	for _, s := range snapshots {
		if s.T == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "快照指纹不能为空")
		}
		writeBigInt(&state, s.T)
		writeUint32(&state, uint32(s.Depth))
		state.Write(s.FoldSeed[:])
	}
	buf.Write(state.Bytes())

	ctxDigest := ctx.Digest()
	buf.Write(ctxDigest[:])
	stateDigest := sha256.Sum256(state.Bytes())
	buf.Write(stateDigest[:])
	return buf.Bytes(), nil
}

// Encode 编码累加器的当前状态。
func Encode(acc *Accumulator) ([]byte, error) {
	if acc == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "累加器不能为空")
	}
	return EncodeState(acc.Context(), acc.CurrentT(), acc.Depth(), acc.SnapshotChain())
}

// Decode 解析状态 blob，重建上下文并校验两级摘要。
// 格式问题返回 Deserialization，参数不满足群不变量返回 WeakParameters。
func Decode(blob []byte) (*DecodedState, error) {
	r := &blobReader{data: blob}

	magic, err := r.take(len(blobMagic))
	if err != nil || string(magic) != blobMagic {
		return nil, xerrors.New(xerrors.CodeDeserialization, "魔数不匹配")
	}
	version, err := r.byte()
	if err != nil || version != blobVersion {
		return nil, xerrors.New(xerrors.CodeDeserialization, "不支持的版本")
	}
	flags, err := r.byte()
	if err != nil {
		return nil, xerrors.New(xerrors.CodeDeserialization, "blob 被截断")
	}

	bitLength, err := r.uint32()
	if err != nil {
		return nil, err
	}
	maxDepth, err := r.uint32()
	if err != nil {
		return nil, err
	}
	m, err := r.bigInt()
	if err != nil {
		return nil, err
	}
	g, err := r.bigInt()
	if err != nil {
		return nil, err
	}
	t0, err := r.bigInt()
	if err != nil {
		return nil, err
	}

	stateStart := r.offset
	t, err := r.bigInt()
	if err != nil {
		return nil, err
	}
	depth, err := r.uint32()
	if err != nil {
		return nil, err
	}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	snapshots := make([]Snapshot, 0, count)
	for i := uint32(0); i < count; i++ {
		snapT, err := r.bigInt()
		if err != nil {
			return nil, err
		}
		snapDepth, err := r.uint32()
		if err != nil {
			return nil, err
		}
		seedBytes, err := r.take(sha256.Size)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeDeserialization, "折叠种子被截断")
		}
		var seed [sha256.Size]byte
		copy(seed[:], seedBytes)
		snapshots = append(snapshots, Snapshot{T: snapT, Depth: int(snapDepth), FoldSeed: seed})
	}
	stateEnd := r.offset

	ctxDigestBytes, err := r.take(sha256.Size)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeDeserialization, "上下文摘要被截断")
	}
	stateDigestBytes, err := r.take(sha256.Size)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeDeserialization, "状态摘要被截断")
	}
	if r.offset != len(blob) {
		return nil, xerrors.New(xerrors.CodeDeserialization, "blob 末尾存在多余数据")
	}

	stateDigest := sha256.Sum256(blob[stateStart:stateEnd])
	if !bytes.Equal(stateDigest[:], stateDigestBytes) {
		return nil, xerrors.New(xerrors.CodeDeserialization, "状态摘要不匹配")
	}

	ctx, err := holo.NewContextFromValues(int(bitLength), int(maxDepth), m, g, t0,
		holo.WithSafePrimes(flags&flagSafePrimes != 0),
		holo.WithDebugRetainFactors(flags&flagRetainFactors != 0),
	)
	if err != nil {
		return nil, err
	}
	ctxDigest := ctx.Digest()
	if !bytes.Equal(ctxDigest[:], ctxDigestBytes) {
		return nil, xerrors.New(xerrors.CodeDeserialization, "上下文摘要不匹配")
	}

	return &DecodedState{
		Ctx:       ctx,
		T:         t,
		Depth:     int(depth),
		Snapshots: snapshots,
		Flags:     flags,
	}, nil
}

// Restore 解码 blob 并还原为可继续演化的累加器。
func Restore(blob []byte, reg *holo.Registry) (*Accumulator, error) {
	decoded, err := Decode(blob)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = holo.NewRegistry(decoded.Ctx)
	}
	acc := NewAccumulator(decoded.Ctx, reg)
	if err := acc.SetState(decoded.T, decoded.Depth, decoded.Snapshots); err != nil {
		return nil, err
	}
	return acc, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], v)
	buf.Write(scratch[:])
}

func writeBigInt(buf *bytes.Buffer, x *big.Int) {
	text := holo.FormatDecimal(x)
	writeUint32(buf, uint32(len(text)))
	buf.WriteString(text)
}

type blobReader struct {
	data   []byte
	offset int
}

func (r *blobReader) take(n int) ([]byte, error) {
	if r.offset+n > len(r.data) {
		return nil, xerrors.New(xerrors.CodeDeserialization, "blob 被截断")
	}
	chunk := r.data[r.offset : r.offset+n]
	r.offset += n
	return chunk, nil
}

func (r *blobReader) byte() (uint8, error) {
	chunk, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return chunk[0], nil
}

func (r *blobReader) uint32() (uint32, error) {
	chunk, err := r.take(4)
	if err != nil {
		return 0, xerrors.New(xerrors.CodeDeserialization, "blob 被截断")
	}
	return binary.LittleEndian.Uint32(chunk), nil
}

func (r *blobReader) bigInt() (*big.Int, error) {
	length, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if length == 0 || length > 1<<20 {
		return nil, xerrors.New(xerrors.CodeDeserialization, "大整数长度字段非法")
	}
	chunk, err := r.take(int(length))
	if err != nil {
		return nil, err
	}
	value, parseErr := holo.ParseDecimal(string(chunk))
	if parseErr != nil {
		return nil, xerrors.Wrap(xerrors.CodeDeserialization, parseErr, "大整数字段解析失败")
	}
	return value, nil
}
