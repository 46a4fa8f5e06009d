package holo

import (
	"crypto/sha256"
	"math/big"
	"sort"
	"sync"

	xerrors "Sigha-Chain/internal/errors"
)

// Registry 维护 agent 标识到素数的确定性映射。
// 映射本身是 HashToPrime 的纯函数，缓存只负责去重计算；
// 同一标识的并发注册收敛到同一素数。
type Registry struct {
	ctx *Context

	mu       sync.Mutex
	cache    map[string]*big.Int
	inflight map[string]*registryCall
}

type registryCall struct {
	done  chan struct{}
	prime *big.Int
	err   error
}

// NewRegistry 创建绑定到指定上下文的注册表。
func NewRegistry(ctx *Context) *Registry {
	return &Registry{
		ctx:      ctx,
		cache:    make(map[string]*big.Int),
		inflight: make(map[string]*registryCall),
	}
}

// RegistryEntry 是一条 (标识, 素数) 映射。
type RegistryEntry struct {
	ID    string
	Prime *big.Int
}

// Register 幂等地返回标识对应的素数；首个调用方计算，
// 其余并发调用方阻塞在同一次计算上。
func (r *Registry) Register(id string) (*big.Int, error) {
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent 标识不能为空")
	}

	r.mu.Lock()
	if prime, ok := r.cache[id]; ok {
		r.mu.Unlock()
		return new(big.Int).Set(prime), nil
	}
	if call, ok := r.inflight[id]; ok {
		r.mu.Unlock()
		<-call.done
		if call.err != nil {
			return nil, call.err
		}
		return new(big.Int).Set(call.prime), nil
	}
	call := &registryCall{done: make(chan struct{})}
	r.inflight[id] = call
	r.mu.Unlock()

	prime, err := HashToPrime([]byte(id), r.ctx.PrimeBits(), r.ctx.MRRounds())

	r.mu.Lock()
	delete(r.inflight, id)
	if err == nil {
		r.cache[id] = prime
	}
	r.mu.Unlock()

	call.prime = prime
	call.err = err
	close(call.done)

	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(prime), nil
}

// Get 返回已注册标识的素数，未注册时返回 NotRegistered。
func (r *Registry) Get(id string) (*big.Int, error) {
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent 标识不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prime, ok := r.cache[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotRegistered, "未注册的 agent 标识: "+id)
	}
	return new(big.Int).Set(prime), nil
}

// Len 返回已注册的标识数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Iter 返回按标识排序的映射快照。
func (r *Registry) Iter() []RegistryEntry {
	r.mu.Lock()
	entries := make([]RegistryEntry, 0, len(r.cache))
	for id, prime := range r.cache {
		entries = append(entries, RegistryEntry{ID: id, Prime: new(big.Int).Set(prime)})
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Digest 返回按标识排序的 (id, prime) 序列哈希。
func (r *Registry) Digest() [sha256.Size]byte {
	h := sha256.New()
	for _, entry := range r.Iter() {
		h.Write([]byte(entry.ID))
		h.Write([]byte{0})
		h.Write([]byte(FormatDecimal(entry.Prime)))
		h.Write([]byte{0})
	}
	var digest [sha256.Size]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
