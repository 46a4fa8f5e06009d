package session

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"Sigha-Chain/internal/anchor"
	xerrors "Sigha-Chain/internal/errors"
	"Sigha-Chain/internal/holo"
	"Sigha-Chain/internal/observability/alerting"
	"Sigha-Chain/internal/observability/metrics"
	"Sigha-Chain/internal/trace"
	"Sigha-Chain/pkg/logger"
)

// Info 是会话状态的对外视图。
type Info struct {
	SessionID     string   `json:"session_id"`
	T             string   `json:"t"`
	Depth         int      `json:"depth"`
	SnapshotCount int      `json:"snapshot_count"`
	Sealed        bool     `json:"sealed"`
	Path          []string `json:"path,omitempty"`
	OpCount       uint64   `json:"op_count"`
	CreatedAt     int64    `json:"created_at"`
}

// SealResult 汇总一次封印的全部产物。
type SealResult struct {
	Info          Info   `json:"info"`
	PayloadDigest string `json:"payload_digest"`
	Anchor        string `json:"anchor"`
	AnchorTx      string `json:"anchor_tx,omitempty"`
	Blob          []byte `json:"blob"`
}

// liveSession 是一条活跃的追踪链及其审计路径日志。
// path 仅供人类阅读与拓扑检查，验证只认指纹。
type liveSession struct {
	mu        sync.Mutex
	meta      trace.Meta
	reg       *holo.Registry
	acc       *trace.Accumulator
	path      []string
	segments  int
	createdAt int64
}

// Service 管理追踪会话的生命周期：创建、更新、扇出、子追踪、封印与校验。
type Service struct {
	ctx      *holo.Context
	reg      *holo.Registry
	store    Store
	producer Producer
	anchorer anchor.Client
	alerter  alerting.Dispatcher

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithStore 配置封印记录的持久化后端。
func WithStore(store Store) ServiceOption {
	return func(s *Service) { s.store = store }
}

// WithProducer 配置折叠事件的发布端。
func WithProducer(producer Producer) ServiceOption {
	return func(s *Service) { s.producer = producer }
}

// WithAnchorClient 配置可选的链上锚定客户端。
func WithAnchorClient(client anchor.Client) ServiceOption {
	return func(s *Service) { s.anchorer = client }
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ServiceOption {
	return func(s *Service) { s.alerter = dispatcher }
}

// NewService 构造会话服务。
func NewService(ctx *holo.Context, reg *holo.Registry, opts ...ServiceOption) *Service {
	s := &Service{
		ctx:      ctx,
		reg:      reg,
		sessions: make(map[string]*liveSession),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.producer == nil {
		s.producer = NewMemoryQueue(256)
	}
	return s
}

// Create 开启一条新的追踪会话。
func (s *Service) Create(_ context.Context) (*Info, error) {
	if s.ctx == nil || s.reg == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话服务未初始化")
	}
	live := &liveSession{
		meta:      trace.NewMeta(s.ctx),
		reg:       s.reg,
		acc:       trace.NewAccumulator(s.ctx, s.reg),
		createdAt: time.Now().Unix(),
	}
	s.mu.Lock()
	s.sessions[live.meta.SessionID] = live
	s.mu.Unlock()

	logger.Audit().Info("追踪会话已创建",
		slog.String("session_id", live.meta.SessionID),
		slog.Int("bit_length", live.meta.BitLength),
	)
	return s.snapshotInfo(live), nil
}

// Get 返回指定会话的状态。
func (s *Service) Get(sessionID string) (*Info, error) {
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshotInfo(live), nil
}

// Update 对会话执行一步演化。expectedPrev 非空时执行回滚保护：
// 与当前指纹不一致说明调用方基于过期状态，拒绝更新。
func (s *Service) Update(ctx context.Context, sessionID, agentID, expectedPrev string) (*Info, error) {
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()

	if expectedPrev != "" && expectedPrev != holo.FormatDecimal(live.acc.CurrentT()) {
		return nil, xerrors.New(xerrors.CodeConflict, "前序指纹不一致，疑似状态回滚")
	}

	before := len(live.acc.SnapshotChain())
	if err := live.acc.UpdateWithCheck(agentID); err != nil {
		if xerrors.IsCode(err, xerrors.CodeDegenerateState) {
			s.dispatchAlert(ctx, sessionID, err)
		}
		return nil, err
	}
	metrics.ObserveEvolution(1)
	live.path = append(live.path, agentID)

	chain := live.acc.SnapshotChain()
	if len(chain) > before {
		s.publishFolds(ctx, sessionID, live, chain[before:])
	}
	return s.infoLocked(live), nil
}

// Fanout 以并行作用域一次性合入多个分支，分支顺序不影响结果。
func (s *Service) Fanout(ctx context.Context, sessionID string, branches []string) (*Info, error) {
	if len(branches) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "分支列表不能为空")
	}
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()

	scope, err := trace.NewParallelScope(s.ctx, live.reg, live.acc.CurrentT(), live.acc.Depth())
	if err != nil {
		return nil, err
	}
	for _, agentID := range branches {
		if err := scope.AddBranch(agentID); err != nil {
			return nil, err
		}
	}
	merged, depth, err := scope.Merge()
	if err != nil {
		return nil, err
	}
	if err := live.acc.SetState(merged, depth, live.acc.SnapshotChain()); err != nil {
		return nil, err
	}
	metrics.ObserveEvolution(uint64(len(branches)))
	live.path = append(live.path, branches...)
	return s.infoLocked(live), nil
}

// Subtrace 在子追踪作用域内顺序记录若干步，然后把结果安装回主链。
func (s *Service) Subtrace(ctx context.Context, sessionID, name string, steps []string) (*Info, error) {
	if len(steps) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "子追踪步骤不能为空")
	}
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()

	scope, err := trace.EnterSwarm(s.ctx, live.reg, name, live.acc.CurrentT(), live.acc.Depth())
	if err != nil {
		return nil, err
	}
	for _, agentID := range steps {
		if err := scope.Record(agentID); err != nil {
			return nil, err
		}
	}
	committedT, committedDepth := scope.Commit()
	if err := live.acc.SetState(committedT, committedDepth, live.acc.SnapshotChain()); err != nil {
		return nil, err
	}
	metrics.ObserveEvolution(uint64(len(steps)))
	live.path = append(live.path, steps...)

	proof := scope.ExportProof()
	logger.L().Debug("子追踪已合入",
		slog.String("session_id", sessionID),
		slog.String("swarm", name),
		slog.Int("complexity", proof.Complexity),
	)
	return s.infoLocked(live), nil
}

// Seal 封印会话：生成封印、编码状态 blob、落库并按需锚定上链。
func (s *Service) Seal(ctx context.Context, sessionID string, payload []byte) (*SealResult, error) {
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()

	sealer := trace.NewSealer()
	seal, err := sealer.Seal(live.acc, payload)
	if err != nil {
		return nil, err
	}
	seal.Meta.SessionID = live.meta.SessionID
	metrics.ObserveSeal()

	blob, err := trace.EncodeState(s.ctx, seal.T, seal.Depth, seal.Snapshots)
	if err != nil {
		return nil, err
	}

	record := &SealRecord{
		SessionID:     live.meta.SessionID,
		BitLength:     live.meta.BitLength,
		ContextDigest: hex.EncodeToString(live.meta.ContextDigest),
		T:             holo.FormatDecimal(seal.T),
		Depth:         seal.Depth,
		SnapshotCount: len(seal.Snapshots),
		PayloadDigest: hex.EncodeToString(seal.PayloadDigest[:]),
		Anchor:        hex.EncodeToString(seal.Anchor[:]),
		CreatedAt:     time.Now().Unix(),
	}

	if s.anchorer != nil {
		receipt, anchorErr := s.anchorer.AnchorSeal(ctx, record.SessionID, seal.Anchor)
		if anchorErr != nil {
			wrapped := xerrors.Wrap(xerrors.CodeAnchorFailure, anchorErr, "封印锚定失败")
			logger.L().Warn("封印锚定失败，继续本地落库",
				slog.String("session_id", record.SessionID),
				slog.Any("error", wrapped),
			)
			s.dispatchAlert(ctx, record.SessionID, wrapped)
		} else {
			record.AnchorTx = receipt.TxHash
		}
	}

	record.Blob = blob
	if err := s.store.SaveSeal(ctx, record); err != nil {
		return nil, err
	}

	logger.Audit().Info("会话已封印",
		slog.String("session_id", record.SessionID),
		slog.String("anchor", record.Anchor),
		slog.Int("snapshot_count", record.SnapshotCount),
		slog.String("anchor_tx", record.AnchorTx),
	)

	return &SealResult{
		Info:          *s.infoLocked(live),
		PayloadDigest: record.PayloadDigest,
		Anchor:        record.Anchor,
		AnchorTx:      record.AnchorTx,
		Blob:          blob,
	}, nil
}

// VerifyPath 以十进制指纹与声称路径做重放校验，从 T0 出发。
func (s *Service) VerifyPath(claimedT string, path []string) (bool, string) {
	value, err := holo.ParseDecimal(claimedT)
	if err != nil {
		return false, err.Error()
	}
	inspector := trace.NewInspector(s.ctx, s.reg)
	return inspector.VerifyPath(value, path, s.ctx.T0(), 0)
}

// VerifySeal 校验已落库封印与给定负载是否一致。
func (s *Service) VerifySeal(ctx context.Context, sessionID string, payload []byte) (bool, string, error) {
	record, err := s.store.GetSeal(ctx, sessionID)
	if err != nil {
		return false, "", err
	}
	decoded, err := trace.Decode(record.Blob)
	if err != nil {
		return false, "", err
	}
	seal := &trace.Seal{
		Meta: trace.Meta{
			SessionID:     record.SessionID,
			BitLength:     record.BitLength,
			ContextDigest: digestBytes(decoded.Ctx),
		},
		T:         decoded.T,
		Depth:     decoded.Depth,
		Snapshots: decoded.Snapshots,
	}
	payloadDigest, err := hex.DecodeString(record.PayloadDigest)
	if err != nil || len(payloadDigest) != len(seal.PayloadDigest) {
		return false, "stored payload digest is malformed", nil
	}
	copy(seal.PayloadDigest[:], payloadDigest)
	anchorDigest, err := hex.DecodeString(record.Anchor)
	if err != nil || len(anchorDigest) != len(seal.Anchor) {
		return false, "stored anchor is malformed", nil
	}
	copy(seal.Anchor[:], anchorDigest)

	if !trace.NewSealer().Verify(seal, payload) {
		return false, "seal does not bind the given payload", nil
	}
	return true, "ok", nil
}

// Export 返回会话当前状态的串行化 blob。
func (s *Service) Export(sessionID string) ([]byte, error) {
	live, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	return trace.Encode(live.acc)
}

// Import 从状态 blob 恢复出一条新的会话。
// blob 携带自己的上下文；与服务上下文不同也允许恢复，注册表按需新建。
func (s *Service) Import(blob []byte) (*Info, error) {
	decoded, err := trace.Decode(blob)
	if err != nil {
		return nil, err
	}
	reg := s.reg
	if decoded.Ctx.Digest() != s.ctx.Digest() {
		reg = holo.NewRegistry(decoded.Ctx)
	}
	acc, err := trace.Restore(blob, reg)
	if err != nil {
		return nil, err
	}
	live := &liveSession{
		meta:      trace.NewMeta(decoded.Ctx),
		reg:       reg,
		acc:       acc,
		segments:  len(decoded.Snapshots),
		createdAt: time.Now().Unix(),
	}
	s.mu.Lock()
	s.sessions[live.meta.SessionID] = live
	s.mu.Unlock()
	return s.snapshotInfo(live), nil
}

// ListSeals 返回最近的封印记录。
func (s *Service) ListSeals(ctx context.Context, limit int) ([]*SealRecord, error) {
	return s.store.ListSeals(ctx, limit)
}

// Close 释放资源。
func (s *Service) Close() error {
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	if s.producer != nil {
		if closeErr := s.producer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

func (s *Service) lookup(sessionID string) (*liveSession, error) {
	if sessionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	s.mu.RLock()
	live, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return live, nil
}

func (s *Service) snapshotInfo(live *liveSession) *Info {
	live.mu.Lock()
	defer live.mu.Unlock()
	return s.infoLocked(live)
}

// infoLocked 要求调用方已持有 live.mu。
func (s *Service) infoLocked(live *liveSession) *Info {
	return &Info{
		SessionID:     live.meta.SessionID,
		T:             holo.FormatDecimal(live.acc.CurrentT()),
		Depth:         live.acc.Depth(),
		SnapshotCount: len(live.acc.SnapshotChain()),
		Sealed:        live.acc.IsSealed(),
		Path:          append([]string(nil), live.path...),
		OpCount:       live.acc.OpCount(),
		CreatedAt:     live.createdAt,
	}
}

// publishFolds 把新产生的折叠作为事件发布，发布失败只记录不回滚。
func (s *Service) publishFolds(ctx context.Context, sessionID string, live *liveSession, folded []trace.Snapshot) {
	for _, snapshot := range folded {
		event := FoldEvent{
			SessionID:  sessionID,
			Segment:    live.segments,
			T:          holo.FormatDecimal(snapshot.T),
			Depth:      snapshot.Depth,
			FoldSeed:   hex.EncodeToString(snapshot.FoldSeed[:]),
			OccurredAt: time.Now().Unix(),
		}
		live.segments++
		metrics.ObserveFold()
		if err := s.producer.Publish(ctx, event); err != nil {
			logger.L().Error("折叠事件发布失败",
				slog.Any("error", xerrors.Wrap(CodeSealPublish, err, "发布折叠事件失败")),
				slog.String("session_id", sessionID),
				slog.Int("segment", event.Segment),
			)
		}
	}
}

func (s *Service) dispatchAlert(ctx context.Context, sessionID string, err error) {
	if s.alerter == nil {
		return
	}
	coded, _ := xerrors.From(err)
	event := alerting.Event{
		Code:       coded.Code(),
		Message:    coded.Message(),
		Severity:   coded.Severity(),
		SessionID:  sessionID,
		OccurredAt: time.Now(),
	}
	if alertErr := s.alerter.Notify(ctx, event); alertErr != nil {
		logger.L().Warn("告警派发失败", slog.Any("error", alertErr))
	}
}

func digestBytes(ctx *holo.Context) []byte {
	digest := ctx.Digest()
	return digest[:]
}
