package session

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "Sigha-Chain/internal/errors"
)

// MemoryStore 以内存方式保存封印记录，主要用于测试。
type MemoryStore struct {
	mu    sync.RWMutex
	seals map[string]*SealRecord
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seals: make(map[string]*SealRecord)}
}

// SaveSeal 实现 Store 接口。同一会话重复封印视为冲突。
func (m *MemoryStore) SaveSeal(_ context.Context, record *SealRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if record.SessionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seals[record.SessionID]; ok {
		return xerrors.New(xerrors.CodeConflict, "会话已存在封印记录")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	clone := *record
	clone.Blob = append([]byte(nil), record.Blob...)
	m.seals[record.SessionID] = &clone
	return nil
}

// GetSeal 返回指定会话的封印记录。
func (m *MemoryStore) GetSeal(_ context.Context, sessionID string) (*SealRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.seals[sessionID]
	if !ok {
		return nil, ErrSealNotFound
	}
	clone := *record
	clone.Blob = append([]byte(nil), record.Blob...)
	return &clone, nil
}

// ListSeals 返回最近的封印记录，按时间倒序排列。
func (m *MemoryStore) ListSeals(_ context.Context, limit int) ([]*SealRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	records := make([]*SealRecord, 0, len(m.seals))
	for _, record := range m.seals {
		clone := *record
		clone.Blob = append([]byte(nil), record.Blob...)
		records = append(records, &clone)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt == records[j].CreatedAt {
			return records[i].SessionID > records[j].SessionID
		}
		return records[i].CreatedAt > records[j].CreatedAt
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
