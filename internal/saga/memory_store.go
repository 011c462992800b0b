package saga

import (
	"context"
	"sort"
	"sync"

	xerrors "GigFlow/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，主要用于测试与本地开发。
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*TaskState
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*TaskState)}
}

// Save 实现 StateStore 接口，整条覆盖写入。
func (m *MemoryStore) Save(_ context.Context, state *TaskState) error {
	if state == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	if state.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.TaskID] = state.Clone()
	return nil
}

// Load 返回任务状态副本。
func (m *MemoryStore) Load(_ context.Context, taskID string) (*TaskState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return state.Clone(), nil
}

// ListUnfinished 返回所有未进入终态的任务，按更新时间升序排列。
func (m *MemoryStore) ListUnfinished(_ context.Context, limit int) ([]*TaskState, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*TaskState, 0, len(m.states))
	for _, state := range m.states {
		if state.Terminal() {
			continue
		}
		results = append(results, state.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].TaskID < results[j].TaskID
		}
		return results[i].UpdatedAt.Before(results[j].UpdatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListRecent 按更新时间倒序返回最近的任务。
func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]*TaskState, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*TaskState, 0, len(m.states))
	for _, state := range m.states {
		results = append(results, state.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].TaskID > results[j].TaskID
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ StateStore = (*MemoryStore)(nil)

// MemoryCache 以内存方式实现 StateCache，主要用于测试。
type MemoryCache struct {
	mu     sync.RWMutex
	states map[string]*TaskState
}

// NewMemoryCache 创建 MemoryCache。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{states: make(map[string]*TaskState)}
}

// Put 实现 StateCache 接口。
func (m *MemoryCache) Put(_ context.Context, state *TaskState) error {
	if state == nil || state.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "state 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.TaskID] = state.Clone()
	return nil
}

// Get 返回缓存中的任务状态副本。
func (m *MemoryCache) Get(_ context.Context, taskID string) (*TaskState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return state.Clone(), nil
}

// Delete 移除缓存条目。
func (m *MemoryCache) Delete(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, taskID)
	return nil
}

// Close 对内存缓存无需操作。
func (m *MemoryCache) Close() error {
	return nil
}

var _ StateCache = (*MemoryCache)(nil)
