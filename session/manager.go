package session

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/convoloop/types"
)

// Manager 管理一组并发会话的注册与批量停止。
type Manager struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器。
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Add 注册会话,ID 重复时报错。
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID()]; exists {
		return types.NewError(types.ErrInvalidRequest, "session already registered: "+s.ID())
	}
	m.sessions[s.ID()] = s
	return nil
}

// Get 按 ID 取会话。
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove 注销会话,返回是否存在。不会停止会话本身。
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// IDs 返回已注册会话 ID,按字典序。
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshots 导出所有会话的当前快照。
func (m *Manager) Snapshots() []*types.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := make([]*types.Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SessionID < snaps[j].SessionID })
	return snaps
}

// StopAll 并发停止所有未终止的会话,聚合首个错误。
// 已终止的会话跳过,不视为错误。
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		if s.State() == StateTerminated {
			continue
		}
		g.Go(func() error {
			if err := s.Stop(ctx); err != nil {
				if types.GetErrorCode(err) == types.ErrSessionTerminated {
					return nil
				}
				m.logger.Warn("failed to stop session",
					zap.String("session", s.ID()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
