// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/playonchain/arena/network"
)

// Session 一条到大厅的 WebSocket 连接。
// Address 是玩家连接钱包后认证的地址，旁观者为空。
// 会话状态只存在于连接生命周期内，不跨重连持久化。
type Session struct {
	ID            string
	Conn          network.Connection
	Address       string
	CreatedAt     time.Time
	lastActive    time.Time
	subscriptions map[string]bool // gameID -> subscribed
	mutex         sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:            id,
		Conn:          conn,
		CreatedAt:     now,
		lastActive:    now,
		subscriptions: make(map[string]bool),
	}
}

// Subscribe 订阅某个游戏的推送
func (s *Session) Subscribe(gameID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.subscriptions[gameID] = true
}

// Unsubscribe 取消订阅
func (s *Session) Unsubscribe(gameID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.subscriptions, gameID)
}

// SubscribedTo 是否订阅了该游戏
func (s *Session) SubscribedTo(gameID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.subscriptions[gameID]
}

// SetAddress 记录认证后的钱包地址
func (s *Session) SetAddress(addr string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Address = addr
}

// GetAddress 读取钱包地址，未认证返回空串
func (s *Session) GetAddress() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Address
}

// Touch 刷新活跃时间。读循环和广播协程都会调用，必须持锁。
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

// LastActive 最近一次收发消息的时间
func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Send(msgID uint16, data []byte) error {
	s.Touch()
	return s.Conn.Send(msgID, data)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// Count 当前在线会话数
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// GetByAddress 同一钱包可能有多个并发会话（多标签页）
func (m *Manager) GetByAddress(addr string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.GetAddress() == addr {
			result = append(result, session)
		}
	}
	return result
}

// SubscribersOf 返回订阅了某游戏的所有会话
func (m *Manager) SubscribersOf(gameID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.SubscribedTo(gameID) {
			result = append(result, session)
		}
	}
	return result
}

// All 返回所有会话的快照
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}
