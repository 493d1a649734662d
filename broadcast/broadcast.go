// broadcast/broadcast.go
package broadcast

import (
	"github.com/playonchain/arena/session"
)

// 广播接口
type Broadcaster interface {
	BroadcastToGame(gameID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
	BroadcastToAddresses(addresses []string, msgID uint16, data []byte) error
}

// 基于订阅的广播器
type GameBroadcaster struct {
	sessionManager *session.Manager
}

func NewGameBroadcaster(sessionManager *session.Manager) *GameBroadcaster {
	return &GameBroadcaster{
		sessionManager: sessionManager,
	}
}

func (b *GameBroadcaster) BroadcastToGame(gameID string, msgID uint16, data []byte) error {
	sessions := b.sessionManager.SubscribersOf(gameID)

	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			// 处理发送错误，可能需要移除会话
			continue
		}
	}

	return nil
}

func (b *GameBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	for _, s := range b.sessionManager.All() {
		if err := s.Send(msgID, data); err != nil {
			continue
		}
	}
	return nil
}

func (b *GameBroadcaster) BroadcastToAddresses(addresses []string, msgID uint16, data []byte) error {
	for _, addr := range addresses {
		sessions := b.sessionManager.GetByAddress(addr)
		for _, s := range sessions {
			if err := s.Send(msgID, data); err != nil {
				// 处理发送错误
				continue
			}
		}
	}
	return nil
}
