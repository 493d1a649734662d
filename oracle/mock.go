// oracle/mock.go
package oracle

import (
	"context"
	"sync"
)

// MockOracle 内存名单实现，用于开发模式与测试。
// 加入请求立即生效，下一次 GetRoster 即可见。
type MockOracle struct {
	mutex   sync.RWMutex
	rosters map[string][]string
	closed  map[string]bool

	// FailNext 非零时，接下来的 FailNext 次调用返回 ErrOracleUnavailable。
	FailNext int
}

func NewMockOracle() *MockOracle {
	return &MockOracle{
		rosters: make(map[string][]string),
		closed:  make(map[string]bool),
	}
}

func (o *MockOracle) failing() bool {
	if o.FailNext > 0 {
		o.FailNext--
		return true
	}
	return false
}

func (o *MockOracle) GetRoster(ctx context.Context, gameID string) ([]string, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.failing() {
		return nil, ErrOracleUnavailable
	}
	return append([]string(nil), o.rosters[gameID]...), nil
}

func (o *MockOracle) SubmitJoin(ctx context.Context, gameID, participant string, guess int) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.failing() {
		return ErrOracleUnavailable
	}
	if o.closed[gameID] {
		return ErrGameClosed
	}
	for _, p := range o.rosters[gameID] {
		if p == participant {
			return nil
		}
	}
	o.rosters[gameID] = append(o.rosters[gameID], participant)
	return nil
}

// SetRoster 覆盖链上名单（测试钩子）
func (o *MockOracle) SetRoster(gameID string, roster []string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.rosters[gameID] = append([]string(nil), roster...)
}

// CloseGame 标记游戏在链上已关闭
func (o *MockOracle) CloseGame(gameID string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.closed[gameID] = true
}
