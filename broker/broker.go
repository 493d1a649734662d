// broker/broker.go
package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/persistence"
)

// OutcomeBroker 保证每个 (game, round) 只产生一个共享点数。
// 多个客户端可能同时抢先请求解析；谁先把值写进存储谁赢，
// 输家丢弃本地生成的值，改用已落盘的值。
type OutcomeBroker struct {
	store    persistence.Store
	rand     *rand.Rand
	mutex    sync.Mutex
	raceHook func()
}

func NewOutcomeBroker(store persistence.Store) *OutcomeBroker {
	return &OutcomeBroker{
		store: store,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnRaceLost 注册输掉写入竞争时的回调，用于接监控计数
func (b *OutcomeBroker) OnRaceLost(fn func()) {
	b.raceHook = fn
}

func (b *OutcomeBroker) roll() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.rand.Intn(models.MaxGuess-models.MinGuess+1) + models.MinGuess
}

// GetOrCreateOutcome 返回本局的共享点数。
// shared=false 表示存储不可用、返回的是未持久化的本地值：
// 调用方必须把这种降级当作显式的警告条件，而不是当没发生。
func (b *OutcomeBroker) GetOrCreateOutcome(ctx context.Context, gameID string, round int) (int, bool, error) {
	// 先读，多数调用者会命中已有结果
	if value, err := b.store.GetOutcome(ctx, gameID, round); err == nil {
		return value, true, nil
	} else if err != persistence.ErrRecordNotFound {
		return b.degraded(gameID, round, err)
	}

	candidate := b.roll()
	stored, first, err := b.store.CreateOutcomeIfAbsent(ctx, gameID, round, candidate)
	if err != nil {
		return b.degraded(gameID, round, err)
	}
	if !first {
		logger.Log.Debugf("game %s round %d: lost outcome race, using stored value %d",
			gameID, round, stored)
		if b.raceHook != nil {
			b.raceHook()
		}
	}
	return stored, true, nil
}

// degraded 存储不可达时退回本地值，但绝不静默：打警告日志并在返回值里标明
func (b *OutcomeBroker) degraded(gameID string, round int, cause error) (int, bool, error) {
	value := b.roll()
	logger.Log.Warnf("game %s round %d: outcome store unreachable (%v), serving local value %d without persistence",
		gameID, round, cause, value)
	return value, false, nil
}
