// reconciler/reconciler.go
package reconciler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/oracle"
	"github.com/playonchain/arena/persistence"
	"github.com/playonchain/arena/timer"
)

// 单轮同步的最大并发游戏数
const maxConcurrentSyncs = 8

// RosterListener 在名单被覆盖后收到通知（用于推送与指标）
type RosterListener func(gameID string, players []string)

// Reconciler 周期性地把外部链上名单同步进存储。
// 链上名单是权威来源：发现差异时整体覆盖，不做合并。
// 同一游戏的同步不会并发交错（single-flight），避免互相踩写。
type Reconciler struct {
	store    persistence.Store
	source   oracle.Oracle
	interval time.Duration
	timers   *timer.TimerManager
	listener RosterListener
	runHook  func()

	mutex       sync.Mutex
	inFlight    map[string]bool
	failures    map[string]int
	nextAllowed map[string]time.Time
	timerID     int64
	started     bool
}

// Option 配置可选协作者
type Option func(*Reconciler)

// WithRosterListener 注册名单变更回调
func WithRosterListener(fn RosterListener) Option {
	return func(r *Reconciler) { r.listener = fn }
}

// WithRunHook 在每轮同步开始时触发，用于接监控计数
func WithRunHook(fn func()) Option {
	return func(r *Reconciler) { r.runHook = fn }
}

func NewReconciler(store persistence.Store, source oracle.Oracle, interval time.Duration, opts ...Option) *Reconciler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	r := &Reconciler{
		store:       store,
		source:      source,
		interval:    interval,
		timers:      timer.NewTimerManager(),
		inFlight:    make(map[string]bool),
		failures:    make(map[string]int),
		nextAllowed: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 启动轮询调度
func (r *Reconciler) Start() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.timerID = r.timers.AddTimer(r.interval, r.interval, func() {
		go r.RunOnce(context.Background())
	})
	logger.Log.Infof("roster reconciler started, interval=%s", r.interval)
}

// Stop 停止调度；进行中的单次同步会自然结束
func (r *Reconciler) Stop() {
	r.timers.RemoveTimer(r.timerID)
	r.timers.Stop()
}

// RunOnce 对所有活跃游戏跑一轮同步。列表失败只记日志，下个周期重试。
func (r *Reconciler) RunOnce(ctx context.Context) {
	if r.runHook != nil {
		r.runHook()
	}
	games, err := r.store.ListGames(ctx)
	if err != nil {
		logger.Log.Warnf("reconcile: list games failed: %v", err)
		return
	}

	now := time.Now()
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentSyncs)
	for i := range games {
		game := games[i]
		if !game.IsActive {
			continue
		}
		if !r.acquire(game.ID, now) {
			continue
		}
		g.Go(func() error {
			defer r.release(game.ID)
			r.reconcileGame(ctx, &game)
			return nil
		})
	}
	g.Wait()
}

// acquire 同一游戏同一时刻只允许一个同步；退避期内的游戏跳过本轮
func (r *Reconciler) acquire(gameID string, now time.Time) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.inFlight[gameID] {
		return false
	}
	if until, ok := r.nextAllowed[gameID]; ok && now.Before(until) {
		return false
	}
	r.inFlight[gameID] = true
	return true
}

func (r *Reconciler) release(gameID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.inFlight, gameID)
}

// backoff 连续失败后按指数退避并加抖动，防止所有客户端同拍重试
func (r *Reconciler) backoff(failures int) time.Duration {
	d := r.interval * time.Duration(1<<uint(failures-1))
	if limit := time.Minute; d > limit {
		d = limit
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d + jitter
}

func (r *Reconciler) noteFailure(gameID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.failures[gameID]++
	r.nextAllowed[gameID] = time.Now().Add(r.backoff(r.failures[gameID]))
}

func (r *Reconciler) noteSuccess(gameID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.failures, gameID)
	delete(r.nextAllowed, gameID)
}

// reconcileGame 同步单个游戏。幂等：外部名单没有变化时不产生任何写入。
func (r *Reconciler) reconcileGame(ctx context.Context, game *models.GameRecord) {
	external, err := r.source.GetRoster(ctx, game.ID)
	if err != nil {
		// 名单同步失败从不致命，记日志等下个周期
		logger.Log.Warnf("reconcile game %s: fetch roster failed: %v", game.ID, err)
		r.noteFailure(game.ID)
		return
	}
	r.noteSuccess(game.ID)

	if rostersEqual(game.Players, external) {
		return
	}

	// 空名单防护：链上返回空而本地已有玩家时不覆盖。
	// 继承的原始行为会在这里清掉整个名单，这里显式挡住并把异常写进日志。
	if len(external) == 0 && len(game.Players) > 0 {
		logger.Log.Warnf("reconcile game %s: oracle returned empty roster while %d players stored, skipping overwrite",
			game.ID, len(game.Players))
		return
	}

	if err := r.store.SetPlayers(ctx, game.ID, external); err != nil {
		logger.Log.Warnf("reconcile game %s: store roster failed: %v", game.ID, err)
		r.noteFailure(game.ID)
		return
	}

	logger.Log.Infof("reconcile game %s: roster updated %d -> %d players",
		game.ID, len(game.Players), len(external))
	if r.listener != nil {
		r.listener(game.ID, external)
	}
}

// rostersEqual 按集合比较（对称差为空即视为一致）
func rostersEqual(stored, external []string) bool {
	if len(stored) != len(external) {
		return false
	}
	seen := make(map[string]struct{}, len(stored))
	for _, p := range stored {
		seen[p] = struct{}{}
	}
	for _, p := range external {
		if _, ok := seen[p]; !ok {
			return false
		}
	}
	return true
}
