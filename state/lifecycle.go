package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
)

// 本地校验错误，一律在任何网络调用之前返回
var (
	ErrAuthRequired      = errors.New("wallet session required")
	ErrInvalidGuess      = errors.New("guess must be an integer between 1 and 6")
	ErrAlreadyJoined     = errors.New("already joined this game")
	ErrJoinClosed        = errors.New("join window has closed")
	ErrNotAwaitingGuess  = errors.New("no guess expected in current phase")
	ErrNoPendingGuess    = errors.New("no guess awaiting resolution")
	ErrStaleResolution   = errors.New("resolution arrived after a terminal phase")
	ErrGuessWindowClosed = errors.New("guess window has closed")
)

// Config 生命周期时间参数
type Config struct {
	ActivationDelay time.Duration
	GuessWindow     time.Duration
	GameLifetime    time.Duration
}

// Joiner 向链上提交加入/出手意图
type Joiner interface {
	SubmitJoin(ctx context.Context, gameID, participant string, guess int) error
}

// Resolver 获取共享的每局结果
type Resolver interface {
	GetOrCreateOutcome(ctx context.Context, gameID string, round int) (value int, shared bool, err error)
}

// Lifecycle 单个玩家在单个游戏里的阶段机。
// 所有转换由三类事件驱动：定时 tick、用户动作、网络响应。
// 进入终态后任何迟到的响应都会被丢弃。
type Lifecycle struct {
	gameID      string
	participant string
	deployedAt  time.Time
	cfg         Config
	joiner      Joiner
	resolver    Resolver

	machine *BaseStateMachine
	mutex   sync.Mutex

	joinedAt   time.Time
	round      int
	roundStart time.Time
	guess      int
	outcome    int
	survived   bool
}

// Snapshot 供轮询方渲染的只读视图
type Snapshot struct {
	GameID        string    `json:"gameId"`
	Participant   string    `json:"participant"`
	Phase         string    `json:"phase"`
	Round         int       `json:"round"`
	Guess         int       `json:"guess,omitempty"`
	Outcome       int       `json:"outcome,omitempty"`
	Survived      bool      `json:"survived"`
	RoundDeadline time.Time `json:"roundDeadline,omitempty"`
}

// NewLifecycle 创建阶段机，participant 为空表示未连接钱包的旁观者
func NewLifecycle(game *models.GameRecord, participant string, cfg Config, joiner Joiner, resolver Resolver) *Lifecycle {
	l := &Lifecycle{
		gameID:      game.ID,
		participant: participant,
		deployedAt:  game.DeployedAt,
		cfg:         cfg,
		joiner:      joiner,
		resolver:    resolver,
		round:       1,
	}
	l.machine = NewBaseStateMachine(&notJoinedState{PhaseStateBase{ID: PhaseNotJoined, Lifecycle: l}})
	return l
}

func (l *Lifecycle) activationDeadline() time.Time {
	return l.deployedAt.Add(l.cfg.ActivationDelay)
}

func (l *Lifecycle) gameEndDeadline() time.Time {
	return l.deployedAt.Add(l.cfg.GameLifetime)
}

func (l *Lifecycle) guessDeadline() time.Time {
	return l.roundStart.Add(l.cfg.GuessWindow)
}

// Phase 当前阶段
func (l *Lifecycle) Phase() string {
	return l.machine.GetCurrentState().GetID()
}

// Round 当前局数
func (l *Lifecycle) Round() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.round
}

// Snapshot 读取当前状态
func (l *Lifecycle) Snapshot() Snapshot {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	snap := Snapshot{
		GameID:      l.gameID,
		Participant: l.participant,
		Phase:       l.machine.GetCurrentState().GetID(),
		Round:       l.round,
		Guess:       l.guess,
		Outcome:     l.outcome,
		Survived:    l.survived,
	}
	if snap.Phase == PhaseAwaitingGuess {
		snap.RoundDeadline = l.guessDeadline()
	}
	return snap
}

// changeTo 持锁状态下切换阶段。进入终态的尝试失败时只记录日志：
// 基础状态机已经保证终态不可离开。
func (l *Lifecycle) changeTo(phase string) {
	var next State
	base := PhaseStateBase{ID: phase, Lifecycle: l}
	switch phase {
	case PhaseJoinedWaiting:
		next = &joinedWaitingState{base}
	case PhaseAwaitingGuess:
		next = &awaitingGuessState{base}
	case PhaseSubmittedWaiting:
		next = &submittedWaitingState{base}
	case PhaseResolvedSurvived:
		next = &resolvedSurvivedState{base}
	case PhaseResolvedEliminated, PhaseTimedOutEliminated, PhaseGameOver:
		next = &terminalState{base}
	default:
		next = &notJoinedState{base}
	}
	if err := l.machine.ChangeState(next); err != nil {
		logger.Log.Debugf("game %s: transition to %s blocked: %v", l.gameID, phase, err)
	}
}

// Join 加入游戏。钱包校验在本地完成，不触发网络调用。
// 链上提交失败按保守策略直接淘汰，避免停留在不明确的中间态。
func (l *Lifecycle) Join(ctx context.Context, now time.Time) error {
	if l.participant == "" {
		return ErrAuthRequired
	}

	l.mutex.Lock()
	if l.Phase() != PhaseNotJoined {
		l.mutex.Unlock()
		return ErrAlreadyJoined
	}
	if !now.Before(l.activationDeadline()) {
		l.mutex.Unlock()
		return ErrJoinClosed
	}
	l.mutex.Unlock()

	err := l.joiner.SubmitJoin(ctx, l.gameID, l.participant, 0)

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.Phase() != PhaseNotJoined {
		return ErrAlreadyJoined
	}
	if err != nil {
		l.changeTo(PhaseResolvedEliminated)
		return fmt.Errorf("submit join: %w", err)
	}
	l.joinedAt = now
	l.changeTo(PhaseJoinedWaiting)
	return nil
}

// SubmitGuess 在出手窗口内提交猜测。范围校验先于一切网络调用。
func (l *Lifecycle) SubmitGuess(ctx context.Context, now time.Time, guess int) error {
	if !models.ValidGuess(guess) {
		return ErrInvalidGuess
	}

	l.mutex.Lock()
	if l.Phase() != PhaseAwaitingGuess {
		l.mutex.Unlock()
		return ErrNotAwaitingGuess
	}
	if !now.Before(l.guessDeadline()) {
		// 窗口已过，按超时淘汰处理
		l.changeTo(PhaseTimedOutEliminated)
		l.mutex.Unlock()
		return ErrGuessWindowClosed
	}
	round := l.round
	l.mutex.Unlock()

	err := l.joiner.SubmitJoin(ctx, l.gameID, l.participant, guess)

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.Phase() != PhaseAwaitingGuess || l.round != round {
		// tick 已经把这一局关掉了，结果不再适用
		return ErrStaleResolution
	}
	if err != nil {
		l.changeTo(PhaseResolvedEliminated)
		return fmt.Errorf("submit guess: %w", err)
	}
	l.guess = guess
	l.changeTo(PhaseSubmittedWaiting)
	return nil
}

// Resolve 向结果代理索取本局共享点数并判定存活。
// 迟到的解析（终态已达成或局数已推进）被丢弃而不是套用。
func (l *Lifecycle) Resolve(ctx context.Context) (bool, error) {
	l.mutex.Lock()
	if l.Phase() != PhaseSubmittedWaiting {
		l.mutex.Unlock()
		return false, ErrNoPendingGuess
	}
	round := l.round
	guess := l.guess
	l.mutex.Unlock()

	value, shared, err := l.resolver.GetOrCreateOutcome(ctx, l.gameID, round)

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.Phase() != PhaseSubmittedWaiting || l.round != round {
		return false, ErrStaleResolution
	}
	if err != nil {
		// 保守失败策略：网络问题按淘汰处理，不留悬挂的等待态
		l.changeTo(PhaseResolvedEliminated)
		return false, fmt.Errorf("resolve outcome: %w", err)
	}
	if !shared {
		logger.Log.Warnf("game %s round %d: outcome resolved in degraded local mode", l.gameID, round)
	}

	l.outcome = value
	l.survived = guess == value
	if l.survived {
		l.changeTo(PhaseResolvedSurvived)
	} else {
		l.changeTo(PhaseResolvedEliminated)
	}
	return l.survived, nil
}

// Tick 由定时器驱动，推进所有基于截止时刻的转换。
// 返回 tick 之后的阶段。
func (l *Lifecycle) Tick(now time.Time) string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	current := l.machine.GetCurrentState()
	if !IsTerminal(current.GetID()) && !now.Before(l.gameEndDeadline()) {
		// 游戏整体到期压过一切进行中的阶段
		l.changeTo(PhaseGameOver)
		return PhaseGameOver
	}

	current.OnUpdate(now)
	return l.machine.GetCurrentState().GetID()
}

// --- 各阶段实现 ---

// 旁观者：激活时刻前未加入则永远停留在此，没有强制转换
type notJoinedState struct {
	PhaseStateBase
}

// 已加入，等待激活时刻
type joinedWaitingState struct {
	PhaseStateBase
}

func (s *joinedWaitingState) OnUpdate(now time.Time) {
	l := s.Lifecycle
	if !now.Before(l.activationDeadline()) {
		// 第一局从激活时刻起算，而不是从观察到它的 tick 起算
		l.roundStart = l.activationDeadline()
		l.changeTo(PhaseAwaitingGuess)
	}
}

// 出手窗口内等待玩家提交
type awaitingGuessState struct {
	PhaseStateBase
}

func (s *awaitingGuessState) OnEnter() {
	l := s.Lifecycle
	logger.Log.Infof("game %s round %d: guess window open until %s",
		l.gameID, l.round, l.guessDeadline().Format(time.RFC3339))
}

func (s *awaitingGuessState) OnUpdate(now time.Time) {
	l := s.Lifecycle
	if !now.Before(l.guessDeadline()) {
		// 窗口耗尽自动淘汰，不请求结果值
		l.changeTo(PhaseTimedOutEliminated)
	}
}

// 已提交，等待共享结果
type submittedWaitingState struct {
	PhaseStateBase
}

// 本局存活，下一个 tick 进入新一局
type resolvedSurvivedState struct {
	PhaseStateBase
}

func (s *resolvedSurvivedState) OnUpdate(now time.Time) {
	l := s.Lifecycle
	l.round++
	l.roundStart = now
	l.guess = 0
	l.outcome = 0
	l.changeTo(PhaseAwaitingGuess)
}

// 终态：淘汰 / 超时淘汰 / 游戏结束
type terminalState struct {
	PhaseStateBase
}
