package state

import (
	"errors"
	"sync"
	"time"
)

// 阶段标识
const (
	PhaseNotJoined          = "not_joined"
	PhaseJoinedWaiting      = "joined_waiting"
	PhaseAwaitingGuess      = "awaiting_guess"
	PhaseSubmittedWaiting   = "submitted_waiting"
	PhaseResolvedSurvived   = "resolved_survived"
	PhaseResolvedEliminated = "resolved_eliminated"
	PhaseTimedOutEliminated = "timed_out_eliminated"
	PhaseGameOver           = "game_over"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from State, to State, condition func() bool) error
}

// 状态接口
type State interface {
	OnEnter()
	OnExit()
	// OnUpdate 由定时 tick 驱动，now 为当前墙钟时间。
	// 所有倒计时都从绝对截止时刻重新计算，而不是递减计数器。
	OnUpdate(now time.Time)
	GetID() string
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// terminal phases are sticky: once entered no transition may leave them,
// so a late network response can never resurrect an eliminated player.
var terminalPhases = map[string]bool{
	PhaseResolvedEliminated: true,
	PhaseTimedOutEliminated: true,
	PhaseGameOver:           true,
}

// IsTerminal reports whether a phase permits no further transitions.
func IsTerminal(phase string) bool {
	return terminalPhases[phase]
}

// 基础状态机实现
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]func() bool),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	if terminalPhases[currentID] {
		return ErrTransitionNotAllowed
	}

	// 检查是否有转换条件
	if conditions, exists := sm.transitions[currentID]; exists {
		if condition, exists := conditions[newID]; exists {
			if condition != nil && !condition() {
				return ErrTransitionNotAllowed
			}
		}
	}

	sm.currentState.OnExit()
	sm.currentState = newState
	sm.currentState.OnEnter()

	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from State, to State, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fromID := from.GetID()
	toID := to.GetID()

	if _, exists := sm.transitions[fromID]; !exists {
		sm.transitions[fromID] = make(map[string]func() bool)
	}

	sm.transitions[fromID][toID] = condition
	return nil
}

// 阶段状态基础结构
type PhaseStateBase struct {
	ID        string
	Lifecycle *Lifecycle
}

func (s *PhaseStateBase) GetID() string {
	return s.ID
}

func (s *PhaseStateBase) OnEnter() {
	// 默认实现
}

func (s *PhaseStateBase) OnExit() {
	// 默认实现
}

func (s *PhaseStateBase) OnUpdate(now time.Time) {
	// 默认实现，具体状态可以覆盖此方法
}
