package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playonchain/arena/models"
)

// stubJoiner records submissions and can be forced to fail.
type stubJoiner struct {
	calls int
	err   error
}

func (j *stubJoiner) SubmitJoin(ctx context.Context, gameID, participant string, guess int) error {
	j.calls++
	return j.err
}

// stubResolver returns a fixed outcome value.
type stubResolver struct {
	value  int
	shared bool
	err    error
	calls  int
}

func (r *stubResolver) GetOrCreateOutcome(ctx context.Context, gameID string, round int) (int, bool, error) {
	r.calls++
	return r.value, r.shared, r.err
}

var testConfig = Config{
	ActivationDelay: 30 * time.Second,
	GuessWindow:     10 * time.Second,
	GameLifetime:    10 * time.Minute,
}

func newTestLifecycle(participant string, joiner Joiner, resolver Resolver, deployedAt time.Time) *Lifecycle {
	game := &models.GameRecord{
		ID:         "game-1",
		GameType:   "Elimination",
		DeployedAt: deployedAt,
	}
	return NewLifecycle(game, participant, testConfig, joiner, resolver)
}

// advance walks the lifecycle from fresh join up to the open guess window.
func advanceToGuess(t *testing.T, l *Lifecycle, deployedAt time.Time) time.Time {
	t.Helper()
	if err := l.Join(context.Background(), deployedAt.Add(5*time.Second)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	tickAt := deployedAt.Add(31 * time.Second)
	if phase := l.Tick(tickAt); phase != PhaseAwaitingGuess {
		t.Fatalf("expected awaiting_guess after activation, got %s", phase)
	}
	return tickAt
}

func TestLifecycle_JoinRequiresSession(t *testing.T) {
	joiner := &stubJoiner{}
	l := newTestLifecycle("", joiner, &stubResolver{}, time.Now())

	err := l.Join(context.Background(), time.Now())
	if err != ErrAuthRequired {
		t.Errorf("expected ErrAuthRequired, got %v", err)
	}
	if joiner.calls != 0 {
		t.Error("auth validation must happen before any network call")
	}
}

func TestLifecycle_SpectatorStaysWhenTimerElapses(t *testing.T) {
	deployedAt := time.Now()
	l := newTestLifecycle("0xaaa", &stubJoiner{}, &stubResolver{}, deployedAt)

	// No join before the activation deadline: no forced transition.
	phase := l.Tick(deployedAt.Add(31 * time.Second))
	if phase != PhaseNotJoined {
		t.Errorf("spectator must remain not_joined, got %s", phase)
	}

	// Joining after activation is rejected.
	err := l.Join(context.Background(), deployedAt.Add(31*time.Second))
	if err != ErrJoinClosed {
		t.Errorf("expected ErrJoinClosed, got %v", err)
	}
}

func TestLifecycle_ActivationScenario(t *testing.T) {
	deployedAt := time.Now()
	l := newTestLifecycle("0xaaa", &stubJoiner{}, &stubResolver{}, deployedAt)

	if err := l.Join(context.Background(), deployedAt.Add(5*time.Second)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if phase := l.Phase(); phase != PhaseJoinedWaiting {
		t.Fatalf("expected joined_waiting, got %s", phase)
	}

	// Before the deadline nothing moves.
	if phase := l.Tick(deployedAt.Add(29 * time.Second)); phase != PhaseJoinedWaiting {
		t.Errorf("expected joined_waiting before activation, got %s", phase)
	}

	// Poll at T0+31s: the round is open.
	if phase := l.Tick(deployedAt.Add(31 * time.Second)); phase != PhaseAwaitingGuess {
		t.Errorf("expected awaiting_guess at T0+31s, got %s", phase)
	}

	// The guess deadline is anchored at the activation instant, not the tick.
	snap := l.Snapshot()
	want := deployedAt.Add(30 * time.Second).Add(testConfig.GuessWindow)
	if !snap.RoundDeadline.Equal(want) {
		t.Errorf("round deadline = %v, want %v", snap.RoundDeadline, want)
	}
}

func TestLifecycle_GuessOutOfRangeRejectedLocally(t *testing.T) {
	deployedAt := time.Now()
	joiner := &stubJoiner{}
	l := newTestLifecycle("0xaaa", joiner, &stubResolver{}, deployedAt)
	at := advanceToGuess(t, l, deployedAt)
	joinCalls := joiner.calls

	for _, bad := range []int{0, 7, -1, 100} {
		if err := l.SubmitGuess(context.Background(), at, bad); err != ErrInvalidGuess {
			t.Errorf("guess %d: expected ErrInvalidGuess, got %v", bad, err)
		}
	}
	if joiner.calls != joinCalls {
		t.Error("invalid guesses must be rejected before any network call")
	}
	if l.Phase() != PhaseAwaitingGuess {
		t.Errorf("phase must be unchanged, got %s", l.Phase())
	}
}

func TestLifecycle_SurvivedIffGuessEqualsOutcome(t *testing.T) {
	for guess := 1; guess <= 6; guess++ {
		for value := 1; value <= 6; value++ {
			deployedAt := time.Now()
			resolver := &stubResolver{value: value, shared: true}
			l := newTestLifecycle("0xaaa", &stubJoiner{}, resolver, deployedAt)
			at := advanceToGuess(t, l, deployedAt)

			if err := l.SubmitGuess(context.Background(), at.Add(time.Second), guess); err != nil {
				t.Fatalf("SubmitGuess(%d) failed: %v", guess, err)
			}
			survived, err := l.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if survived != (guess == value) {
				t.Errorf("guess=%d value=%d: survived=%v", guess, value, survived)
			}
			wantPhase := PhaseResolvedEliminated
			if guess == value {
				wantPhase = PhaseResolvedSurvived
			}
			if l.Phase() != wantPhase {
				t.Errorf("guess=%d value=%d: phase=%s want %s", guess, value, l.Phase(), wantPhase)
			}
		}
	}
}

func TestLifecycle_TimeoutEliminatesWithoutOutcomeRequest(t *testing.T) {
	deployedAt := time.Now()
	resolver := &stubResolver{value: 3, shared: true}
	l := newTestLifecycle("0xaaa", &stubJoiner{}, resolver, deployedAt)
	at := advanceToGuess(t, l, deployedAt)

	phase := l.Tick(at.Add(testConfig.GuessWindow + time.Second))
	if phase != PhaseTimedOutEliminated {
		t.Fatalf("expected timed_out_eliminated, got %s", phase)
	}
	if resolver.calls != 0 {
		t.Error("auto-elimination must not request an outcome value")
	}
}

func TestLifecycle_LateResolutionCannotResurrect(t *testing.T) {
	deployedAt := time.Now()
	resolver := &stubResolver{value: 4, shared: true}
	l := newTestLifecycle("0xaaa", &stubJoiner{}, resolver, deployedAt)
	at := advanceToGuess(t, l, deployedAt)

	if err := l.SubmitGuess(context.Background(), at.Add(time.Second), 4); err != nil {
		t.Fatalf("SubmitGuess failed: %v", err)
	}

	// The deadline fires before the resolution response lands.
	l.mutex.Lock()
	l.changeTo(PhaseTimedOutEliminated)
	l.mutex.Unlock()

	_, err := l.Resolve(context.Background())
	if err != ErrNoPendingGuess && err != ErrStaleResolution {
		t.Errorf("late resolution must be discarded, got %v", err)
	}
	if l.Phase() != PhaseTimedOutEliminated {
		t.Errorf("player must remain timed_out_eliminated, got %s", l.Phase())
	}
}

func TestLifecycle_ResolveFailureEliminatesConservatively(t *testing.T) {
	deployedAt := time.Now()
	resolver := &stubResolver{err: errors.New("store down")}
	l := newTestLifecycle("0xaaa", &stubJoiner{}, resolver, deployedAt)
	at := advanceToGuess(t, l, deployedAt)

	if err := l.SubmitGuess(context.Background(), at.Add(time.Second), 2); err != nil {
		t.Fatalf("SubmitGuess failed: %v", err)
	}
	survived, err := l.Resolve(context.Background())
	if err == nil {
		t.Fatal("expected an error from Resolve")
	}
	if survived {
		t.Error("resolution failure must not report survival")
	}
	if l.Phase() != PhaseResolvedEliminated {
		t.Errorf("expected resolved_eliminated, got %s", l.Phase())
	}
}

func TestLifecycle_SubmitFailureEliminatesConservatively(t *testing.T) {
	deployedAt := time.Now()
	joiner := &stubJoiner{}
	l := newTestLifecycle("0xaaa", joiner, &stubResolver{}, deployedAt)
	at := advanceToGuess(t, l, deployedAt)

	joiner.err = errors.New("chain unreachable")
	if err := l.SubmitGuess(context.Background(), at.Add(time.Second), 3); err == nil {
		t.Fatal("expected an error from SubmitGuess")
	}
	if l.Phase() != PhaseResolvedEliminated {
		t.Errorf("expected resolved_eliminated, got %s", l.Phase())
	}
}

func TestLifecycle_SurvivorAdvancesToNextRound(t *testing.T) {
	deployedAt := time.Now()
	resolver := &stubResolver{value: 5, shared: true}
	l := newTestLifecycle("0xaaa", &stubJoiner{}, resolver, deployedAt)
	at := advanceToGuess(t, l, deployedAt)

	if err := l.SubmitGuess(context.Background(), at.Add(time.Second), 5); err != nil {
		t.Fatalf("SubmitGuess failed: %v", err)
	}
	if _, err := l.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if l.Phase() != PhaseResolvedSurvived {
		t.Fatalf("expected resolved_survived, got %s", l.Phase())
	}

	next := at.Add(5 * time.Second)
	if phase := l.Tick(next); phase != PhaseAwaitingGuess {
		t.Fatalf("survivor should enter the next round, got %s", phase)
	}
	if l.Round() != 2 {
		t.Errorf("expected round 2, got %d", l.Round())
	}
	snap := l.Snapshot()
	if !snap.RoundDeadline.Equal(next.Add(testConfig.GuessWindow)) {
		t.Errorf("round 2 deadline = %v, want %v", snap.RoundDeadline, next.Add(testConfig.GuessWindow))
	}
}

func TestLifecycle_GameLifetimeForcesGameOver(t *testing.T) {
	deployedAt := time.Now()
	l := newTestLifecycle("0xaaa", &stubJoiner{}, &stubResolver{}, deployedAt)
	advanceToGuess(t, l, deployedAt)

	phase := l.Tick(deployedAt.Add(testConfig.GameLifetime))
	if phase != PhaseGameOver {
		t.Fatalf("expected game_over, got %s", phase)
	}

	// GameOver is sticky: further ticks and actions change nothing.
	if phase := l.Tick(deployedAt.Add(testConfig.GameLifetime + time.Hour)); phase != PhaseGameOver {
		t.Errorf("game_over must be sticky, got %s", phase)
	}
	if err := l.SubmitGuess(context.Background(), deployedAt, 3); err != ErrNotAwaitingGuess {
		t.Errorf("expected ErrNotAwaitingGuess after game over, got %v", err)
	}
}
