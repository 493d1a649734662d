package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/state"
)

// restArena 把阶段机的链上意图转成对 HTTP 层的真实请求，
// 路由规则与命令行客户端一致：guess 为 0 走报名，否则走出手。
type restArena struct {
	t *testing.T
}

func (a *restArena) SubmitJoin(ctx context.Context, gameID, participant string, guess int) error {
	var code int
	if guess == 0 {
		w := doJSON(a.t, http.MethodPost, fmt.Sprintf("/api/games/%s/join", gameID),
			map[string]string{"participant": participant})
		code = w.Code
	} else {
		w := doJSON(a.t, http.MethodPost, fmt.Sprintf("/api/games/%s/guess", gameID),
			map[string]interface{}{"participant": participant, "guess": guess})
		code = w.Code
	}
	if code != http.StatusOK {
		return fmt.Errorf("unexpected status %d", code)
	}
	return nil
}

func (a *restArena) GetOrCreateOutcome(ctx context.Context, gameID string, round int) (int, bool, error) {
	w := doJSON(a.t, http.MethodPost, fmt.Sprintf("/api/games/%s/outcome", gameID),
		map[string]int{"round": round})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		return 0, false, fmt.Errorf("unexpected status %d", w.Code)
	}
	var resp struct {
		Value  int  `json:"value"`
		Shared bool `json:"shared"`
	}
	decode(a.t, w, &resp)
	return resp.Value, resp.Shared, nil
}

// 完整打一局：报名、激活、出手、解析，全部经由 HTTP 层。
// tick 用合成时刻驱动，测试不睡觉。
func TestLifecycleAgainstRESTSurface(t *testing.T) {
	ctx := context.Background()
	deployedAt := time.Now()

	require.NoError(t, testStore.CreateGame(ctx, &models.GameRecord{
		ID: "game-flow-1", GameType: "dice", GameMaster: "0xm",
		DeployedAt: deployedAt, IsActive: true, Players: []string{},
	}))

	arena := &restArena{t: t}
	lc := state.NewLifecycle(
		&models.GameRecord{ID: "game-flow-1", DeployedAt: deployedAt},
		"0xflow",
		state.Config{
			ActivationDelay: 50 * time.Millisecond,
			GuessWindow:     time.Second,
			GameLifetime:    time.Minute,
		},
		arena, arena,
	)

	require.NoError(t, lc.Join(ctx, deployedAt))
	assert.Equal(t, state.PhaseJoinedWaiting, lc.Phase())

	record, err := testStore.GetGame(ctx, "game-flow-1")
	require.NoError(t, err)
	assert.True(t, record.HasPlayer("0xflow"), "join must land on the stored roster")

	phase := lc.Tick(deployedAt.Add(100 * time.Millisecond))
	require.Equal(t, state.PhaseAwaitingGuess, phase)

	require.NoError(t, lc.SubmitGuess(ctx, deployedAt.Add(150*time.Millisecond), 4))
	assert.Equal(t, state.PhaseSubmittedWaiting, lc.Phase())

	survived, err := lc.Resolve(ctx)
	require.NoError(t, err)

	stored, err := testStore.GetOutcome(ctx, "game-flow-1", 1)
	require.NoError(t, err)

	snap := lc.Snapshot()
	assert.Equal(t, stored, snap.Outcome)
	if stored == 4 {
		assert.True(t, survived)
		assert.Equal(t, state.PhaseResolvedSurvived, snap.Phase)
	} else {
		assert.False(t, survived)
		assert.Equal(t, state.PhaseResolvedEliminated, snap.Phase)
	}
}
