package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playonchain/arena/config"
	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/oracle"
	"github.com/playonchain/arena/persistence"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	m.Run()
}

func newTestService(t *testing.T) (*GameService, *persistence.JSONFileStore, *oracle.MockOracle) {
	t.Helper()
	store, err := persistence.NewJSONFileStore("")
	require.NoError(t, err)
	chain := oracle.NewMockOracle()
	svc := NewGameService(store, chain, config.ArenaConfig{
		ActivationDelay: 30 * time.Second,
		GuessWindow:     10 * time.Second,
		GameLifetime:    10 * time.Minute,
	})
	return svc, store, chain
}

func TestCreateGameDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)

	record := &models.GameRecord{GameType: "dice", GameMaster: "0xm", EntryCost: 2}
	require.NoError(t, svc.CreateGame(context.Background(), record))

	assert.NotEmpty(t, record.ID, "missing id should be generated")
	assert.False(t, record.DeployedAt.IsZero())
	assert.True(t, record.IsActive)
	assert.NotNil(t, record.Players)
}

func TestCreateGameValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.CreateGame(ctx, nil), ErrInvalidRecord)
	assert.ErrorIs(t, svc.CreateGame(ctx, &models.GameRecord{GameMaster: "0xm"}), ErrInvalidRecord)
	assert.ErrorIs(t, svc.CreateGame(ctx, &models.GameRecord{GameType: "dice"}), ErrInvalidRecord)
	assert.ErrorIs(t, svc.CreateGame(ctx, &models.GameRecord{
		GameType: "dice", GameMaster: "0xm", EntryCost: -1,
	}), ErrInvalidRecord)
}

func TestJoinGameWindow(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGame(ctx, &models.GameRecord{
		ID: "g1", GameType: "dice", GameMaster: "0xm",
		DeployedAt: time.Now(), IsActive: true, Players: []string{},
	}))
	require.NoError(t, store.CreateGame(ctx, &models.GameRecord{
		ID: "g2", GameType: "dice", GameMaster: "0xm",
		DeployedAt: time.Now().Add(-time.Minute), IsActive: true, Players: []string{},
	}))

	require.NoError(t, svc.JoinGame(ctx, "g1", "0xp", 4))
	record, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, record.HasPlayer("0xp"))

	assert.ErrorIs(t, svc.JoinGame(ctx, "g1", "0xp", 4), ErrAlreadyJoined)
	assert.ErrorIs(t, svc.JoinGame(ctx, "g2", "0xp", 4), ErrJoinClosed)
	assert.ErrorIs(t, svc.JoinGame(ctx, "g1", "", 4), ErrEmptyAddress)
	assert.ErrorIs(t, svc.JoinGame(ctx, "g1", "0xq", 9), ErrInvalidGuess)

	// guess 为 0 表示只报名不出手
	require.NoError(t, svc.JoinGame(ctx, "g1", "0xq", 0))
	record, err = store.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, record.HasPlayer("0xq"))
}

func TestSubmitGuessRequiresRosterNotWindow(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// 报名窗口早已关闭，出手不受影响
	require.NoError(t, store.CreateGame(ctx, &models.GameRecord{
		ID: "g1", GameType: "dice", GameMaster: "0xm",
		DeployedAt: time.Now().Add(-time.Minute), IsActive: true,
		Players: []string{"0xp"},
	}))
	require.NoError(t, store.CreateGame(ctx, &models.GameRecord{
		ID: "g2", GameType: "dice", GameMaster: "0xm",
		DeployedAt: time.Now(), IsActive: false, Players: []string{"0xp"},
	}))

	require.NoError(t, svc.SubmitGuess(ctx, "g1", "0xp", 4))

	assert.ErrorIs(t, svc.SubmitGuess(ctx, "g1", "0xz", 4), ErrNotJoined)
	assert.ErrorIs(t, svc.SubmitGuess(ctx, "g1", "0xp", 0), ErrInvalidGuess)
	assert.ErrorIs(t, svc.SubmitGuess(ctx, "g1", "0xp", 7), ErrInvalidGuess)
	assert.ErrorIs(t, svc.SubmitGuess(ctx, "g1", "", 4), ErrEmptyAddress)
	assert.ErrorIs(t, svc.SubmitGuess(ctx, "g2", "0xp", 4), ErrGameInactive)
}

func TestJoinGameChainFailureSurfaces(t *testing.T) {
	svc, store, chain := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGame(ctx, &models.GameRecord{
		ID: "g1", GameType: "dice", GameMaster: "0xm",
		DeployedAt: time.Now(), IsActive: true, Players: []string{},
	}))

	chain.FailNext = 1
	assert.ErrorIs(t, svc.JoinGame(ctx, "g1", "0xp", 4), oracle.ErrOracleUnavailable)

	// 链上提交失败时本地名单保持不变
	record, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, record.Players)
}

func TestStatsFallback(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.CreateGame(ctx, &models.GameRecord{
		ID: "g1", GameType: "dice", GameMaster: "0xm", EntryCost: 2,
		DeployedAt: time.Now(), IsActive: true, Players: []string{"0xa", "0xb"},
	}))
	require.NoError(t, store.CreateGame(ctx, &models.GameRecord{
		ID: "g2", GameType: "dice", GameMaster: "0xm", EntryCost: 1,
		DeployedAt: time.Now(), IsActive: false, Players: []string{"0xc"},
	}))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveGames)
	assert.Equal(t, 5.0, stats.TotalPrizePool)
	assert.Equal(t, 3, stats.PlayersOnline)
}
