// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/playonchain/arena/models"
)

// Store 游戏记录持久化接口
//
// Per-game mutations (SetPlayers, CreateOutcomeIfAbsent) must be
// linearizable with respect to concurrent requests for the same game id.
type Store interface {
	CreateGame(ctx context.Context, record *models.GameRecord) error
	GetGame(ctx context.Context, id string) (*models.GameRecord, error)
	ListGames(ctx context.Context) ([]models.GameRecord, error)
	// SetPlayers replaces the stored roster wholesale. It never merges.
	SetPlayers(ctx context.Context, id string, players []string) error
	// AddPlayer appends one player atomically. Returns ErrConflict when
	// the player is already on the roster.
	AddPlayer(ctx context.Context, id, player string) error
	SetActive(ctx context.Context, id string, active bool) error
	DeleteGame(ctx context.Context, id string) error
	// CreateOutcomeIfAbsent stores value for (gameID, round) unless an
	// outcome already exists, and returns the winning value either way.
	// first=true means the caller's value was persisted.
	CreateOutcomeIfAbsent(ctx context.Context, gameID string, round, value int) (stored int, first bool, err error)
	GetOutcome(ctx context.Context, gameID string, round int) (int, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound     = errors.New("record not found")
	ErrConflict           = errors.New("record already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
