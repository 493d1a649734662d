// services/game_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playonchain/arena/config"
	"github.com/playonchain/arena/logger"
	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/oracle"
	"github.com/playonchain/arena/persistence"
)

var (
	ErrInvalidRecord = errors.New("invalid game record")
	ErrGameInactive  = errors.New("game is not active")
	ErrJoinClosed    = errors.New("join window has closed")
	ErrInvalidGuess  = errors.New("guess outside dice range")
	ErrAlreadyJoined = errors.New("participant already on roster")
	ErrNotJoined     = errors.New("participant not on roster")
	ErrEmptyAddress  = errors.New("participant address required")
)

// StatsProvider 可选接口，存储层自带聚合查询时走数据库端计算
type StatsProvider interface {
	ArenaStats(ctx context.Context) (*models.ArenaStats, error)
}

type GameService struct {
	store persistence.Store
	chain oracle.Oracle
	arena config.ArenaConfig
}

func NewGameService(store persistence.Store, chain oracle.Oracle, arena config.ArenaConfig) *GameService {
	return &GameService{store: store, chain: chain, arena: arena}
}

// CreateGame 登记一个新部署的游戏。ID 缺省时生成，时间戳缺省取当前时间。
func (s *GameService) CreateGame(ctx context.Context, record *models.GameRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}
	if strings.TrimSpace(record.GameType) == "" || strings.TrimSpace(record.GameMaster) == "" {
		return ErrInvalidRecord
	}
	if record.EntryCost < 0 {
		return ErrInvalidRecord
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.DeployedAt.IsZero() {
		record.DeployedAt = time.Now()
	}
	if record.Players == nil {
		record.Players = []string{}
	}
	record.IsActive = true

	if err := s.store.CreateGame(ctx, record); err != nil {
		return err
	}
	logger.Log.Infof("game registered id=%s type=%s master=%s", record.ID, record.GameType, record.GameMaster)
	return nil
}

func (s *GameService) GetGame(ctx context.Context, id string) (*models.GameRecord, error) {
	return s.store.GetGame(ctx, id)
}

func (s *GameService) ListGames(ctx context.Context) ([]models.GameRecord, error) {
	return s.store.ListGames(ctx)
}

func (s *GameService) DeleteGame(ctx context.Context, id string) error {
	return s.store.DeleteGame(ctx, id)
}

// SetPlayers 整体替换名单。链下手工修正入口，与对账器共用同一写路径。
func (s *GameService) SetPlayers(ctx context.Context, id string, players []string) error {
	if players == nil {
		players = []string{}
	}
	for _, p := range players {
		if strings.TrimSpace(p) == "" {
			return ErrEmptyAddress
		}
	}
	return s.store.SetPlayers(ctx, id, players)
}

// JoinGame 在报名窗口内把参与者提交到链上并登记到本地名单。
// guess 可选，0 表示只报名不出手。
// 链上提交成功但本地写入失败时以告警放行，后续对账会补齐名单。
func (s *GameService) JoinGame(ctx context.Context, gameID, participant string, guess int) error {
	if strings.TrimSpace(participant) == "" {
		return ErrEmptyAddress
	}
	if guess != 0 && !models.ValidGuess(guess) {
		return ErrInvalidGuess
	}

	record, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !record.IsActive {
		return ErrGameInactive
	}
	if !time.Now().Before(record.DeployedAt.Add(s.arena.ActivationDelay)) {
		return ErrJoinClosed
	}
	if record.HasPlayer(participant) {
		return ErrAlreadyJoined
	}

	if err := s.chain.SubmitJoin(ctx, gameID, participant, guess); err != nil {
		return err
	}

	if err := s.store.AddPlayer(ctx, gameID, participant); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			// 并发报名抢先写入，名单里已经有这个地址
			return nil
		}
		logger.Log.Warnf("join accepted on chain but roster write failed game=%s participant=%s: %v", gameID, participant, err)
		return nil
	}
	logger.Log.Infof("participant joined game=%s participant=%s", gameID, participant)
	return nil
}

// SubmitGuess 已报名玩家在回合内出手。出手不受报名窗口限制，
// 只要求游戏仍在进行且玩家在名单上。
func (s *GameService) SubmitGuess(ctx context.Context, gameID, participant string, guess int) error {
	if strings.TrimSpace(participant) == "" {
		return ErrEmptyAddress
	}
	if !models.ValidGuess(guess) {
		return ErrInvalidGuess
	}

	record, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !record.IsActive {
		return ErrGameInactive
	}
	if !record.HasPlayer(participant) {
		return ErrNotJoined
	}

	return s.chain.SubmitJoin(ctx, gameID, participant, guess)
}

// Stats 大厅聚合统计。存储层支持时下推到数据库，否则遍历计算。
func (s *GameService) Stats(ctx context.Context) (*models.ArenaStats, error) {
	if provider, ok := s.store.(StatsProvider); ok {
		return provider.ArenaStats(ctx)
	}

	games, err := s.store.ListGames(ctx)
	if err != nil {
		return nil, err
	}
	stats := &models.ArenaStats{}
	for _, g := range games {
		if g.IsActive {
			stats.ActiveGames++
		}
		stats.TotalPrizePool += g.EntryCost * float64(len(g.Players))
		stats.PlayersOnline += len(g.Players)
	}
	return stats, nil
}
