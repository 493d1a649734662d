// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/playonchain/arena/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.GormGame{}, &models.GormOutcome{}); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

func toRecord(g *models.GormGame) *models.GameRecord {
	players := g.Players
	if players == nil {
		players = []string{}
	}
	var txID string
	if g.TransactionID != nil {
		txID = *g.TransactionID
	}
	return &models.GameRecord{
		ID:            g.GameID,
		GameType:      g.GameType,
		GameMaster:    g.GameMaster,
		EntryCost:     g.EntryCost,
		TransactionID: txID,
		DeployedAt:    time.UnixMilli(g.DeployedAt).UTC(),
		IsActive:      g.IsActive,
		BlockHeight:   g.BlockHeight,
		Players:       players,
	}
}

// CreateGame 保存新游戏
func (p *GormPostgreSQL) CreateGame(ctx context.Context, record *models.GameRecord) error {
	players := record.Players
	if players == nil {
		players = []string{}
	}
	var txID *string
	if record.TransactionID != "" {
		txID = &record.TransactionID
	}
	game := models.GormGame{
		GameID:        record.ID,
		GameType:      record.GameType,
		GameMaster:    record.GameMaster,
		EntryCost:     record.EntryCost,
		TransactionID: txID,
		DeployedAt:    record.DeployedAt.UnixMilli(),
		IsActive:      record.IsActive,
		BlockHeight:   record.BlockHeight,
		Players:       players,
	}
	err := p.db.WithContext(ctx).Create(&game).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

// GetGame 按 game_id 读取
func (p *GormPostgreSQL) GetGame(ctx context.Context, id string) (*models.GameRecord, error) {
	var game models.GormGame
	if err := p.db.WithContext(ctx).Where("game_id = ?", id).First(&game).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return toRecord(&game), nil
}

// ListGames 按部署时间排序返回所有游戏
func (p *GormPostgreSQL) ListGames(ctx context.Context) ([]models.GameRecord, error) {
	var games []models.GormGame
	if err := p.db.WithContext(ctx).Order("deployed_at").Find(&games).Error; err != nil {
		return nil, err
	}
	records := make([]models.GameRecord, 0, len(games))
	for i := range games {
		records = append(records, *toRecord(&games[i]))
	}
	return records, nil
}

// SetPlayers 整体替换名单
func (p *GormPostgreSQL) SetPlayers(ctx context.Context, id string, players []string) error {
	if players == nil {
		players = []string{}
	}
	res := p.db.WithContext(ctx).Model(&models.GormGame{}).
		Where("game_id = ?", id).
		Update("players", players)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// AddPlayer 单个玩家原子追加，@> 守卫保证重复地址不会写两次
func (p *GormPostgreSQL) AddPlayer(ctx context.Context, id, player string) error {
	res := p.db.WithContext(ctx).Exec(`
        UPDATE games
        SET players = players || to_jsonb(?::text), updated_at = CURRENT_TIMESTAMP
        WHERE game_id = ? AND deleted_at IS NULL AND NOT players @> to_jsonb(?::text)
    `, player, id, player)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 没更新到行：要么游戏不存在，要么玩家已在名单里
		if _, err := p.GetGame(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// SetActive 管理操作：启停游戏
func (p *GormPostgreSQL) SetActive(ctx context.Context, id string, active bool) error {
	res := p.db.WithContext(ctx).Model(&models.GormGame{}).
		Where("game_id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteGame 删除游戏及其每局结果
func (p *GormPostgreSQL) DeleteGame(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("game_id = ?", id).Delete(&models.GormGame{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return tx.Where("game_id = ?", id).Delete(&models.GormOutcome{}).Error
	})
}

// CreateOutcomeIfAbsent 首写优先，冲突时读回已落盘的值
func (p *GormPostgreSQL) CreateOutcomeIfAbsent(ctx context.Context, gameID string, round, value int) (int, bool, error) {
	outcome := models.GormOutcome{GameID: gameID, Round: round, Value: value}
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "round"}},
		DoNothing: true,
	}).Create(&outcome)
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected > 0 {
		return value, true, nil
	}

	stored, err := p.GetOutcome(ctx, gameID, round)
	if err != nil {
		return 0, false, err
	}
	return stored, false, nil
}

// GetOutcome 读取已存在的每局结果
func (p *GormPostgreSQL) GetOutcome(ctx context.Context, gameID string, round int) (int, error) {
	var outcome models.GormOutcome
	err := p.db.WithContext(ctx).
		Where("game_id = ? AND round = ?", gameID, round).
		First(&outcome).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRecordNotFound
		}
		return 0, err
	}
	return outcome.Value, nil
}

// ArenaStats 聚合统计（原生SQL）
func (p *GormPostgreSQL) ArenaStats(ctx context.Context) (*models.ArenaStats, error) {
	var stats models.ArenaStats
	err := p.db.WithContext(ctx).Raw(`
        SELECT
            COUNT(*) FILTER (WHERE is_active) AS active_games,
            COALESCE(SUM(entry_cost * jsonb_array_length(players)), 0) AS total_prize_pool,
            COALESCE(SUM(jsonb_array_length(players)), 0) AS players_online
        FROM games
        WHERE deleted_at IS NULL
    `).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
