// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/playonchain/arena/models"
)

// PostgreSQL 数据库实现（原生 SQL）
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	// 创建游戏表
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS games (
            id SERIAL PRIMARY KEY,
            game_id VARCHAR(255) UNIQUE NOT NULL,
            game_type VARCHAR(100) NOT NULL,
            game_master VARCHAR(255) NOT NULL,
            entry_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
            transaction_id VARCHAR(255) UNIQUE,
            deployed_at TIMESTAMPTZ NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            block_height VARCHAR(64),
            players JSONB NOT NULL DEFAULT '[]',
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建每局结果表，(game_id, round) 唯一约束承载 CAS 语义
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS round_outcomes (
            id SERIAL PRIMARY KEY,
            game_id VARCHAR(255) NOT NULL,
            round INT NOT NULL,
            value INT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (game_id, round)
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_games_game_id ON games(game_id);
        CREATE INDEX IF NOT EXISTS idx_games_is_active ON games(is_active);
        CREATE INDEX IF NOT EXISTS idx_round_outcomes_game_id ON round_outcomes(game_id);
    `)

	return err
}

// CreateGame 保存新游戏，game_id 或 transaction_id 冲突时返回 ErrConflict
func (p *PostgreSQL) CreateGame(ctx context.Context, record *models.GameRecord) error {
	players := record.Players
	if players == nil {
		players = []string{}
	}
	playersJSON, err := json.Marshal(players)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 空 transaction_id 存成 NULL，避免多个无交易号的记录互相撞唯一约束
	query := `
        INSERT INTO games (game_id, game_type, game_master, entry_cost, transaction_id, deployed_at, is_active, block_height, players)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
    `

	_, err = p.db.ExecContext(ctx, query,
		record.ID, record.GameType, record.GameMaster, record.EntryCost,
		record.TransactionID, record.DeployedAt, record.IsActive,
		record.BlockHeight, playersJSON)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return ErrConflict
	}
	return err
}

// GetGame 按 game_id 读取
func (p *PostgreSQL) GetGame(ctx context.Context, id string) (*models.GameRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
        SELECT game_id, game_type, game_master, entry_cost, COALESCE(transaction_id, ''), deployed_at, is_active, COALESCE(block_height, ''), players
        FROM games WHERE game_id = $1
    `
	return p.scanGame(p.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (p *PostgreSQL) scanGame(row rowScanner) (*models.GameRecord, error) {
	var rec models.GameRecord
	var playersJSON []byte
	err := row.Scan(&rec.ID, &rec.GameType, &rec.GameMaster, &rec.EntryCost,
		&rec.TransactionID, &rec.DeployedAt, &rec.IsActive, &rec.BlockHeight, &playersJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(playersJSON, &rec.Players); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListGames 按部署时间排序返回所有游戏
func (p *PostgreSQL) ListGames(ctx context.Context) ([]models.GameRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
        SELECT game_id, game_type, game_master, entry_cost, COALESCE(transaction_id, ''), deployed_at, is_active, COALESCE(block_height, ''), players
        FROM games ORDER BY deployed_at
    `
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []models.GameRecord
	for rows.Next() {
		rec, err := p.scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *rec)
	}
	return games, rows.Err()
}

// SetPlayers 整体替换名单，不做合并
func (p *PostgreSQL) SetPlayers(ctx context.Context, id string, players []string) error {
	if players == nil {
		players = []string{}
	}
	playersJSON, err := json.Marshal(players)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `UPDATE games SET players = $2, updated_at = CURRENT_TIMESTAMP WHERE game_id = $1`
	res, err := p.db.ExecContext(ctx, query, id, playersJSON)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// AddPlayer 单个玩家原子追加，@> 守卫保证重复地址不会写两次
func (p *PostgreSQL) AddPlayer(ctx context.Context, id, player string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
        UPDATE games
        SET players = players || to_jsonb($2::text), updated_at = CURRENT_TIMESTAMP
        WHERE game_id = $1 AND NOT players @> to_jsonb($2::text)
    `
	res, err := p.db.ExecContext(ctx, query, id, player)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// 没更新到行：要么游戏不存在，要么玩家已在名单里
		if _, err := p.GetGame(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// SetActive 管理操作：启停游戏
func (p *PostgreSQL) SetActive(ctx context.Context, id string, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := p.db.ExecContext(ctx,
		`UPDATE games SET is_active = $2, updated_at = CURRENT_TIMESTAMP WHERE game_id = $1`, id, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteGame 删除游戏及其每局结果
func (p *PostgreSQL) DeleteGame(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := p.db.ExecContext(ctx, `DELETE FROM games WHERE game_id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	_, err = p.db.ExecContext(ctx, `DELETE FROM round_outcomes WHERE game_id = $1`, id)
	return err
}

// CreateOutcomeIfAbsent 首写优先：唯一约束上的 INSERT ... ON CONFLICT DO NOTHING，
// 没抢到的写入者读回已存在的值
func (p *PostgreSQL) CreateOutcomeIfAbsent(ctx context.Context, gameID string, round, value int) (int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var stored int
	err := p.db.QueryRowContext(ctx, `
        INSERT INTO round_outcomes (game_id, round, value)
        VALUES ($1, $2, $3)
        ON CONFLICT (game_id, round) DO NOTHING
        RETURNING value
    `, gameID, round, value).Scan(&stored)
	if err == nil {
		return stored, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}

	// 并发写入者抢先，读取已落盘的值
	err = p.db.QueryRowContext(ctx,
		`SELECT value FROM round_outcomes WHERE game_id = $1 AND round = $2`,
		gameID, round).Scan(&stored)
	if err != nil {
		return 0, false, err
	}
	return stored, false, nil
}

// GetOutcome 读取已存在的每局结果
func (p *PostgreSQL) GetOutcome(ctx context.Context, gameID string, round int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var value int
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM round_outcomes WHERE game_id = $1 AND round = $2`,
		gameID, round).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrRecordNotFound
		}
		return 0, err
	}
	return value, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
