// models/gorm_models.go
package models

import (
	"gorm.io/gorm"
)

// GormGame 游戏记录模型
type GormGame struct {
	gorm.Model
	GameID        string  `gorm:"uniqueIndex;not null"`
	GameType      string  `gorm:"not null"`
	GameMaster    string  `gorm:"not null"`
	EntryCost     float64 `gorm:"default:0"`
	// 指针类型：没有交易号时存 NULL，空字符串会互相撞唯一索引
	TransactionID *string `gorm:"uniqueIndex"`
	DeployedAt    int64   `gorm:"not null"` // unix millis
	IsActive      bool    `gorm:"default:true"`
	BlockHeight   string
	Players       []string `gorm:"type:jsonb;serializer:json"`
}

// GormOutcome 每局结果模型，(game_id, round) 唯一约束承载 CAS 语义
type GormOutcome struct {
	gorm.Model
	GameID string `gorm:"uniqueIndex:idx_game_round;not null"`
	Round  int    `gorm:"uniqueIndex:idx_game_round;not null"`
	Value  int    `gorm:"not null"`
}
