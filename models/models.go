// models/models.go
package models

import (
	"time"
)

// GameRecord 已部署游戏的持久化元数据
type GameRecord struct {
	ID            string    `json:"id"`
	GameType      string    `json:"gameType"`
	GameMaster    string    `json:"gameMaster"`
	EntryCost     float64   `json:"entryCost"`
	TransactionID string    `json:"transactionId"`
	DeployedAt    time.Time `json:"deployedAt"`
	IsActive      bool      `json:"isActive"`
	BlockHeight   string    `json:"blockHeight,omitempty"`
	Players       []string  `json:"players"`
}

// HasPlayer reports whether addr is already on the roster.
func (g *GameRecord) HasPlayer(addr string) bool {
	for _, p := range g.Players {
		if p == addr {
			return true
		}
	}
	return false
}

// RoundOutcome 每局共享的骰子点数，每个 (game, round) 至多写入一次
type RoundOutcome struct {
	GameID    string    `json:"gameId"`
	Round     int       `json:"round"`
	Value     int       `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
}

// Dice outcome bounds. Guesses outside this range never reach the store.
const (
	MinGuess = 1
	MaxGuess = 6
)

// ValidGuess reports whether v is inside the playable dice range.
func ValidGuess(v int) bool {
	return v >= MinGuess && v <= MaxGuess
}

// ArenaStats 大厅聚合统计
type ArenaStats struct {
	ActiveGames    int     `json:"activeGames"`
	TotalPrizePool float64 `json:"totalPrizePool"`
	PlayersOnline  int     `json:"playersOnline"`
}
