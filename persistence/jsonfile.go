// persistence/jsonfile.go
package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/playonchain/arena/models"
)

// JSONFileStore 单文件 JSON 存储，适合开发与小规模部署。
// 所有修改都持有同一把锁，天然满足按键串行化要求。
// path 为空时只保留内存态，不落盘。
type JSONFileStore struct {
	path     string
	mutex    sync.RWMutex
	games    map[string]*models.GameRecord
	order    []string // game ids in creation order
	byTxID   map[string]string
	outcomes map[outcomeKey]int
}

type outcomeKey struct {
	GameID string
	Round  int
}

type fileLayout struct {
	Games    []models.GameRecord   `json:"games"`
	Outcomes []models.RoundOutcome `json:"outcomes"`
}

// NewJSONFileStore 创建存储并加载已有文件（缺失或损坏的文件按空库处理）
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	s := &JSONFileStore{
		path:     path,
		games:    make(map[string]*models.GameRecord),
		byTxID:   make(map[string]string),
		outcomes: make(map[outcomeKey]int),
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		// 与原始实现一致：坏文件当作空库
		return s, nil
	}
	for i := range layout.Games {
		rec := layout.Games[i]
		s.games[rec.ID] = &rec
		s.order = append(s.order, rec.ID)
		if rec.TransactionID != "" {
			s.byTxID[rec.TransactionID] = rec.ID
		}
	}
	for _, o := range layout.Outcomes {
		s.outcomes[outcomeKey{o.GameID, o.Round}] = o.Value
	}
	return s, nil
}

// flush 持锁状态下整体重写文件
func (s *JSONFileStore) flush() error {
	if s.path == "" {
		return nil
	}
	layout := fileLayout{Games: make([]models.GameRecord, 0, len(s.order))}
	for _, id := range s.order {
		layout.Games = append(layout.Games, *s.games[id])
	}
	for k, v := range s.outcomes {
		layout.Outcomes = append(layout.Outcomes, models.RoundOutcome{
			GameID: k.GameID, Round: k.Round, Value: v,
		})
	}
	data, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *JSONFileStore) CreateGame(ctx context.Context, record *models.GameRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.games[record.ID]; exists {
		return ErrConflict
	}
	if record.TransactionID != "" {
		if _, exists := s.byTxID[record.TransactionID]; exists {
			return ErrConflict
		}
	}

	rec := *record
	if rec.Players == nil {
		rec.Players = []string{}
	}
	s.games[rec.ID] = &rec
	s.order = append(s.order, rec.ID)
	if rec.TransactionID != "" {
		s.byTxID[rec.TransactionID] = rec.ID
	}
	return s.flush()
}

func (s *JSONFileStore) GetGame(ctx context.Context, id string) (*models.GameRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, exists := s.games[id]
	if !exists {
		return nil, ErrRecordNotFound
	}
	out := *rec
	out.Players = append([]string(nil), rec.Players...)
	return &out, nil
}

func (s *JSONFileStore) ListGames(ctx context.Context) ([]models.GameRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	games := make([]models.GameRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := *s.games[id]
		rec.Players = append([]string(nil), s.games[id].Players...)
		games = append(games, rec)
	}
	return games, nil
}

func (s *JSONFileStore) SetPlayers(ctx context.Context, id string, players []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, exists := s.games[id]
	if !exists {
		return ErrRecordNotFound
	}
	if players == nil {
		players = []string{}
	}
	rec.Players = append([]string(nil), players...)
	return s.flush()
}

func (s *JSONFileStore) AddPlayer(ctx context.Context, id, player string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, exists := s.games[id]
	if !exists {
		return ErrRecordNotFound
	}
	if rec.HasPlayer(player) {
		return ErrConflict
	}
	rec.Players = append(rec.Players, player)
	return s.flush()
}

func (s *JSONFileStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, exists := s.games[id]
	if !exists {
		return ErrRecordNotFound
	}
	rec.IsActive = active
	return s.flush()
}

func (s *JSONFileStore) DeleteGame(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, exists := s.games[id]
	if !exists {
		return ErrRecordNotFound
	}
	delete(s.games, id)
	delete(s.byTxID, rec.TransactionID)
	for i, gid := range s.order {
		if gid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	for k := range s.outcomes {
		if k.GameID == id {
			delete(s.outcomes, k)
		}
	}
	return s.flush()
}

func (s *JSONFileStore) CreateOutcomeIfAbsent(ctx context.Context, gameID string, round, value int) (int, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := outcomeKey{gameID, round}
	if stored, exists := s.outcomes[key]; exists {
		return stored, false, nil
	}
	s.outcomes[key] = value
	if err := s.flush(); err != nil {
		delete(s.outcomes, key)
		return 0, false, err
	}
	return value, true, nil
}

func (s *JSONFileStore) GetOutcome(ctx context.Context, gameID string, round int) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, exists := s.outcomes[outcomeKey{gameID, round}]
	if !exists {
		return 0, ErrRecordNotFound
	}
	return value, nil
}

func (s *JSONFileStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.flush()
}
