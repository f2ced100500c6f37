package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// GameRecord 一場對戰的結果快照
type GameRecord struct {
	RoomCode    string         `json:"room_code"`
	Player1     string         `json:"player1"`
	Player2     string         `json:"player2"`
	Winner      string         `json:"winner"`
	SolvedCount map[string]int `json:"solved_count"`
	FinalHealth map[string]int `json:"final_health"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// GameHistory 對戰歷史協作者介面
//
// fire-and-forget：寫入失敗只記錄日誌，
// 絕不回滾或阻塞房間的狀態轉換——記憶體中的狀態才是權威。
type GameHistory interface {
	RecordGame(ctx context.Context, rec GameRecord) error
}

// LogHistory 以日誌落地的歷史記錄（無外部儲存時的預設）
type LogHistory struct {
	logger *slog.Logger
}

// NewLogHistory 創建日誌歷史記錄
func NewLogHistory(logger *slog.Logger) *LogHistory {
	return &LogHistory{logger: logger}
}

// RecordGame 記錄對戰結果
func (h *LogHistory) RecordGame(_ context.Context, rec GameRecord) error {
	h.logger.Info("對戰結束",
		"room_code", rec.RoomCode,
		"player1", rec.Player1,
		"player2", rec.Player2,
		"winner", rec.Winner,
		"solved", rec.SolvedCount,
		"final_health", rec.FinalHealth)
	return nil
}

// Redis 鍵
const (
	historyListKey = "game:history" // LPUSH 的 JSON 記錄列表
	winsHashKey    = "game:wins"    // userID -> 勝場數
)

// RedisHistory 以 Redis 落地的歷史記錄
type RedisHistory struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisHistory 創建 Redis 歷史記錄
func NewRedisHistory(client *redis.Client, logger *slog.Logger) *RedisHistory {
	return &RedisHistory{client: client, logger: logger}
}

// RecordGame 記錄對戰結果到 Redis
func (h *RedisHistory) RecordGame(ctx context.Context, rec GameRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodePersistence, "failed to encode game record")
	}

	pipe := h.client.Pipeline()
	pipe.LPush(ctx, historyListKey, payload)
	if rec.Winner != "" {
		pipe.HIncrBy(ctx, winsHashKey, rec.Winner, 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodePersistence, "failed to persist game record")
	}
	return nil
}
