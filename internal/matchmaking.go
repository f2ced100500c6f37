package internal

import (
	"log/slog"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// Matchmaker 配對器
//
// 單佇列隨機配對：掃描等待中的隨機房間，找到就讓呼叫端加入，
// 找不到就開新房。先找到先配，不做公平性保證（掃描順序未定義）。
type Matchmaker struct {
	store  *Store
	logger *slog.Logger
}

// NewMatchmaker 創建配對器
func NewMatchmaker(store *Store, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{store: store, logger: logger}
}

// CreateRoom 顯式創建房間
func (m *Matchmaker) CreateRoom(creatorID string) (string, error) {
	room, err := m.store.CreateRoom(creatorID, false)
	if err != nil {
		return "", err
	}
	return room.Code, nil
}

// FindRandomGame 隨機配對
//
// 回傳可加入的房間碼與是否為新開的房間。
// 掃描與並發的創建／刪除競爭：候選房間可能在加入前消失，
// 此處重試一次後退回開新房，不向呼叫端回報暫時性的失敗。
func (m *Matchmaker) FindRandomGame(userID string) (roomCode string, created bool, err error) {
	if existing := m.store.FindUserRoom(userID); existing != "" {
		return "", false, apperrors.ErrAlreadyInRoom.WithDetails(existing)
	}

	for attempt := 0; attempt < 2; attempt++ {
		room, found := m.store.FindWaitingRandomRoom()
		if !found {
			break
		}

		// 複檢在房間鎖內進行：候選房間可能已被刪除或已滿員
		joinable := false
		mutErr := m.store.Mutate(room.Code, func(r *Room) error {
			joinable = r.Status == StatusWaiting && len(r.Players) < MaxPlayers
			return nil
		})
		if mutErr == nil && joinable {
			return room.Code, false, nil
		}

		m.logger.Debug("候選房間已失效，重試",
			"room_code", room.Code,
			"attempt", attempt)
	}

	room, err := m.store.CreateRoom(userID, true)
	if err != nil {
		return "", false, err
	}

	m.logger.Info("無等待中的隨機房間，已開新房",
		"room_code", room.Code,
		"user_id", userID)

	return room.Code, true, nil
}
