package internal

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// Store 房間表
//
// 系統設計考量：
//
//  1. 兩層鎖：
//     - Store 的 RWMutex 只保護房間表本身（查找、註冊、移除）
//     - 每個房間的互斥鎖保護房間內容，由 Mutate 持有
//     讀寫分離讓跨房間操作互不阻塞，單一房間內仍有全序
//
//  2. Mutate 是唯一合法的變更入口：
//     fn 在房間鎖內執行，任何並發讀寫者都會觀察到完整的變更。
//     房間可能在取鎖前被並發刪除（對手斷線、空房清理），
//     取鎖後以 deleted 旗標複檢，回報 ErrRoomNotFound 而非操作殭屍房間
//
//  3. 房間碼：6 碼 {A-Z,0-9}，對照現存房間碼重試避免碰撞。
//     這是識別碼而非機密，不需要密碼學強度的長度
type Store struct {
	rooms  map[string]*Room // roomCode -> Room
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewStore 創建房間表
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// CreateRoom 創建房間，創建者為第一名玩家
//
// 創建者已佔據任何房間（玩家或觀戰者）時回傳 ErrAlreadyInRoom。
// 成員檢查刻意走 O(rooms) 全表掃描：房間數量小，
// 省去反向索引就少一份要和房間內容同步的狀態。
func (s *Store) CreateRoom(creatorID string, isRandomQueue bool) (*Room, error) {
	if existing := s.FindUserRoom(creatorID); existing != "" {
		return nil, apperrors.ErrAlreadyInRoom.WithDetails(existing)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code := s.generateCodeLocked()
	room := NewRoom(code, creatorID, isRandomQueue)
	s.rooms[code] = room

	s.logger.Info("房間已創建",
		"room_code", code,
		"creator", creatorID,
		"random_queue", isRandomQueue)

	return room, nil
}

// GetRoom 取得房間
func (s *Store) GetRoom(code string) (*Room, error) {
	s.mu.RLock()
	room, exists := s.rooms[code]
	s.mu.RUnlock()

	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails(code)
	}
	return room, nil
}

// Mutate 在房間鎖內執行 fn，保證整個變更被原子地觀察
func (s *Store) Mutate(code string, fn func(*Room) error) error {
	room, err := s.GetRoom(code)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	// 取鎖期間房間可能已被並發刪除
	if room.deleted {
		return apperrors.ErrRoomNotFound.WithDetails(code)
	}
	return fn(room)
}

// DeleteIfEmpty 刪除已無玩家的房間；房間不存在或仍有玩家時為 no-op
func (s *Store) DeleteIfEmpty(code string) bool {
	room, err := s.GetRoom(code)
	if err != nil {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted || !room.Empty() {
		return false
	}
	room.deleted = true

	s.mu.Lock()
	delete(s.rooms, code)
	s.mu.Unlock()

	s.logger.Info("空房間已刪除", "room_code", code)
	return true
}

// FindUserRoom 找出使用者所在的房間碼；不在任何房間時回傳空字串
func (s *Store) FindUserRoom(userID string) string {
	for _, room := range s.listRooms() {
		room.mu.Lock()
		member := !room.deleted && room.IsMember(userID)
		room.mu.Unlock()
		if member {
			return room.Code
		}
	}
	return ""
}

// FindWaitingRandomRoom 找出一個等待中的隨機配對房間
//
// 掃描順序未定義（map 迭代順序）。回傳的房間可能在呼叫端
// 加入前被並發刪除，呼叫端必須容忍 ErrRoomNotFound 並重試。
func (s *Store) FindWaitingRandomRoom() (*Room, bool) {
	for _, room := range s.listRooms() {
		room.mu.Lock()
		match := !room.deleted && room.IsRandomQueue && room.Status == StatusWaiting
		room.mu.Unlock()
		if match {
			return room, true
		}
	}
	return nil, false
}

// listRooms 取得當前房間的切片快照
func (s *Store) listRooms() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Stats 取得統計資訊
func (s *Store) Stats() map[string]any {
	rooms := s.listRooms()

	statusCount := make(map[RoomStatus]int)
	totalPlayers := 0
	totalSpectators := 0

	for _, room := range rooms {
		room.mu.Lock()
		statusCount[room.Status]++
		totalPlayers += len(room.Players)
		totalSpectators += len(room.Spectators)
		room.mu.Unlock()
	}

	return map[string]any{
		"total_rooms":      len(rooms),
		"total_players":    totalPlayers,
		"total_spectators": totalSpectators,
		"by_status":        statusCount,
	}
}

// roomCodeChars 房間碼字元集
const roomCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// roomCodeLength 房間碼長度
const roomCodeLength = 6

// generateCodeLocked 生成未被佔用的房間碼（呼叫端需持有寫鎖）
func (s *Store) generateCodeLocked() string {
	for {
		code := randomCode(roomCodeLength)
		if _, taken := s.rooms[code]; !taken {
			return code
		}
	}
}

// randomCode 生成隨機房間碼
func randomCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = roomCodeChars[randInt(len(roomCodeChars))]
	}
	return string(b)
}

// randInt 生成隨機數
func randInt(max int) int {
	b := make([]byte, 1)
	if _, err := rand.Read(b); err != nil {
		// 如果隨機讀取失敗，使用時間作為隨機源
		return int(time.Now().UnixNano()) % max
	}
	return int(b[0]) % max
}
