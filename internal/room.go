package internal

import (
	"sync"
	"time"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// 系統設計問題：
//   如何在大量並發連線下管理 1v1 程式對戰房間的狀態？
//
// 核心挑戰：
//   1. 狀態管理：房間有明確的狀態轉換（waiting → ready → finished）
//   2. 並發控制：兩名玩家與多名觀戰者的事件交錯抵達
//   3. 一致性：血量、題目、程式碼緩衝必須被原子地觀察
//   4. 終局保證：finished 是終態，結算只能發生一次
//
// 設計方案：
//   ✅ 有限狀態機（FSM）- 規範狀態轉換
//   ✅ 每房間互斥鎖 - 單一房間內全序，跨房間互不阻塞
//   ✅ Store.Mutate - 唯一合法的變更入口
//   ✅ finished CAS - 以狀態轉換作為結算的一次性守衛

// RoomStatus 房間狀態
//
// 有限狀態機設計：
//
//	waiting → ready → finished
//	   ↑________|
//
// 狀態轉換規則：
//   - waiting → ready：第二名玩家加入，記錄開賽時間
//   - ready → waiting：玩家中途離線（對局未結束），房間保留給剩餘玩家
//   - ready → finished：任一玩家血量歸零
//   - finished 為終態：不再變更血量，直到房間被刪除
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"  // 等待第二名玩家
	StatusReady    RoomStatus = "ready"    // 對戰進行中
	StatusFinished RoomStatus = "finished" // 對戰結束（終態）
)

// Difficulty 題目難度
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// InitialHealth 玩家初始血量
const InitialHealth = 100

// MaxPlayers 每個房間的對戰席位上限，之後加入者一律成為觀戰者
const MaxPlayers = 2

// ActiveQuestion 玩家當前進行中的題目，每名玩家同時最多一題
type ActiveQuestion struct {
	ProblemID  string     `json:"problem_id"`
	Title      string     `json:"title"`
	Difficulty Difficulty `json:"difficulty"`
	StartedAt  time.Time  `json:"started_at"`
}

// Room 對戰房間
//
// 系統設計考量：
//
//  1. 並發控制（每房間互斥鎖）：
//     問題：兩名玩家的事件（程式碼更新、答題、跳題）與觀戰者加入會交錯抵達
//     方案：每個房間一把互斥鎖，由 Store.Mutate 統一持有
//     優勢：
//     - 單一房間內的變更有全序（任何讀者觀察到的都是完整的變更）
//     - 跨房間操作互不阻塞（不需要行程級全域鎖）
//
//  2. 玩家順序（players 切片而非 map）：
//     players[0]/players[1] 是穩定的參照對，「對手」由此推導
//
//  3. 終局守衛（Finish）：
//     斷線結算與答題致勝可能競爭同一次歸零，
//     以 status 轉換為 finished 的一次性 CAS 防止歷史記錄重複寫入
type Room struct {
	Code              string                     `json:"room_code"`
	Players           []string                   `json:"players"` // 至多 2 人，順序有意義
	Spectators        map[string]struct{}        `json:"-"`
	Health            map[string]int             `json:"health"` // userID -> [0,100]
	CodeBuffers       map[string]string          `json:"-"`      // 僅玩家
	QuestionsAnswered map[string]int             `json:"questions_answered"`
	QuestionsAsked    []string                   `json:"questions_asked"` // 防止同房間重複出題
	ActiveQuestions   map[string]*ActiveQuestion `json:"active_questions"`
	Status            RoomStatus                 `json:"status"`
	IsRandomQueue     bool                       `json:"is_random_queue"`
	StartTime         time.Time                  `json:"start_time"`
	CreatedAt         time.Time                  `json:"created_at"`

	mu      sync.Mutex // 由 Store.Mutate 持有
	deleted bool       // 房間已自 Store 移除，Mutate 據此拒絕後續操作
}

// NewRoom 創建新房間，創建者即為第一名玩家
func NewRoom(code, creatorID string, isRandomQueue bool) *Room {
	return &Room{
		Code:              code,
		Players:           []string{creatorID},
		Spectators:        make(map[string]struct{}),
		Health:            map[string]int{creatorID: InitialHealth},
		CodeBuffers:       make(map[string]string),
		QuestionsAnswered: map[string]int{creatorID: 0},
		ActiveQuestions:   make(map[string]*ActiveQuestion),
		Status:            StatusWaiting,
		IsRandomQueue:     isRandomQueue,
		CreatedAt:         time.Now(),
	}
}

// 以下方法都假設呼叫端已透過 Store.Mutate 持有房間鎖。

// IsPlayer 檢查使用者是否為玩家
func (r *Room) IsPlayer(userID string) bool {
	for _, p := range r.Players {
		if p == userID {
			return true
		}
	}
	return false
}

// IsSpectator 檢查使用者是否為觀戰者
func (r *Room) IsSpectator(userID string) bool {
	_, ok := r.Spectators[userID]
	return ok
}

// IsMember 檢查使用者是否在此房間（玩家或觀戰者）
func (r *Room) IsMember(userID string) bool {
	return r.IsPlayer(userID) || r.IsSpectator(userID)
}

// Opponent 取得對手；使用者非玩家或尚無對手時回傳空字串
func (r *Room) Opponent(userID string) string {
	if len(r.Players) < MaxPlayers {
		return ""
	}
	switch userID {
	case r.Players[0]:
		return r.Players[1]
	case r.Players[1]:
		return r.Players[0]
	}
	return ""
}

// AddPlayer 加入第二名玩家；席位已滿時回傳 ErrRoomFull
//
// 席位填滿時狀態自動轉換 waiting → ready 並記錄開賽時間。
func (r *Room) AddPlayer(userID string) error {
	if r.IsMember(userID) {
		return apperrors.ErrAlreadyInRoom
	}
	if len(r.Players) >= MaxPlayers {
		return apperrors.ErrRoomFull
	}

	r.Players = append(r.Players, userID)
	r.Health[userID] = InitialHealth
	r.QuestionsAnswered[userID] = 0

	if len(r.Players) == MaxPlayers && r.Status == StatusWaiting {
		r.Status = StatusReady
		r.StartTime = time.Now()
	}
	return nil
}

// AddSpectator 加入觀戰者，不佔對戰席位、不配血量
func (r *Room) AddSpectator(userID string) error {
	if r.IsMember(userID) {
		return apperrors.ErrAlreadyInRoom
	}
	r.Spectators[userID] = struct{}{}
	return nil
}

// RemoveUser 將使用者自任何角色移除，並清空其所有 per-user 狀態。
// 回傳該使用者先前是否為玩家。
func (r *Room) RemoveUser(userID string) (wasPlayer bool) {
	for i, p := range r.Players {
		if p == userID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			wasPlayer = true
			break
		}
	}
	delete(r.Spectators, userID)
	delete(r.Health, userID)
	delete(r.CodeBuffers, userID)
	delete(r.QuestionsAnswered, userID)
	delete(r.ActiveQuestions, userID)

	// 未結束的對局退回等待狀態，房間留給剩餘的參與者
	if wasPlayer && r.Status == StatusReady {
		r.Status = StatusWaiting
	}
	return wasPlayer
}

// ApplyDamage 扣血，下限為 0；回傳扣血後的血量。
// finished 為終態，呼叫端必須先檢查 Status。
func (r *Room) ApplyDamage(userID string, damage int) int {
	h := r.Health[userID] - damage
	if h < 0 {
		h = 0
	}
	r.Health[userID] = h
	return h
}

// Finish 嘗試將房間轉換為 finished
//
// 一次性 CAS：只有第一個呼叫者得到 true，
// 後續的斷線／答題結算據此放棄重複寫入歷史記錄。
func (r *Room) Finish() bool {
	if r.Status == StatusFinished {
		return false
	}
	r.Status = StatusFinished
	return true
}

// Empty 檢查房間是否已無玩家
func (r *Room) Empty() bool {
	return len(r.Players) == 0
}

// Snapshot 取得房間完整快照（觀戰者加入時的同步資料）
func (r *Room) Snapshot() map[string]any {
	players := make([]string, len(r.Players))
	copy(players, r.Players)

	health := make(map[string]int, len(r.Health))
	for id, h := range r.Health {
		health[id] = h
	}

	buffers := make(map[string]string, len(r.CodeBuffers))
	for id, code := range r.CodeBuffers {
		buffers[id] = code
	}

	active := make(map[string]*ActiveQuestion, len(r.ActiveQuestions))
	for id, q := range r.ActiveQuestions {
		qc := *q
		active[id] = &qc
	}

	solved := make(map[string]int, len(r.QuestionsAnswered))
	for id, n := range r.QuestionsAnswered {
		solved[id] = n
	}

	return map[string]any{
		"room_code":          r.Code,
		"status":             r.Status,
		"players":            players,
		"health":             health,
		"code_buffers":       buffers,
		"active_questions":   active,
		"questions_answered": solved,
		"is_random_queue":    r.IsRandomQueue,
		"start_time":         r.StartTime,
	}
}
