package internal

import (
	"context"
	"log/slog"
	"math"
	"time"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// 系統設計問題：
//   join / leave / 斷線 / 程式碼更新 / 出題 / 跳題 / 答題
//   這些事件如何在並發抵達時對房間狀態保持一致？
//
// 核心挑戰：
//   1. 事件交錯：斷線結算與答題致勝可能競爭同一場對局的終點
//   2. 精確一次：一場結束的對局，歷史記錄只能寫入一次
//   3. 慢路徑隔離：判題阻塞數秒，不能在房間鎖內進行
//
// 設計方案：
//   ✅ 所有狀態變更走 Store.Mutate（房間內全序）
//   ✅ 判題在鎖外執行，回鎖套用結果前複檢前提（使用者還在、題目還在）
//   ✅ 結算以 Room.Finish 的一次性轉換守衛
//   ✅ 歷史寫入 fire-and-forget，失敗不回滾遊戲狀態

// 正確答題對「對手」造成的基礎傷害
var answerDamage = map[Difficulty]int{
	DifficultyEasy:   4,
	DifficultyMedium: 15,
	DifficultyHard:   49,
}

// 跳題對「自己」的血量懲罰（不吃 hard-mode 加成）
var skipPenalty = map[Difficulty]int{
	DifficultyEasy:   5,
	DifficultyMedium: 10,
	DifficultyHard:   20,
}

// damageFor 計算答題傷害：hard-mode 時 ×1.1 無條件進位
func damageFor(difficulty Difficulty, hardMode bool) int {
	base := answerDamage[difficulty]
	if hardMode {
		return int(math.Ceil(float64(base) * 1.1))
	}
	return base
}

// validDifficulty 檢查難度值
func validDifficulty(d Difficulty) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Judger 判題協作者介面（由沙箱判題管線實現）
type Judger interface {
	Judge(ctx context.Context, code string, cases []TestCase) (*Verdict, error)
}

// Coordinator 對戰事件協調器
//
// 持有房間表與各協作者，把入站事件轉成房間變更與出站事件。
// 本身無狀態：所有可變狀態都在 Store 裡，方法可以被任意並發呼叫。
type Coordinator struct {
	store    *Store
	registry *Registry
	bank     QuestionBank
	users    UsernameResolver
	history  GameHistory
	judge    Judger
	bc       Broadcaster
	hardMode bool
	logger   *slog.Logger
}

// CoordinatorDeps 協調器的依賴
type CoordinatorDeps struct {
	Store    *Store
	Registry *Registry
	Bank     QuestionBank
	Users    UsernameResolver
	History  GameHistory
	Judge    Judger
	Bc       Broadcaster
	HardMode bool
	Logger   *slog.Logger
}

// NewCoordinator 創建協調器
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	return &Coordinator{
		store:    deps.Store,
		registry: deps.Registry,
		bank:     deps.Bank,
		users:    deps.Users,
		history:  deps.History,
		judge:    deps.Judge,
		bc:       deps.Bc,
		hardMode: deps.HardMode,
		logger:   deps.Logger,
	}
}

// SetBroadcaster 設定出站路由（hub 與協調器相互依賴，啟動時注入）
func (c *Coordinator) SetBroadcaster(bc Broadcaster) {
	c.bc = bc
}

// JoinGame 使用者加入房間
//
// 席位已滿時不報錯：加入者成為觀戰者並收到完整快照。
// 已是本房玩家的使用者視為重連，不重複佔位；
// 已在其他房間的使用者被拒絕（AlreadyInRoom）。
func (c *Coordinator) JoinGame(connID, userID, roomCode string) error {
	// 一個使用者同一時間最多屬於一個房間；同房重入才是重連
	if existing := c.store.FindUserRoom(userID); existing != "" && existing != roomCode {
		return apperrors.ErrAlreadyInRoom.WithDetails("already in room " + existing)
	}

	var (
		becameReady bool
		asSpectator bool
		snapshot    map[string]any
		players     []string
		health      map[string]int
		startTime   time.Time
	)

	err := c.store.Mutate(roomCode, func(r *Room) error {
		statusBefore := r.Status

		switch {
		case r.IsMember(userID):
			// 重連：角色與狀態不變
		case len(r.Players) < MaxPlayers && r.Status != StatusFinished:
			if err := r.AddPlayer(userID); err != nil {
				return err
			}
		default:
			if err := r.AddSpectator(userID); err != nil {
				return err
			}
			asSpectator = true
			snapshot = r.Snapshot()
		}

		becameReady = statusBefore == StatusWaiting && r.Status == StatusReady
		players = append([]string(nil), r.Players...)
		health = make(map[string]int, len(r.Health))
		for id, h := range r.Health {
			health[id] = h
		}
		startTime = r.StartTime
		return nil
	})
	if err != nil {
		return err
	}

	c.registry.Bind(connID, userID)

	switch {
	case asSpectator:
		c.bc.ToConn(connID, Event{Type: EventSpectatorJoined, Data: snapshot})
	case becameReady:
		usernames := c.users.ResolveUsernames(players)
		c.bc.ToRoom(roomCode, Event{Type: EventGameReady, Data: map[string]any{
			"room_code":  roomCode,
			"players":    players,
			"usernames":  usernames,
			"health":     health,
			"start_time": startTime,
		}})
	default:
		c.bc.ToConn(connID, Event{Type: EventWaitingForPlayer, Data: map[string]any{
			"room_code": roomCode,
		}})
	}

	c.broadcastPlayerCount()

	c.logger.Info("使用者加入房間",
		"room_code", roomCode,
		"user_id", userID,
		"spectator", asSpectator)
	return nil
}

// LeaveGame 使用者主動離開房間
func (c *Coordinator) LeaveGame(userID, roomCode string) error {
	return c.removeFromRoom(userID, roomCode, "left")
}

// Disconnect 連線中斷
//
// 斷線不取消任何進行中的判題；之後的判題結果
// 會在套用前發現使用者已不在房間而被丟棄。
func (c *Coordinator) Disconnect(connID string) {
	userID, bound := c.registry.UnbindConn(connID)
	if bound {
		if roomCode := c.store.FindUserRoom(userID); roomCode != "" {
			if err := c.removeFromRoom(userID, roomCode, "disconnected"); err != nil {
				c.logger.Warn("斷線清理失敗",
					"user_id", userID,
					"room_code", roomCode,
					"error", err)
			}
		}
	}
	c.broadcastPlayerCount()
}

// removeFromRoom 把使用者自房間移除（leave 與斷線的共用路徑）
//
// 「還是成員」就是防重複結算的守衛：leave 與斷線在同一房間上
// 交錯時，後到者發現使用者已被移除，直接 no-op。
func (c *Coordinator) removeFromRoom(userID, roomCode, reason string) error {
	var (
		record      *GameRecord
		wasPlayer   bool
		becameEmpty bool
		status      RoomStatus
	)

	err := c.store.Mutate(roomCode, func(r *Room) error {
		if !r.IsMember(userID) {
			return nil
		}

		// 未結束的雙人對局中有玩家離開：勝利歸於留下的一方，結算一次
		if r.Status == StatusReady && len(r.Players) == MaxPlayers && r.IsPlayer(userID) {
			record = c.buildRecord(r, r.Opponent(userID))
		}

		wasPlayer = r.RemoveUser(userID)
		becameEmpty = r.Empty()
		status = r.Status
		return nil
	})
	if err != nil {
		return err
	}

	if record != nil {
		c.saveHistory(*record)
	}

	if becameEmpty {
		c.store.DeleteIfEmpty(roomCode)
	} else {
		data := map[string]any{
			"user_id":    userID,
			"was_player": wasPlayer,
			"reason":     reason,
			"status":     status,
		}
		if record != nil {
			data["winner"] = record.Winner
		}
		c.bc.ToRoom(roomCode, Event{Type: EventPlayerLeft, Data: data})
	}

	c.logger.Info("使用者離開房間",
		"room_code", roomCode,
		"user_id", userID,
		"reason", reason,
		"was_player", wasPlayer)
	return nil
}

// CodeUpdate 玩家更新程式碼緩衝
//
// 只有玩家能寫，觀戰者與房外使用者得到 InvalidOperation。
// 轉播給房間其他成員（含觀戰者），排除發送者本身的連線。
func (c *Coordinator) CodeUpdate(connID, userID, roomCode, code string) error {
	err := c.store.Mutate(roomCode, func(r *Room) error {
		if !r.IsPlayer(userID) {
			return apperrors.ErrInvalidOperation.WithDetails("only players may update code")
		}
		r.CodeBuffers[userID] = code
		return nil
	})
	if err != nil {
		return err
	}

	c.bc.ToRoomExcept(roomCode, connID, Event{Type: EventOpponentCodeUpdate, Data: map[string]any{
		"user_id": userID,
		"code":    code,
	}})
	return nil
}

// RequestQuestion 玩家請求一題指定難度的題目
//
// 防重複：同房間已出過的題目不再出。該難度出盡時，
// 只清掉 questionsAsked 中該難度的項目後重試一次。
func (c *Coordinator) RequestQuestion(connID, userID, roomCode string, difficulty Difficulty) error {
	if !validDifficulty(difficulty) {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown difficulty").WithDetails(string(difficulty))
	}

	var picked *Problem

	err := c.store.Mutate(roomCode, func(r *Room) error {
		if !r.IsPlayer(userID) {
			return apperrors.ErrInvalidOperation.WithDetails("only players may request questions")
		}
		if r.Status == StatusFinished {
			return apperrors.ErrInvalidOperation.WithDetails("game already finished")
		}
		if _, active := r.ActiveQuestions[userID]; active {
			return apperrors.ErrAlreadyHasActiveQuestion
		}

		picked = c.bank.PickQuestion(difficulty, askedSet(r.QuestionsAsked))
		if picked == nil {
			// 該難度出盡：只重置該難度的已出題記錄，重試一次
			r.QuestionsAsked = c.dropAskedOfDifficulty(r.QuestionsAsked, difficulty)
			picked = c.bank.PickQuestion(difficulty, askedSet(r.QuestionsAsked))
		}
		if picked == nil {
			return apperrors.ErrInvalidOperation.WithDetails("no questions available for difficulty " + string(difficulty))
		}

		r.ActiveQuestions[userID] = &ActiveQuestion{
			ProblemID:  picked.ID,
			Title:      picked.Title,
			Difficulty: difficulty,
			StartedAt:  time.Now(),
		}
		r.QuestionsAsked = append(r.QuestionsAsked, picked.ID)
		return nil
	})
	if err != nil {
		return err
	}

	c.bc.ToConn(connID, Event{Type: EventQuestionReady, Data: map[string]any{
		"problem":    picked,
		"difficulty": difficulty,
	}})

	c.logger.Info("已出題",
		"room_code", roomCode,
		"user_id", userID,
		"problem_id", picked.ID,
		"difficulty", difficulty)
	return nil
}

// SkipQuestion 玩家跳過當前題目
//
// 懲罰扣的是跳題者自己的血，不吃 hard-mode 加成。
// 跳到自己歸零時，勝利歸於對手。
func (c *Coordinator) SkipQuestion(userID, roomCode string) error {
	var (
		skipped *ActiveQuestion
		health  map[string]int
		record  *GameRecord
		solved  map[string]int
	)

	err := c.store.Mutate(roomCode, func(r *Room) error {
		if !r.IsPlayer(userID) {
			return apperrors.ErrInvalidOperation.WithDetails("only players may skip questions")
		}
		aq, active := r.ActiveQuestions[userID]
		if !active {
			return apperrors.ErrNoActiveQuestion
		}
		if r.Status == StatusFinished {
			return apperrors.ErrInvalidOperation.WithDetails("game already finished")
		}

		skipped = aq
		delete(r.ActiveQuestions, userID)

		remaining := r.ApplyDamage(userID, skipPenalty[aq.Difficulty])
		if remaining == 0 {
			// 跳題把自己跳到歸零：對手獲勝
			if opponent := r.Opponent(userID); opponent != "" && r.Finish() {
				record = c.buildRecord(r, opponent)
			}
		}

		health = copyHealth(r.Health)
		solved = copySolved(r.QuestionsAnswered)
		return nil
	})
	if err != nil {
		return err
	}

	c.bc.ToRoom(roomCode, Event{Type: EventQuestionAnswered, Data: map[string]any{
		"user_id":    userID,
		"problem_id": skipped.ProblemID,
		"difficulty": skipped.Difficulty,
		"skipped":    true,
	}})
	c.bc.ToRoom(roomCode, Event{Type: EventHealthUpdate, Data: map[string]any{
		"health": health,
	}})

	if record != nil {
		c.finishGame(roomCode, record, solved, health)
	}
	return nil
}

// SubmitSolution 判題並套用答題結果
//
// 判題是慢路徑（每個測資一個沙箱），在房間鎖外執行；
// 套用結果前回鎖複檢：使用者還是玩家、同一題還在進行中。
// 前提不成立（中途離開、題目已被跳過）時丟棄判題結果，不報錯。
func (c *Coordinator) SubmitSolution(ctx context.Context, userID, roomCode, questionID, code string) (*Verdict, error) {
	problem, ok := c.bank.Lookup(questionID)
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "unknown question").WithDetails(questionID)
	}

	// 判題前先驗證前提，省掉必然白跑的沙箱
	err := c.store.Mutate(roomCode, func(r *Room) error {
		if !r.IsPlayer(userID) {
			return apperrors.ErrInvalidOperation.WithDetails("only players may submit solutions")
		}
		aq, active := r.ActiveQuestions[userID]
		if !active {
			return apperrors.ErrNoActiveQuestion
		}
		if aq.ProblemID != questionID {
			return apperrors.ErrInvalidOperation.WithDetails("submitted question is not the active question")
		}
		r.CodeBuffers[userID] = code
		return nil
	})
	if err != nil {
		return nil, err
	}

	verdict, err := c.judge.Judge(ctx, code, problem.TestCases)
	if err != nil {
		return nil, err
	}
	if !verdict.Passed {
		return verdict, nil
	}

	var (
		applied    bool
		difficulty Difficulty
		health     map[string]int
		solved     map[string]int
		record     *GameRecord
	)

	err = c.store.Mutate(roomCode, func(r *Room) error {
		aq, active := r.ActiveQuestions[userID]
		if !r.IsPlayer(userID) || !active || aq.ProblemID != questionID || r.Status == StatusFinished {
			// 判題期間前提已失效：丟棄結果
			return nil
		}

		applied = true
		difficulty = aq.Difficulty
		delete(r.ActiveQuestions, userID)
		r.QuestionsAnswered[userID]++

		if opponent := r.Opponent(userID); opponent != "" {
			remaining := r.ApplyDamage(opponent, damageFor(aq.Difficulty, c.hardMode))
			if remaining == 0 && r.Finish() {
				record = c.buildRecord(r, userID)
			}
		}

		health = copyHealth(r.Health)
		solved = copySolved(r.QuestionsAnswered)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		c.logger.Info("判題結果已丟棄（使用者已離開或題目已變更）",
			"room_code", roomCode,
			"user_id", userID,
			"problem_id", questionID)
		return verdict, nil
	}

	c.bc.ToRoom(roomCode, Event{Type: EventQuestionAnswered, Data: map[string]any{
		"user_id":    userID,
		"problem_id": questionID,
		"difficulty": difficulty,
		"correct":    true,
	}})
	c.bc.ToRoom(roomCode, Event{Type: EventHealthUpdate, Data: map[string]any{
		"health": health,
	}})

	if record != nil {
		c.finishGame(roomCode, record, solved, health)
	}
	return verdict, nil
}

// PlayerCount 當前線上人數
func (c *Coordinator) PlayerCount() int {
	return c.registry.Count()
}

// finishGame 廣播終局事件並寫入歷史
func (c *Coordinator) finishGame(roomCode string, record *GameRecord, solved map[string]int, health map[string]int) {
	usernames := c.users.ResolveUsernames([]string{record.Player1, record.Player2})

	c.bc.ToRoom(roomCode, Event{Type: EventGameOver, Data: map[string]any{
		"winner":       record.Winner,
		"usernames":    usernames,
		"final_health": health,
		"solved_count": solved,
	}})

	c.saveHistory(*record)
}

// saveHistory 非同步寫入歷史記錄
//
// 失敗只記錄日誌：房間的狀態與血量仍是權威，
// 歷史寫入絕不回滾或阻塞遊戲狀態的轉換。
func (c *Coordinator) saveHistory(rec GameRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.history.RecordGame(ctx, rec); err != nil {
			c.logger.Error("歷史記錄寫入失敗",
				"room_code", rec.RoomCode,
				"winner", rec.Winner,
				"error", err)
		}
	}()
}

// buildRecord 在房間鎖內建立結果快照（呼叫端持有鎖）
func (c *Coordinator) buildRecord(r *Room, winner string) *GameRecord {
	rec := &GameRecord{
		RoomCode:    r.Code,
		Winner:      winner,
		SolvedCount: copySolved(r.QuestionsAnswered),
		FinalHealth: copyHealth(r.Health),
		FinishedAt:  time.Now(),
	}
	if len(r.Players) > 0 {
		rec.Player1 = r.Players[0]
	}
	if len(r.Players) > 1 {
		rec.Player2 = r.Players[1]
	}
	return rec
}

// broadcastPlayerCount 向所有連線推送線上人數
func (c *Coordinator) broadcastPlayerCount() {
	c.bc.ToAll(Event{Type: EventPlayerCountUpdate, Data: map[string]any{
		"count": c.registry.Count(),
	}})
}

// dropAskedOfDifficulty 自已出題記錄移除指定難度的項目
func (c *Coordinator) dropAskedOfDifficulty(asked []string, difficulty Difficulty) []string {
	kept := asked[:0]
	for _, id := range asked {
		if p, ok := c.bank.Lookup(id); ok && p.Difficulty == difficulty {
			continue
		}
		kept = append(kept, id)
	}
	return kept
}

// askedSet 把已出題列表轉成查詢集合
func askedSet(asked []string) map[string]bool {
	set := make(map[string]bool, len(asked))
	for _, id := range asked {
		set[id] = true
	}
	return set
}

func copyHealth(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for id, h := range src {
		dst[id] = h
	}
	return dst
}

func copySolved(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for id, n := range src {
		dst[id] = n
	}
	return dst
}
