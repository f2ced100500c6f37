package internal

// Event 出站事件
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// 出站事件名稱（沿用前端既有的事件詞彙）
const (
	EventWaitingForPlayer   = "waiting_for_player"
	EventGameReady          = "game_ready"
	EventSpectatorJoined    = "spectator_joined"
	EventOpponentCodeUpdate = "opponent_code_update"
	EventPlayerLeft         = "player_left"
	EventPlayerCountUpdate  = "player_count_update"
	EventQuestionReady      = "question_ready"
	EventSubmissionResult   = "submission_result"
	EventQuestionAnswered   = "question_answered"
	EventHealthUpdate       = "health_update"
	EventGameOver           = "game_over"
	EventError              = "error"
)

// 入站訊息類型
const (
	MsgJoinGame        = "join_game"
	MsgLeaveGame       = "leave_game"
	MsgCodeUpdate      = "code_update"
	MsgRequestQuestion = "request_question"
	MsgSkipQuestion    = "skip_question"
	MsgSubmitAnswer    = "submit_answer"
)

// Broadcaster 出站事件路由
//
// 協調器只決定「發什麼、給誰」，怎麼送到連線由傳輸層實現。
// 結構性錯誤只回給行為人的連線，絕不向房間廣播。
type Broadcaster interface {
	// ToRoom 廣播給房間所有成員（玩家與觀戰者）
	ToRoom(roomCode string, ev Event)
	// ToRoomExcept 廣播給房間成員，排除指定連線（程式碼更新不回送給發送者）
	ToRoomExcept(roomCode, exceptConnID string, ev Event)
	// ToConn 發送給單一連線
	ToConn(connID string, ev Event)
	// ToAll 發送給所有連線（線上人數更新）
	ToAll(ev Event)
}
