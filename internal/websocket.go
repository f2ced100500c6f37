package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// 系統設計問題：
//   如何把房間事件實時推送給對的連線？
//
// 核心挑戰：
//   1. 路由：同一事件要能定向到房間、單一連線、或排除發送者
//   2. 連接管理：斷線、重連、多分頁登入
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 順序：同一玩家自己的事件必須依提交順序處理
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有連線與房間索引
//   ✅ 每連線單一 readPump - 同連線訊息天然序列化
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（慢客戶端不拖累房間）

// Hub WebSocket 連線中心
//
// 同時是協調器的 Broadcaster：connections 是全域連線表，
// roomConns 是房間索引（join_game 成功後登記，含觀戰者）。
type Hub struct {
	coordinator *Coordinator
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	connections map[string]*Connection            // connID -> Connection
	roomConns   map[string]map[string]*Connection // roomCode -> connID -> Connection
	mu          sync.RWMutex
}

// Connection 一條 WebSocket 連線
type Connection struct {
	ID       string
	RoomCode string // 加入房間後由 hub 登記（hub.mu 保護）
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub

	closeOnce sync.Once // 確保 channel 只關閉一次
}

// NewHub 創建連線中心
func NewHub(coordinator *Coordinator, logger *slog.Logger) *Hub {
	hub := &Hub{
		coordinator: coordinator,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[string]*Connection),
		roomConns:   make(map[string]map[string]*Connection),
	}
	coordinator.SetBroadcaster(hub)
	return hub
}

// ServeWS 升級並接管一條連線
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  hub,
	}

	hub.mu.Lock()
	hub.connections[connection.ID] = connection
	hub.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連線建立", "conn_id", connection.ID)
}

// joinRoom 把連線登記進房間索引
func (hub *Hub) joinRoom(conn *Connection, roomCode string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if conn.RoomCode != "" && conn.RoomCode != roomCode {
		hub.dropFromRoomLocked(conn)
	}
	if hub.roomConns[roomCode] == nil {
		hub.roomConns[roomCode] = make(map[string]*Connection)
	}
	hub.roomConns[roomCode][conn.ID] = conn
	conn.RoomCode = roomCode
}

// leaveRoom 把連線自房間索引移除
func (hub *Hub) leaveRoom(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.dropFromRoomLocked(conn)
}

// dropFromRoomLocked 呼叫端需持有 hub.mu
func (hub *Hub) dropFromRoomLocked(conn *Connection) {
	if conn.RoomCode == "" {
		return
	}
	if conns, exists := hub.roomConns[conn.RoomCode]; exists {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(hub.roomConns, conn.RoomCode)
		}
	}
	conn.RoomCode = ""
}

// unregister 連線關閉後的清理
func (hub *Hub) unregister(conn *Connection) {
	hub.mu.Lock()
	if actual, exists := hub.connections[conn.ID]; exists && actual == conn {
		delete(hub.connections, conn.ID)
		hub.dropFromRoomLocked(conn)
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
	}
	hub.mu.Unlock()

	// 斷線視同離開房間；進行中的判題不受影響
	hub.coordinator.Disconnect(conn.ID)
}

// --- Broadcaster 實現 ---

// ToRoom 廣播給房間所有成員
func (hub *Hub) ToRoom(roomCode string, ev Event) {
	hub.ToRoomExcept(roomCode, "", ev)
}

// ToRoomExcept 廣播給房間成員，排除指定連線
func (hub *Hub) ToRoomExcept(roomCode, exceptConnID string, ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", ev.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for connID, conn := range hub.roomConns[roomCode] {
		if connID == exceptConnID {
			continue
		}
		conn.trySend(message)
	}
}

// ToConn 發送給單一連線
func (hub *Hub) ToConn(connID string, ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", ev.Type, "error", err)
		return
	}

	hub.mu.RLock()
	conn, exists := hub.connections[connID]
	hub.mu.RUnlock()

	if exists {
		conn.trySend(message)
	}
}

// ToAll 發送給所有連線
func (hub *Hub) ToAll(ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", ev.Type, "error", err)
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for _, conn := range hub.connections {
		conn.trySend(message)
	}
}

// trySend 非阻塞發送；緩衝滿時丟棄（慢客戶端不拖累整個房間）
func (c *Connection) trySend(message []byte) {
	select {
	case c.Send <- message:
	default:
		c.Hub.logger.Warn("連線緩衝區滿，訊息丟棄", "conn_id", c.ID)
	}
}

// Stop 關閉所有連線
func (hub *Hub) Stop() {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for _, conn := range hub.connections {
		conn.closeOnce.Do(func() {
			close(conn.Send)
		})
		conn.Conn.Close()
	}
	hub.connections = make(map[string]*Connection)
	hub.roomConns = make(map[string]map[string]*Connection)

	hub.logger.Info("WebSocket Hub 已停止")
}

// inboundMessage 入站訊息信封
type inboundMessage struct {
	Type string `json:"type"`
	Data struct {
		RoomCode   string `json:"room_code"`
		UserID     string `json:"user_id"`
		Code       string `json:"code"`
		Difficulty string `json:"difficulty"`
		QuestionID string `json:"question_id"`
	} `json:"data"`
}

// readPump 讀取客戶端訊息
//
// 同一條連線的訊息在這個迴圈內逐一處理，
// 因此每名玩家自己的事件天然依提交順序生效。
//
// 心跳：60 秒沒有任何訊息（含 Pong）就關閉連線，
// 配合 writePump 的 54 秒 Ping（留 6 秒余量）。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤", "conn_id", c.ID, "error", err)
			}
			break
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入訊息到客戶端
//
// Ping 間隔 54 秒：避開常見代理的 60 秒閒置超時，留 6 秒余量。
func (c *Connection) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連線
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量送出佇列中的訊息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 分派入站訊息給協調器
//
// 結構性錯誤只回給行為人的連線（error 事件），絕不向房間廣播。
func (c *Connection) handleMessage(message []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.logger.Error("解析客戶端訊息失敗", "conn_id", c.ID, "error", err)
		c.sendError(apperrors.New(apperrors.ErrCodeInvalidInput, "malformed message"))
		return
	}

	coordinator := c.Hub.coordinator
	var err error

	switch msg.Type {
	case MsgJoinGame:
		// 先登記房間索引再分派：加入成功的廣播（game_ready 等）
		// 必須能送達加入者本身的連線
		c.Hub.joinRoom(c, msg.Data.RoomCode)
		if err = coordinator.JoinGame(c.ID, msg.Data.UserID, msg.Data.RoomCode); err != nil {
			c.Hub.leaveRoom(c)
		}
	case MsgLeaveGame:
		err = coordinator.LeaveGame(msg.Data.UserID, msg.Data.RoomCode)
		c.Hub.leaveRoom(c)
	case MsgCodeUpdate:
		err = coordinator.CodeUpdate(c.ID, msg.Data.UserID, msg.Data.RoomCode, msg.Data.Code)
	case MsgRequestQuestion:
		err = coordinator.RequestQuestion(c.ID, msg.Data.UserID, msg.Data.RoomCode, Difficulty(msg.Data.Difficulty))
	case MsgSkipQuestion:
		err = coordinator.SkipQuestion(msg.Data.UserID, msg.Data.RoomCode)
	case MsgSubmitAnswer:
		// 判題是慢路徑，移出 readPump 以免阻塞該玩家的心跳；
		// 提交結果由協調器在套用前複檢前提，順序由房間鎖保證
		go c.submitAnswer(msg)
		return
	default:
		c.Hub.logger.Debug("收到未知訊息類型", "type", msg.Type, "conn_id", c.ID)
		return
	}

	if err != nil {
		c.sendError(err)
	}
}

// submitAnswer 在 readPump 外執行判題並把判定回送給提交者
func (c *Connection) submitAnswer(msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	verdict, err := c.Hub.coordinator.SubmitSolution(ctx,
		msg.Data.UserID, msg.Data.RoomCode, msg.Data.QuestionID, msg.Data.Code)
	if err != nil {
		c.sendError(err)
		return
	}

	c.Hub.ToConn(c.ID, Event{Type: EventSubmissionResult, Data: verdict})
}

// sendError 把錯誤定向回行為人的連線
func (c *Connection) sendError(err error) {
	payload := map[string]any{
		"code":    apperrors.Code(err),
		"message": err.Error(),
	}
	data, marshalErr := json.Marshal(Event{Type: EventError, Data: payload})
	if marshalErr != nil {
		return
	}
	c.trySend(data)
}
