package internal_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/code-battle/internal"
)

// testServer 組裝完整的服務棧（判題與歷史換成測試替身）
type testServer struct {
	ts          *httptest.Server
	store       *internal.Store
	coordinator *internal.Coordinator
	judge       *fakeJudge
	history     *fakeHistory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := testLogger()
	store := internal.NewStore(logger)
	judge := &fakeJudge{passed: true}
	history := &fakeHistory{}

	coordinator := internal.NewCoordinator(internal.CoordinatorDeps{
		Store:    store,
		Registry: internal.NewRegistry(),
		Bank:     internal.NewMemoryBank(battleProblems()),
		Users:    internal.NewMemoryUsers(),
		History:  history,
		Judge:    judge,
		Logger:   logger,
	})
	hub := internal.NewHub(coordinator, logger)
	matchmaker := internal.NewMatchmaker(store, logger)
	handler := internal.NewHandler(matchmaker, coordinator, store, hub, logger)

	ts := httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		ts.Close()
		hub.Stop()
	})

	return &testServer{
		ts:          ts,
		store:       store,
		coordinator: coordinator,
		judge:       judge,
		history:     history,
	}
}

func (s *testServer) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(s.ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Get(s.ts.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// TestHandler_CreateRoom 測試創建房間 API
func TestHandler_CreateRoom(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		validate func(t *testing.T, s *testServer, resp *http.Response, body map[string]any)
	}{
		{
			name: "valid request returns a join code",
			body: map[string]any{"user_id": "alice"},
			validate: func(t *testing.T, s *testServer, resp *http.Response, body map[string]any) {
				assert.Equal(t, http.StatusCreated, resp.StatusCode)
				code, ok := body["room_code"].(string)
				require.True(t, ok)
				assert.Regexp(t, roomCodePattern, code)

				room, err := s.store.GetRoom(code)
				require.NoError(t, err)
				assert.Equal(t, []string{"alice"}, room.Players)
			},
		},
		{
			name: "missing user_id is rejected",
			body: map[string]any{},
			validate: func(t *testing.T, _ *testServer, resp *http.Response, body map[string]any) {
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
				assert.Equal(t, "INVALID_INPUT", body["code"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			resp, body := s.post(t, "/api/create-room", tt.body)
			tt.validate(t, s, resp, body)
		})
	}
}

// TestHandler_CreateRoom_AlreadyInRoom 重複創建回 409
func TestHandler_CreateRoom_AlreadyInRoom(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.post(t, "/api/create-room", map[string]any{"user_id": "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.post(t, "/api/create-room", map[string]any{"user_id": "alice"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_IN_ROOM", body["code"])
}

// TestHandler_FindRandomGame 測試隨機配對 API
func TestHandler_FindRandomGame(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.post(t, "/api/find-random-game", map[string]any{"user_id": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["created"])
	first := body["room_code"].(string)

	resp, body = s.post(t, "/api/find-random-game", map[string]any{"user_id": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["created"])
	assert.Equal(t, first, body["room_code"])
}

// TestHandler_Submit 測試判題提交 API
func TestHandler_Submit(t *testing.T) {
	t.Run("unknown question returns 400", func(t *testing.T) {
		s := newTestServer(t)
		resp, body := s.post(t, "/api/submit", map[string]any{
			"user_id": "alice", "room_code": "ABC123", "question_id": "no-such", "code": "x",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_INPUT", body["code"])
	})

	t.Run("unknown room returns 404", func(t *testing.T) {
		s := newTestServer(t)
		resp, body := s.post(t, "/api/submit", map[string]any{
			"user_id": "alice", "room_code": "NOSUCH", "question_id": "easy-1", "code": "x",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "ROOM_NOT_FOUND", body["code"])
	})

	t.Run("passing submission returns the verdict and applies damage", func(t *testing.T) {
		s := newTestServer(t)

		room, err := s.store.CreateRoom("alice", false)
		require.NoError(t, err)
		require.NoError(t, s.coordinator.JoinGame("conn-a", "alice", room.Code))
		require.NoError(t, s.coordinator.JoinGame("conn-b", "bob", room.Code))
		require.NoError(t, s.coordinator.RequestQuestion("conn-a", "alice", room.Code, internal.DifficultyMedium))

		resp, body := s.post(t, "/api/submit", map[string]any{
			"user_id":     "alice",
			"room_code":   room.Code,
			"question_id": "medium-1",
			"code":        "def solve(n):\n    return n",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["passed"])

		require.NoError(t, s.store.Mutate(room.Code, func(r *internal.Room) error {
			assert.Equal(t, 85, r.Health["bob"]) // medium 傷害 15
			return nil
		}))
	})
}

// TestHandler_PlayerCount 測試線上人數 API
func TestHandler_PlayerCount(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.get(t, "/api/player-count")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])
}

// TestHandler_Health 測試健康檢查
func TestHandler_Health(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

// TestHandler_Stats 測試統計 API
func TestHandler_Stats(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.CreateRoom("alice", false)
	require.NoError(t, err)

	resp, body := s.get(t, "/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total_rooms"])
	assert.Equal(t, float64(1), body["total_players"])
	assert.Equal(t, float64(0), body["online_players"])
}

// TestHandler_InvalidJSON 無效的請求體
func TestHandler_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Post(s.ts.URL+"/api/create-room", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", body["code"])
}

// dialWS 建立測試用 WebSocket 連線
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForEvent 讀取連線直到出現指定類型的事件
func waitForEvent(t *testing.T, conn *websocket.Conn, eventType string) internal.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	for {
		var ev internal.Event
		err := conn.ReadJSON(&ev)
		require.NoError(t, err, "waiting for %s", eventType)
		if ev.Type == eventType {
			return ev
		}
	}
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, data map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": msgType, "data": data}))
}

// TestWebSocket_JoinFlow 端到端：兩名玩家經 WebSocket 加入並開賽
func TestWebSocket_JoinFlow(t *testing.T) {
	s := newTestServer(t)

	_, body := s.post(t, "/api/create-room", map[string]any{"user_id": "alice"})
	roomCode := body["room_code"].(string)

	// 創建者連上：等待對手
	alice := dialWS(t, s.ts)
	sendMessage(t, alice, internal.MsgJoinGame, map[string]any{
		"room_code": roomCode, "user_id": "alice",
	})
	waitForEvent(t, alice, internal.EventWaitingForPlayer)

	// 第二名玩家連上：雙方都收到 game_ready
	bob := dialWS(t, s.ts)
	sendMessage(t, bob, internal.MsgJoinGame, map[string]any{
		"room_code": roomCode, "user_id": "bob",
	})

	ready := waitForEvent(t, alice, internal.EventGameReady)
	waitForEvent(t, bob, internal.EventGameReady)

	data, ok := ready.Data.(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"alice", "bob"}, data["players"].([]any))
}

// TestWebSocket_ErrorGoesToActorOnly 結構性錯誤只回給行為人
func TestWebSocket_ErrorGoesToActorOnly(t *testing.T) {
	s := newTestServer(t)

	conn := dialWS(t, s.ts)
	sendMessage(t, conn, internal.MsgJoinGame, map[string]any{
		"room_code": "NOSUCH", "user_id": "alice",
	})

	ev := waitForEvent(t, conn, internal.EventError)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ROOM_NOT_FOUND", data["code"])
}

// TestWebSocket_CodeUpdateMirroring 程式碼更新鏡像給對手，不回送發送者
func TestWebSocket_CodeUpdateMirroring(t *testing.T) {
	s := newTestServer(t)

	_, body := s.post(t, "/api/create-room", map[string]any{"user_id": "alice"})
	roomCode := body["room_code"].(string)

	alice := dialWS(t, s.ts)
	sendMessage(t, alice, internal.MsgJoinGame, map[string]any{"room_code": roomCode, "user_id": "alice"})
	waitForEvent(t, alice, internal.EventWaitingForPlayer)

	bob := dialWS(t, s.ts)
	sendMessage(t, bob, internal.MsgJoinGame, map[string]any{"room_code": roomCode, "user_id": "bob"})
	waitForEvent(t, alice, internal.EventGameReady)
	waitForEvent(t, bob, internal.EventGameReady)

	sendMessage(t, alice, internal.MsgCodeUpdate, map[string]any{
		"room_code": roomCode, "user_id": "alice", "code": "def add(a, b): return a + b",
	})

	update := waitForEvent(t, bob, internal.EventOpponentCodeUpdate)
	data, ok := update.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", data["user_id"])
	assert.Equal(t, "def add(a, b): return a + b", data["code"])
}

// TestWebSocket_DisconnectSettlesGame 斷線結算歸於留下的一方
func TestWebSocket_DisconnectSettlesGame(t *testing.T) {
	s := newTestServer(t)

	_, body := s.post(t, "/api/create-room", map[string]any{"user_id": "alice"})
	roomCode := body["room_code"].(string)

	alice := dialWS(t, s.ts)
	sendMessage(t, alice, internal.MsgJoinGame, map[string]any{"room_code": roomCode, "user_id": "alice"})
	waitForEvent(t, alice, internal.EventWaitingForPlayer)

	bob := dialWS(t, s.ts)
	sendMessage(t, bob, internal.MsgJoinGame, map[string]any{"room_code": roomCode, "user_id": "bob"})
	waitForEvent(t, alice, internal.EventGameReady)
	waitForEvent(t, bob, internal.EventGameReady)

	require.NoError(t, bob.Close())

	left := waitForEvent(t, alice, internal.EventPlayerLeft)
	data, ok := left.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bob", data["user_id"])
	assert.Equal(t, "alice", data["winner"])

	require.Eventually(t, func() bool {
		return s.history.count() == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "alice", s.history.lastRecord().Winner)
}
