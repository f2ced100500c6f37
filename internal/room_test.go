package internal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/code-battle/internal"
	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// TestNewRoom 測試創建房間
func TestNewRoom(t *testing.T) {
	room := internal.NewRoom("ABC123", "player1", false)

	require.NotNil(t, room)
	assert.Equal(t, "ABC123", room.Code)
	assert.Equal(t, []string{"player1"}, room.Players)
	assert.Equal(t, internal.StatusWaiting, room.Status)
	assert.Equal(t, internal.InitialHealth, room.Health["player1"])
	assert.Equal(t, 0, room.QuestionsAnswered["player1"])
	assert.False(t, room.IsRandomQueue)
	assert.True(t, room.StartTime.IsZero())
}

// TestRoom_AddPlayer 測試加入玩家與狀態轉換
func TestRoom_AddPlayer(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *internal.Room)
		userID   string
		validate func(t *testing.T, r *internal.Room, err error)
	}{
		{
			name:   "second player flips room to ready",
			userID: "player2",
			validate: func(t *testing.T, r *internal.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, internal.StatusReady, r.Status)
				assert.Equal(t, []string{"player1", "player2"}, r.Players)
				assert.Equal(t, internal.InitialHealth, r.Health["player2"])
				assert.False(t, r.StartTime.IsZero())
			},
		},
		{
			name: "third player is rejected",
			setup: func(r *internal.Room) {
				require.NoError(t, r.AddPlayer("player2"))
			},
			userID: "player3",
			validate: func(t *testing.T, r *internal.Room, err error) {
				require.Error(t, err)
				assert.Equal(t, apperrors.ErrCodeRoomFull, apperrors.Code(err))
				assert.Len(t, r.Players, 2)
			},
		},
		{
			name:   "existing member cannot join twice",
			userID: "player1",
			validate: func(t *testing.T, r *internal.Room, err error) {
				require.Error(t, err)
				assert.True(t, apperrors.IsAlreadyInRoom(err))
				assert.Len(t, r.Players, 1)
			},
		},
		{
			name: "spectator cannot take a seat",
			setup: func(r *internal.Room) {
				require.NoError(t, r.AddSpectator("watcher"))
			},
			userID: "watcher",
			validate: func(t *testing.T, r *internal.Room, err error) {
				require.Error(t, err)
				assert.True(t, apperrors.IsAlreadyInRoom(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := internal.NewRoom("ABC123", "player1", false)
			if tt.setup != nil {
				tt.setup(room)
			}

			err := room.AddPlayer(tt.userID)
			tt.validate(t, room, err)
		})
	}
}

// TestRoom_Roles 測試玩家、觀戰者與對手的判定
func TestRoom_Roles(t *testing.T) {
	room := internal.NewRoom("ABC123", "player1", false)
	require.NoError(t, room.AddPlayer("player2"))
	require.NoError(t, room.AddSpectator("watcher"))

	assert.True(t, room.IsPlayer("player1"))
	assert.False(t, room.IsPlayer("watcher"))
	assert.True(t, room.IsSpectator("watcher"))
	assert.True(t, room.IsMember("watcher"))
	assert.False(t, room.IsMember("stranger"))

	assert.Equal(t, "player2", room.Opponent("player1"))
	assert.Equal(t, "player1", room.Opponent("player2"))
	assert.Empty(t, room.Opponent("watcher"))
}

// TestRoom_Opponent_SinglePlayer 尚無對手時回傳空字串
func TestRoom_Opponent_SinglePlayer(t *testing.T) {
	room := internal.NewRoom("ABC123", "player1", false)
	assert.Empty(t, room.Opponent("player1"))
}

// TestRoom_RemoveUser 測試移除使用者
func TestRoom_RemoveUser(t *testing.T) {
	t.Run("player leaving mid game returns room to waiting", func(t *testing.T) {
		room := internal.NewRoom("ABC123", "player1", false)
		require.NoError(t, room.AddPlayer("player2"))
		room.CodeBuffers["player2"] = "print(1)"
		room.ActiveQuestions["player2"] = &internal.ActiveQuestion{ProblemID: "q1"}

		wasPlayer := room.RemoveUser("player2")

		assert.True(t, wasPlayer)
		assert.Equal(t, internal.StatusWaiting, room.Status)
		assert.Equal(t, []string{"player1"}, room.Players)
		assert.NotContains(t, room.Health, "player2")
		assert.NotContains(t, room.CodeBuffers, "player2")
		assert.NotContains(t, room.ActiveQuestions, "player2")
		assert.NotContains(t, room.QuestionsAnswered, "player2")
	})

	t.Run("spectator leaving does not touch status", func(t *testing.T) {
		room := internal.NewRoom("ABC123", "player1", false)
		require.NoError(t, room.AddPlayer("player2"))
		require.NoError(t, room.AddSpectator("watcher"))

		wasPlayer := room.RemoveUser("watcher")

		assert.False(t, wasPlayer)
		assert.Equal(t, internal.StatusReady, room.Status)
		assert.Len(t, room.Players, 2)
	})

	t.Run("finished room stays finished", func(t *testing.T) {
		room := internal.NewRoom("ABC123", "player1", false)
		require.NoError(t, room.AddPlayer("player2"))
		require.True(t, room.Finish())

		room.RemoveUser("player2")

		assert.Equal(t, internal.StatusFinished, room.Status)
	})

	t.Run("last player leaving empties the room", func(t *testing.T) {
		room := internal.NewRoom("ABC123", "player1", false)
		room.RemoveUser("player1")
		assert.True(t, room.Empty())
	})
}

// TestRoom_ApplyDamage 測試扣血與下限
func TestRoom_ApplyDamage(t *testing.T) {
	tests := []struct {
		name     string
		damage   []int
		expected int
	}{
		{name: "single hit", damage: []int{15}, expected: 85},
		{name: "accumulated hits", damage: []int{49, 49}, expected: 2},
		{name: "health never goes below zero", damage: []int{49, 49, 49}, expected: 0},
		{name: "exact kill", damage: []int{49, 49, 2}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := internal.NewRoom("ABC123", "player1", false)
			require.NoError(t, room.AddPlayer("player2"))

			var remaining int
			for _, d := range tt.damage {
				remaining = room.ApplyDamage("player2", d)
			}

			assert.Equal(t, tt.expected, remaining)
			assert.Equal(t, tt.expected, room.Health["player2"])
			// 對手血量不受影響
			assert.Equal(t, internal.InitialHealth, room.Health["player1"])
		})
	}
}

// TestRoom_Finish 終局轉換只成功一次
func TestRoom_Finish(t *testing.T) {
	room := internal.NewRoom("ABC123", "player1", false)
	require.NoError(t, room.AddPlayer("player2"))

	assert.True(t, room.Finish())
	assert.False(t, room.Finish())
	assert.Equal(t, internal.StatusFinished, room.Status)
}

// TestRoom_Snapshot 快照是獨立副本
func TestRoom_Snapshot(t *testing.T) {
	room := internal.NewRoom("ABC123", "player1", false)
	require.NoError(t, room.AddPlayer("player2"))
	room.CodeBuffers["player1"] = "def add(a, b): return a + b"
	room.QuestionsAnswered["player1"] = 3

	snapshot := room.Snapshot()

	assert.Equal(t, "ABC123", snapshot["room_code"])
	assert.Equal(t, internal.StatusReady, snapshot["status"])
	assert.Equal(t, []string{"player1", "player2"}, snapshot["players"])

	health, ok := snapshot["health"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, internal.InitialHealth, health["player1"])

	// 快照後變更房間不影響已取得的快照
	room.ApplyDamage("player1", 30)
	assert.Equal(t, internal.InitialHealth, health["player1"])

	buffers, ok := snapshot["code_buffers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "def add(a, b): return a + b", buffers["player1"])
}
