package internal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/code-battle/internal"
	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// TestMatchmaker_CreateRoom 測試顯式創建房間
func TestMatchmaker_CreateRoom(t *testing.T) {
	store := internal.NewStore(testLogger())
	mm := internal.NewMatchmaker(store, testLogger())

	code, err := mm.CreateRoom("player1")
	require.NoError(t, err)
	assert.Regexp(t, roomCodePattern, code)

	room, err := store.GetRoom(code)
	require.NoError(t, err)
	assert.False(t, room.IsRandomQueue)
	assert.Equal(t, []string{"player1"}, room.Players)
}

// TestMatchmaker_FindRandomGame 測試隨機配對
func TestMatchmaker_FindRandomGame(t *testing.T) {
	t.Run("no waiting room opens a new one", func(t *testing.T) {
		store := internal.NewStore(testLogger())
		mm := internal.NewMatchmaker(store, testLogger())

		code, created, err := mm.FindRandomGame("player1")
		require.NoError(t, err)
		assert.True(t, created)

		room, err := store.GetRoom(code)
		require.NoError(t, err)
		assert.True(t, room.IsRandomQueue)
		assert.Equal(t, internal.StatusWaiting, room.Status)
	})

	t.Run("second caller is matched into the waiting room", func(t *testing.T) {
		store := internal.NewStore(testLogger())
		mm := internal.NewMatchmaker(store, testLogger())

		first, created, err := mm.FindRandomGame("player1")
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := mm.FindRandomGame("player2")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, second)
	})

	t.Run("private rooms are not matched", func(t *testing.T) {
		store := internal.NewStore(testLogger())
		mm := internal.NewMatchmaker(store, testLogger())

		_, err := mm.CreateRoom("private-owner")
		require.NoError(t, err)

		code, created, err := mm.FindRandomGame("player1")
		require.NoError(t, err)
		assert.True(t, created)

		room, err := store.GetRoom(code)
		require.NoError(t, err)
		assert.True(t, room.IsRandomQueue)
	})

	t.Run("full random rooms are not matched", func(t *testing.T) {
		store := internal.NewStore(testLogger())
		mm := internal.NewMatchmaker(store, testLogger())

		full, err := store.CreateRoom("seat1", true)
		require.NoError(t, err)
		require.NoError(t, store.Mutate(full.Code, func(r *internal.Room) error {
			return r.AddPlayer("seat2")
		}))

		code, created, err := mm.FindRandomGame("player1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, full.Code, code)
	})

	t.Run("caller already in a room is rejected", func(t *testing.T) {
		store := internal.NewStore(testLogger())
		mm := internal.NewMatchmaker(store, testLogger())

		_, err := mm.CreateRoom("player1")
		require.NoError(t, err)

		_, _, err = mm.FindRandomGame("player1")
		require.Error(t, err)
		assert.True(t, apperrors.IsAlreadyInRoom(err))
	})
}
