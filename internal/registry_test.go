package internal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/code-battle/internal"
)

// TestRegistry_BindAndLookup 測試綁定與雙向查詢
func TestRegistry_BindAndLookup(t *testing.T) {
	reg := internal.NewRegistry()

	reg.Bind("conn-1", "alice")

	userID, ok := reg.UserFor("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", userID)

	connID, ok := reg.ConnFor("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-1", connID)

	assert.Equal(t, 1, reg.Count())
}

// TestRegistry_Rebind 重連取代舊連線的綁定
func TestRegistry_Rebind(t *testing.T) {
	reg := internal.NewRegistry()

	reg.Bind("conn-1", "alice")
	reg.Bind("conn-2", "alice")

	// 舊連線的綁定已被取代
	_, ok := reg.UserFor("conn-1")
	assert.False(t, ok)

	connID, ok := reg.ConnFor("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", connID)

	assert.Equal(t, 1, reg.Count())
}

// TestRegistry_UnbindConn 測試解除綁定
func TestRegistry_UnbindConn(t *testing.T) {
	reg := internal.NewRegistry()
	reg.Bind("conn-1", "alice")
	reg.Bind("conn-2", "bob")

	userID, ok := reg.UnbindConn("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
	assert.Equal(t, 1, reg.Count())

	// 重複解除是 no-op
	_, ok = reg.UnbindConn("conn-1")
	assert.False(t, ok)

	// 不影響其他綁定
	connID, ok := reg.ConnFor("bob")
	require.True(t, ok)
	assert.Equal(t, "conn-2", connID)
}

// TestRegistry_UnbindStaleConn 解除已被取代的舊連線不影響新綁定
func TestRegistry_UnbindStaleConn(t *testing.T) {
	reg := internal.NewRegistry()
	reg.Bind("conn-1", "alice")
	reg.Bind("conn-2", "alice") // conn-1 的綁定已被取代

	_, ok := reg.UnbindConn("conn-1")
	assert.False(t, ok)

	// alice 的新連線仍然有效
	connID, ok := reg.ConnFor("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", connID)
}
