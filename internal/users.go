package internal

import "sync"

// UsernameResolver 使用者名稱協作者介面
//
// 僅用於廣播時的顯示名稱充實，絕不用於授權判斷。
type UsernameResolver interface {
	ResolveUsernames(userIDs []string) map[string]string
}

// MemoryUsers 行程內的使用者名稱註冊表
type MemoryUsers struct {
	names map[string]string
	mu    sync.RWMutex
}

// NewMemoryUsers 創建名稱註冊表
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{names: make(map[string]string)}
}

// Register 登記顯示名稱
func (u *MemoryUsers) Register(userID, displayName string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names[userID] = displayName
}

// ResolveUsernames 批次解析顯示名稱；未登記者以 ID 代替
func (u *MemoryUsers) ResolveUsernames(userIDs []string) map[string]string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	result := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if name, ok := u.names[id]; ok {
			result[id] = name
		} else {
			result[id] = id
		}
	}
	return result
}
