package internal

import "sync"

// Registry 連線與使用者的雙向對應
//
// 一條連線綁定一名已驗證的使用者；反向索引讓出站事件
// 能定向到特定參與者，Count 即當前線上人數。
type Registry struct {
	connUser map[string]string // connID -> userID
	userConn map[string]string // userID -> connID
	mu       sync.RWMutex
}

// NewRegistry 創建連線註冊表
func NewRegistry() *Registry {
	return &Registry{
		connUser: make(map[string]string),
		userConn: make(map[string]string),
	}
}

// Bind 綁定連線與使用者
//
// 同一使用者重複綁定時，舊連線的對應被取代（多分頁、重連）。
func (reg *Registry) Bind(connID, userID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if oldConn, exists := reg.userConn[userID]; exists {
		delete(reg.connUser, oldConn)
	}
	reg.connUser[connID] = userID
	reg.userConn[userID] = connID
}

// UnbindConn 解除連線的綁定，回傳先前綁定的使用者
func (reg *Registry) UnbindConn(connID string) (string, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	userID, exists := reg.connUser[connID]
	if !exists {
		return "", false
	}
	delete(reg.connUser, connID)
	if reg.userConn[userID] == connID {
		delete(reg.userConn, userID)
	}
	return userID, true
}

// UserFor 查詢連線綁定的使用者
func (reg *Registry) UserFor(connID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	userID, exists := reg.connUser[connID]
	return userID, exists
}

// ConnFor 查詢使用者當前的連線
func (reg *Registry) ConnFor(userID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	connID, exists := reg.userConn[userID]
	return connID, exists
}

// Count 當前線上人數
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.connUser)
}
