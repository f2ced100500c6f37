// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeRoomNotFound 房間不存在
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeAlreadyInRoom 使用者已在其他房間
	ErrCodeAlreadyInRoom = "ALREADY_IN_ROOM"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeInvalidOperation 當前角色或狀態不允許此操作
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	// ErrCodeNoActiveQuestion 沒有進行中的題目
	ErrCodeNoActiveQuestion = "NO_ACTIVE_QUESTION"
	// ErrCodeAlreadyHasActiveQuestion 已有進行中的題目
	ErrCodeAlreadyHasActiveQuestion = "ALREADY_HAS_ACTIVE_QUESTION"
	// ErrCodeSandboxTimeout 沙箱執行超時
	ErrCodeSandboxTimeout = "SANDBOX_TIMEOUT"
	// ErrCodeSandboxExecution 沙箱異常退出（非答案錯誤）
	ErrCodeSandboxExecution = "SANDBOX_EXECUTION_ERROR"
	// ErrCodePersistence 歷史記錄寫入失敗（記錄日誌，不影響遊戲狀態）
	ErrCodePersistence = "PERSISTENCE_FAILURE"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊
func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Err:     e.Err,
	}
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeRoomNotFound, "room not found")

	// ErrAlreadyInRoom 使用者已在其他房間中
	ErrAlreadyInRoom = New(ErrCodeAlreadyInRoom, "user already in a room")

	// ErrRoomFull 房間玩家席位已滿
	ErrRoomFull = New(ErrCodeRoomFull, "room already has two players")

	// ErrInvalidOperation 角色或狀態不允許此操作
	ErrInvalidOperation = New(ErrCodeInvalidOperation, "operation not allowed in current state")

	// ErrNoActiveQuestion 沒有進行中的題目
	ErrNoActiveQuestion = New(ErrCodeNoActiveQuestion, "no active question")

	// ErrAlreadyHasActiveQuestion 已持有進行中的題目
	ErrAlreadyHasActiveQuestion = New(ErrCodeAlreadyHasActiveQuestion, "question already in progress")

	// ErrSandboxTimeout 沙箱執行超時
	ErrSandboxTimeout = New(ErrCodeSandboxTimeout, "sandbox execution timed out")

	// ErrSandboxExecution 沙箱異常退出
	ErrSandboxExecution = New(ErrCodeSandboxExecution, "sandbox execution failed")

	// ErrPersistence 歷史記錄寫入失敗
	ErrPersistence = New(ErrCodePersistence, "failed to persist game history")
)

// IsRoomNotFound 檢查是否為房間不存在錯誤
func IsRoomNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeRoomNotFound
	}
	return false
}

// IsAlreadyInRoom 檢查是否為已在房間錯誤
func IsAlreadyInRoom(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeAlreadyInRoom
	}
	return false
}

// IsInvalidOperation 檢查是否為非法操作錯誤
func IsInvalidOperation(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInvalidOperation
	}
	return false
}

// IsSandboxTimeout 檢查是否為沙箱超時錯誤
func IsSandboxTimeout(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeSandboxTimeout
	}
	return false
}

// Code 取得錯誤碼；非 AppError 一律視為內部錯誤
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}
