package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// Handler HTTP 請求處理器
type Handler struct {
	matchmaker  *Matchmaker
	coordinator *Coordinator
	store       *Store
	hub         *Hub
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(matchmaker *Matchmaker, coordinator *Coordinator, store *Store, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		matchmaker:  matchmaker,
		coordinator: coordinator,
		store:       store,
		hub:         hub,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 對戰 API
	mux.HandleFunc("POST /api/create-room", wrap(h.createRoom))
	mux.HandleFunc("POST /api/find-random-game", wrap(h.findRandomGame))
	mux.HandleFunc("POST /api/submit", wrap(h.submitAnswer))
	mux.HandleFunc("GET /api/player-count", wrap(h.playerCount))

	// WebSocket 入口（升級後由 Hub 接管）
	mux.HandleFunc("GET /ws", h.hub.ServeWS)

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type createRoomRequest struct {
	UserID string `json:"user_id"`
}

type findRandomGameRequest struct {
	UserID string `json:"user_id"`
}

type submitRequest struct {
	UserID     string `json:"user_id"`
	RoomCode   string `json:"room_code"`
	QuestionID string `json:"question_id"`
	Code       string `json:"code"`
}

// createRoom 創建私人房間，回傳六位邀請碼
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "無效的請求格式"))
		return
	}
	if req.UserID == "" {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "user_id 為必填"))
		return
	}

	roomCode, err := h.matchmaker.CreateRoom(req.UserID)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"room_code": roomCode,
	}, http.StatusCreated)
}

// findRandomGame 隨機配對：優先併入等待中的隨機房，否則自開新房等待
func (h *Handler) findRandomGame(w http.ResponseWriter, r *http.Request) {
	var req findRandomGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "無效的請求格式"))
		return
	}
	if req.UserID == "" {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "user_id 為必填"))
		return
	}

	roomCode, created, err := h.matchmaker.FindRandomGame(req.UserID)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"room_code": roomCode,
		"created":   created,
	}, http.StatusOK)
}

// submitAnswer 判題提交
//
// 同步等待判定：請求在沙箱執行期間保持開啟，
// 超時由判題管線的提交級時限兜底，不會懸掛。
func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "無效的請求格式"))
		return
	}
	if req.UserID == "" || req.RoomCode == "" || req.QuestionID == "" {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "user_id、room_code、question_id 為必填"))
		return
	}

	verdict, err := h.coordinator.SubmitSolution(r.Context(), req.UserID, req.RoomCode, req.QuestionID, req.Code)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, verdict, http.StatusOK)
}

// playerCount 當前在線玩家數
func (h *Handler) playerCount(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"count": h.coordinator.PlayerCount(),
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.store.Stats()
	stats["online_players"] = h.coordinator.PlayerCount()
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 按錯誤碼映射 HTTP 狀態
func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	h.jsonResponse(w, map[string]any{
		"error": err.Error(),
		"code":  apperrors.Code(err),
	}, httpStatus(err))
}

// httpStatus 錯誤碼到 HTTP 狀態的映射
func httpStatus(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeAlreadyInRoom, apperrors.ErrCodeRoomFull,
		apperrors.ErrCodeInvalidOperation, apperrors.ErrCodeNoActiveQuestion,
		apperrors.ErrCodeAlreadyHasActiveQuestion:
		return http.StatusConflict
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeSandboxTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, apperrors.New(apperrors.ErrCodeInternal, "內部伺服器錯誤"))
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
