package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/code-battle/internal"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "YAML 配置檔路徑（空 = 預設配置）")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 載入配置
	cfg := internal.DefaultConfig()
	if *configPath != "" {
		loaded, err := internal.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// 對戰歷史：有 Redis 就落 Redis，否則只落日誌
	var history internal.GameHistory
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("連接 Redis 失敗", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		history = internal.NewRedisHistory(redisClient, logger)
	} else {
		history = internal.NewLogHistory(logger)
	}

	// 判題管線：Docker 沙箱 + 有界並發
	sandbox, err := internal.NewDockerSandbox(cfg.ExecPolicy(), logger)
	if err != nil {
		logger.Error("創建 Docker 沙箱失敗", "error", err)
		os.Exit(1)
	}
	defer sandbox.Close()

	if cfg.Judge.PullImage {
		pullCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := sandbox.EnsureImage(pullCtx); err != nil {
			logger.Error("預拉判題映像失敗", "image", cfg.Judge.Image, "error", err)
			cancel()
			os.Exit(1)
		}
		cancel()
	}
	judge := internal.NewJudge(sandbox, cfg.Judge.MaxConcurrent, cfg.Judge.SubmissionTimeout, logger)

	// 組裝核心
	store := internal.NewStore(logger)
	matchmaker := internal.NewMatchmaker(store, logger)
	coordinator := internal.NewCoordinator(internal.CoordinatorDeps{
		Store:    store,
		Registry: internal.NewRegistry(),
		Bank:     internal.NewMemoryBank(nil), // nil = 內建題庫
		Users:    internal.NewMemoryUsers(),
		History:  history,
		Judge:    judge,
		HardMode: cfg.Game.HardMode,
		Logger:   logger,
	})
	hub := internal.NewHub(coordinator, logger)
	handler := internal.NewHandler(matchmaker, coordinator, store, hub, logger)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("程式對戰服務器啟動",
			"port", cfg.Server.Port,
			"hard_mode", cfg.Game.HardMode,
			"judge_image", cfg.Judge.Image)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket 連線
	hub.Stop()

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
