package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Judge struct {
		Image             string        `yaml:"image"`
		MemoryMB          int64         `yaml:"memory_mb"`
		CPUs              float64       `yaml:"cpus"`
		PidsLimit         int64         `yaml:"pids_limit"`
		CaseTimeout       time.Duration `yaml:"case_timeout"`
		SubmissionTimeout time.Duration `yaml:"submission_timeout"`
		MaxConcurrent     int           `yaml:"max_concurrent"`
		PullImage         bool          `yaml:"pull_image"` // 啟動時預拉映像
	} `yaml:"judge"`

	Redis struct {
		Addr     string `yaml:"addr"` // 空字串 = 不用 Redis，歷史只落日誌
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Game struct {
		HardMode bool `yaml:"hard_mode"` // 傷害 ×1.1 向上取整
	} `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second

	cfg.Judge.Image = "python:3.11-alpine"
	cfg.Judge.MemoryMB = 128
	cfg.Judge.CPUs = 0.5
	cfg.Judge.PidsLimit = 64
	cfg.Judge.CaseTimeout = 5 * time.Second
	cfg.Judge.SubmissionTimeout = 30 * time.Second
	cfg.Judge.MaxConcurrent = 4

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 從 YAML 檔案載入配置，缺省欄位落回預設值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	// #nosec G304 - path 來自啟動旗標，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 支援環境變數覆蓋（生產環境常用）
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	if cfg.Judge.SubmissionTimeout < cfg.Judge.CaseTimeout {
		return nil, fmt.Errorf("judge.submission_timeout (%s) must not be shorter than judge.case_timeout (%s)",
			cfg.Judge.SubmissionTimeout, cfg.Judge.CaseTimeout)
	}
	return cfg, nil
}

// ExecPolicy 由配置導出沙箱執行策略
func (c *Config) ExecPolicy() ExecPolicy {
	return ExecPolicy{
		Image:       c.Judge.Image,
		MemoryBytes: c.Judge.MemoryMB * 1024 * 1024,
		NanoCPUs:    int64(c.Judge.CPUs * 1e9),
		PidsLimit:   c.Judge.PidsLimit,
		CaseTimeout: c.Judge.CaseTimeout,
	}
}
