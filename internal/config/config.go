// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Corphon/SceneForge/internal/utils"
)

// 存储驱动
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// ProviderOffline 不调用模型的占位生成器
const ProviderOffline = "offline"

// Config 存储应用配置
type Config struct {
	// 基础配置
	Port      string `env:"PORT" envDefault:"8080"`
	DataDir   string `env:"DATA_DIR" envDefault:"data"`
	LogDir    string `env:"LOG_DIR" envDefault:"logs"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	DebugMode bool   `env:"DEBUG_MODE" envDefault:"false"`

	// 存储
	StoreDriver string `env:"STORE_DRIVER" envDefault:"file"`
	SQLitePath  string `env:"SQLITE_PATH"`

	// LLM相关配置
	LLMProvider       string        `env:"LLM_PROVIDER" envDefault:"offline"`
	LLMAPIKey         string        `env:"LLM_API_KEY"`
	LLMModel          string        `env:"LLM_MODEL"`
	LLMBaseURL        string        `env:"LLM_BASE_URL"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"2m"`
	OfflineScenes     int           `env:"OFFLINE_SCENES" envDefault:"4"`

	// 生成接口每个会话每分钟的请求上限，0 表示不限制
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
}

// Load 从环境变量加载配置，.env 文件可选
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "sessions.db")
	}
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	switch c.StoreDriver {
	case StoreMemory, StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, file, sqlite; got %q", c.StoreDriver)
	}
	if _, err := utils.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE cannot be negative")
	}
	if c.LLMProvider != ProviderOffline && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required for provider %q", c.LLMProvider)
	}
	return nil
}

// EnsureDirs 确保数据目录和日志目录存在
func (c *Config) EnsureDirs() error {
	dirs := []string{c.DataDir, c.LogDir}
	if c.StoreDriver == StoreSQLite {
		dirs = append(dirs, filepath.Dir(c.SQLitePath))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// LLMProviderConfig 传给 llm.GetProvider 的参数
func (c *Config) LLMProviderConfig() map[string]string {
	out := map[string]string{
		"api_key": c.LLMAPIKey,
		"timeout": c.GenerationTimeout.String(),
	}
	if c.LLMModel != "" {
		out["default_model"] = c.LLMModel
	}
	if c.LLMBaseURL != "" {
		out["base_url"] = c.LLMBaseURL
	}
	return out
}
