// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Raster   RasterConfig   `yaml:"raster"`
	Logger   LoggerConfig   `yaml:"logger"`
}

// LLMConfig 选择模型提供方。provider 为 openai 或 mock。
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RatePerMinute limits make-real invocations; 0 disables the limit.
	RatePerMinute  int      `yaml:"rate_per_minute"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type SnapshotConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type RasterConfig struct {
	// ChromeURL is a remote CDP endpoint; empty launches a local Chrome.
	ChromeURL string        `yaml:"chrome_url"`
	MaxSize   int           `yaml:"max_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggerConfig controls the slog handler.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout" or a file path
}

// Defaults returns a config usable without any file.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			RatePerMinute: 10,
		},
		Storage:  StorageConfig{DataDir: "data"},
		Snapshot: SnapshotConfig{Timeout: 2000 * time.Millisecond},
		Raster: RasterConfig{
			MaxSize: 1000,
			Timeout: 30 * time.Second,
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Load reads path on top of Defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// 与浏览器版一致：未配置 key 时读取 OPENAI_API_KEY
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("MAKEREAL_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("MAKEREAL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MAKEREAL_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MAKEREAL_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MAKEREAL_CHROME_URL"); v != "" {
		cfg.Raster.ChromeURL = v
	}
	if v := os.Getenv("MAKEREAL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MAKEREAL_SNAPSHOT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Snapshot.Timeout = d
		}
	}
	if v := os.Getenv("MAKEREAL_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.RatePerMinute = n
		}
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "mock":
	case "":
		return errors.New("config: llm.provider is required")
	default:
		return fmt.Errorf("config: llm provider %s not supported", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("config: llm.max_tokens must be >= 0, got %d", c.LLM.MaxTokens)
	}
	if c.Snapshot.Timeout <= 0 {
		return fmt.Errorf("config: snapshot.timeout must be positive, got %v", c.Snapshot.Timeout)
	}
	if c.Server.RatePerMinute < 0 {
		return fmt.Errorf("config: server.rate_per_minute must be >= 0, got %d", c.Server.RatePerMinute)
	}
	if c.Raster.MaxSize < 0 {
		return fmt.Errorf("config: raster.max_size must be >= 0, got %d", c.Raster.MaxSize)
	}
	return nil
}
