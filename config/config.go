// Package config 提供 VideoFlow 的统一配置加载。
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("VIDEOFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/videoflow/quota"
	"github.com/BaSui01/videoflow/synth"
)

// Config 是 VideoFlow 的完整配置结构。
type Config struct {
	// Tiers 后端层级配置，按 Priority 升序尝试
	Tiers []TierConfig `yaml:"tiers" env:"-"`

	// Synth 本地兜底合成配置
	Synth SynthConfig `yaml:"synth" env:"SYNTH"`

	// Redis 配额状态持久化配置（可选）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// TierConfig 单个后端层级的配置。
type TierConfig struct {
	// Name 层级名: veo / runway / dashscope
	Name string `yaml:"name"`
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// Priority 尝试顺序，数值小者优先
	Priority int `yaml:"priority"`
	// BaseURL 服务商接口地址，空则用默认值
	BaseURL string `yaml:"base_url"`
	// Model 模型标识，空则用默认值
	Model string `yaml:"model"`
	// APIKeyEnv 存放凭证的环境变量名
	APIKeyEnv string `yaml:"api_key_env"`
	// Timeout 单次 HTTP 请求超时
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts 层内最大尝试次数
	MaxAttempts int `yaml:"max_attempts"`
	// AttemptInterval 配额失败后的层内重试间隔
	AttemptInterval time.Duration `yaml:"attempt_interval"`
	// PollInterval 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxPollIterations 单次尝试的轮询上限
	MaxPollIterations int `yaml:"max_poll_iterations"`

	// Quota 该层级的配额策略
	Quota quota.Config `yaml:"quota"`
}

// APIKey 从环境变量解析层级凭证。
func (t *TierConfig) APIKey() (string, error) {
	if t.APIKeyEnv == "" {
		return "", fmt.Errorf("tier %s: api_key_env not set", t.Name)
	}
	key := os.Getenv(t.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("tier %s: environment variable %s is empty", t.Name, t.APIKeyEnv)
	}
	return key, nil
}

// SynthConfig 本地合成配置。
type SynthConfig struct {
	// MinBytes 输出文件的最小字节数
	MinBytes int64 `yaml:"min_bytes" env:"MIN_BYTES"`
	// FrameRate 渲染帧率
	FrameRate int `yaml:"frame_rate" env:"FRAME_RATE"`
	// OutputDir 片段落地目录
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
}

// SynthConfig 转换为 synth 包配置。
func (s SynthConfig) ToSynth() synth.Config {
	return synth.Config{MinBytes: s.MinBytes, FrameRate: s.FrameRate}
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	// Enabled 是否启用配额状态持久化
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Addr 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// Password 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// DB 数据库编号
	DB int `yaml:"db" env:"DB"`
	// KeyPrefix 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// Level 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig 返回默认配置：三个远端层级全部启用，
// 凭证从约定的环境变量读取。
func DefaultConfig() *Config {
	return &Config{
		Tiers: []TierConfig{
			{
				Name:              "veo",
				Enabled:           true,
				Priority:          0,
				APIKeyEnv:         "GEMINI_API_KEY",
				Timeout:           60 * time.Second,
				MaxAttempts:       3,
				AttemptInterval:   5 * time.Second,
				PollInterval:      10 * time.Second,
				MaxPollIterations: 60,
				Quota:             quota.DefaultConfig(),
			},
			{
				Name:              "runway",
				Enabled:           true,
				Priority:          1,
				APIKeyEnv:         "RUNWAY_API_KEY",
				Timeout:           60 * time.Second,
				MaxAttempts:       3,
				AttemptInterval:   5 * time.Second,
				PollInterval:      10 * time.Second,
				MaxPollIterations: 60,
				Quota:             quota.DefaultConfig(),
			},
			{
				Name:              "dashscope",
				Enabled:           true,
				Priority:          2,
				APIKeyEnv:         "DASHSCOPE_API_KEY",
				Timeout:           60 * time.Second,
				MaxAttempts:       3,
				AttemptInterval:   5 * time.Second,
				PollInterval:      15 * time.Second,
				MaxPollIterations: 40,
				Quota:             quota.DefaultConfig(),
			},
		},
		Synth: SynthConfig{
			MinBytes:  4096,
			FrameRate: 24,
			OutputDir: "./output",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "videoflow:quota:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// knownTiers 合法的层级名集合。
var knownTiers = map[string]bool{
	"veo":       true,
	"runway":    true,
	"dashscope": true,
}

// Validate 验证配置。
func (c *Config) Validate() error {
	var errs []string

	seen := map[string]bool{}
	enabled := 0
	for i := range c.Tiers {
		t := &c.Tiers[i]
		if !knownTiers[t.Name] {
			errs = append(errs, fmt.Sprintf("unknown tier %q", t.Name))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Sprintf("duplicate tier %q", t.Name))
		}
		seen[t.Name] = true
		if t.Enabled {
			enabled++
		}
		if t.MaxAttempts < 0 {
			errs = append(errs, fmt.Sprintf("tier %s: max_attempts must not be negative", t.Name))
		}
	}
	if enabled == 0 && len(c.Tiers) > 0 {
		errs = append(errs, "no tier enabled")
	}

	if c.Synth.MinBytes < 0 {
		errs = append(errs, "synth.min_bytes must not be negative")
	}
	if c.Synth.OutputDir == "" {
		errs = append(errs, "synth.output_dir must not be empty")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnabledTiers 返回按优先级升序排列的启用层级。
func (c *Config) EnabledTiers() []TierConfig {
	out := make([]TierConfig, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Enabled {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
