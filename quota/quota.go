// 包 quota 提供按服务商独立跟踪的日配额与调用间距管理。
package quota

import "time"

// Config 单个层级的配额策略配置。
type Config struct {
	// DailyLimit 每日最大成功生成次数。
	DailyLimit int `json:"daily_limit" yaml:"daily_limit"`

	// MinInterval 两次调用之间的最小间距（基线值，配额受挫后增长）。
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`

	// BackoffBase 首次配额拒绝后的退避基数。
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`

	// BackoffMultiplier 退避倍增因子（指数退避）。
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`

	// BackoffMax 退避上限。
	BackoffMax time.Duration `json:"backoff_max" yaml:"backoff_max"`

	// SpacingIncrement 每次配额拒绝后最小间距的固定增量。
	SpacingIncrement time.Duration `json:"spacing_increment" yaml:"spacing_increment"`

	// SpacingCap 最小间距增长上限。
	SpacingCap time.Duration `json:"spacing_cap" yaml:"spacing_cap"`

	// MaxConsecutiveFailures 连续配额失败硬上限，达到后当日不再尝试该服务商。
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

// DefaultConfig 返回适用于大部分视频生成服务商的默认配额策略。
func DefaultConfig() Config {
	return Config{
		DailyLimit:             50,
		MinInterval:            15 * time.Second,
		BackoffBase:            30 * time.Second,
		BackoffMultiplier:      2.0,
		BackoffMax:             15 * time.Minute,
		SpacingIncrement:       10 * time.Second,
		SpacingCap:             2 * time.Minute,
		MaxConsecutiveFailures: 5,
	}
}

// normalize 校验参数并就地填补缺省值。
func (c Config) normalize() Config {
	if c.DailyLimit <= 0 {
		c.DailyLimit = 50
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMultiplier < 1.0 {
		c.BackoffMultiplier = 2.0
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 15 * time.Minute
	}
	if c.SpacingIncrement < 0 {
		c.SpacingIncrement = 0
	}
	if c.SpacingCap < c.MinInterval {
		c.SpacingCap = 2 * time.Minute
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	return c
}

// State 单个服务商的可变配额状态。仅由 Tracker 的方法修改，
// 调用方不得直接改写。
type State struct {
	DailyCount          int           `json:"daily_count"`
	DayStart            time.Time     `json:"day_start"`
	LastGenerationAt    time.Time     `json:"last_generation_at"`
	LastQuotaHitAt      time.Time     `json:"last_quota_hit_at"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	MinInterval         time.Duration `json:"min_interval"`
}
