package backend

import "time"

// VeoConfig 配置 Google Veo 视频生成层级。
type VeoConfig struct {
	BaseURL string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // veo-3.1-generate-preview
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// RunwayConfig 配置 Runway ML 视频生成层级。
type RunwayConfig struct {
	BaseURL string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // gen4_turbo
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DashScopeConfig 配置阿里 DashScope 视频生成层级。
type DashScopeConfig struct {
	BaseURL string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // wanx2.1-i2v-turbo
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultVeoConfig 返回默认 Veo 配置。
func DefaultVeoConfig() VeoConfig {
	return VeoConfig{
		BaseURL: "https://generativelanguage.googleapis.com",
		Model:   "veo-3.1-generate-preview",
		Timeout: 60 * time.Second,
	}
}

// DefaultRunwayConfig 返回默认 Runway 配置。
func DefaultRunwayConfig() RunwayConfig {
	return RunwayConfig{
		BaseURL: "https://api.runwayml.com",
		Model:   "gen4_turbo",
		Timeout: 60 * time.Second,
	}
}

// DefaultDashScopeConfig 返回默认 DashScope 配置。
func DefaultDashScopeConfig() DashScopeConfig {
	return DashScopeConfig{
		BaseURL: "https://dashscope.aliyuncs.com",
		Model:   "wanx2.1-i2v-turbo",
		Timeout: 60 * time.Second,
	}
}
