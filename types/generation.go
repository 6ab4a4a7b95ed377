package types

import "time"

// BackendTier 标识回退链中的一个后端层级，按优先级排序。
type BackendTier int

const (
	// TierVeo Google Veo 3.1 视频生成（主力 A）。
	TierVeo BackendTier = iota
	// TierRunway Runway Gen-4 视频生成（主力 B）。
	TierRunway
	// TierDashScope 阿里 DashScope 异步视频生成（次级）。
	TierDashScope
	// TierSynth 本地确定性占位合成（最终兜底，永不失败）。
	TierSynth
)

func (t BackendTier) String() string {
	switch t {
	case TierVeo:
		return "veo"
	case TierRunway:
		return "runway"
	case TierDashScope:
		return "dashscope"
	case TierSynth:
		return "synth"
	default:
		return "unknown"
	}
}

// GenerationRequest represents a single clip generation request.
// The prompt is opaque to this layer; authoring happens upstream.
// Requests are treated as immutable once built — the chain copies
// before clamping per-tier limits.
type GenerationRequest struct {
	ClipID         string            `json:"clip_id"`
	Prompt         string            `json:"prompt"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	Duration       float64           `json:"duration"`               // seconds
	AspectRatio    string            `json:"aspect_ratio,omitempty"` // 16:9, 9:16, 1:1
	SeedImagePath  string            `json:"seed_image_path,omitempty"`
	WithAudio      bool              `json:"with_audio,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// GenerationResult represents one successfully generated clip.
// The file at FilePath always exists and is non-empty.
type GenerationResult struct {
	ClipID        string      `json:"clip_id"`
	FilePath      string      `json:"file_path"`
	ByteSize      int64       `json:"byte_size"`
	Duration      float64     `json:"duration"`
	Tier          BackendTier `json:"tier"`
	Model         string      `json:"model,omitempty"`
	SeedFramePath string      `json:"seed_frame_path,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Degraded reports whether the clip came from the placeholder
// synthesizer rather than a real backend.
func (r *GenerationResult) Degraded() bool {
	return r.Tier == TierSynth
}
