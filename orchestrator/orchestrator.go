package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/types"
)

// Generator 单个片段的生成入口，由回退链实现。
type Generator interface {
	Generate(ctx context.Context, req types.GenerationRequest) (*types.GenerationResult, error)
}

// FrameExtractor 尾帧提取，由 frames.ContinuityManager 实现。
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, clipPath string) (string, error)
}

// SequenceRequest 一次完整的片段序列生成请求。
type SequenceRequest struct {
	// Prompt 序列的提示词，各片段共用。
	Prompt string `json:"prompt"`
	// NegativePrompt 反向提示词，可空。
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// TotalDuration 目标总时长（秒）。
	TotalDuration float64 `json:"total_duration"`
	// ClipLength 单段目标时长（秒）。
	ClipLength float64 `json:"clip_length"`
	// AspectRatio 画幅比，如 16:9。
	AspectRatio string `json:"aspect_ratio,omitempty"`
	// Continuity 是否要求相邻片段画面续接。
	Continuity bool `json:"continuity,omitempty"`
	// WithAudio 是否请求生成音频（仅支持音频的层级生效）。
	WithAudio bool `json:"with_audio,omitempty"`
	// SeedImagePath 首段的种子图像，可空。
	SeedImagePath string `json:"seed_image_path,omitempty"`
	// Metadata 透传到每个片段请求的附加信息。
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Orchestrator 把序列请求切分为片段计划并逐段执行。段内顺序执行是
// 硬约束：续接种子来自上一段的产出。多个序列可并发运行，各层级的
// 配额状态由共享的追踪器串行化。
type Orchestrator struct {
	gen    Generator
	frames FrameExtractor
	logger *zap.Logger
}

// New 构建编排器。frames 为 nil 时禁用续接。
func New(gen Generator, frames FrameExtractor, logger *zap.Logger) (*Orchestrator, error) {
	if gen == nil {
		return nil, fmt.Errorf("orchestrator: generator required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{gen: gen, frames: frames, logger: logger}, nil
}

// GenerateSequence 执行一次序列生成，返回按顺序排列的片段结果。
// 后端不可用不会导致失败（链上有本地兜底），只有非法输入与
// ctx 取消会返回 error。
func (o *Orchestrator) GenerateSequence(ctx context.Context, req SequenceRequest) ([]*types.GenerationResult, error) {
	specs, err := PlanClips(req.TotalDuration, req.ClipLength)
	if err != nil {
		return nil, err
	}

	planID := uuid.NewString()
	logger := o.logger.With(zap.String("plan_id", planID))
	logger.Info("开始序列生成",
		zap.Float64("total_duration", req.TotalDuration),
		zap.Int("clips", len(specs)),
		zap.Bool("continuity", req.Continuity))

	results := make([]*types.GenerationResult, 0, len(specs))
	seedPath := req.SeedImagePath

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		creq := types.GenerationRequest{
			ClipID:         fmt.Sprintf("%s-%03d", planID, spec.Index),
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Duration:       spec.Duration,
			AspectRatio:    req.AspectRatio,
			WithAudio:      req.WithAudio,
			Metadata:       req.Metadata,
		}
		if req.Continuity {
			creq.SeedImagePath = seedPath
		}

		res, err := o.gen.Generate(ctx, creq)
		if err != nil {
			return results, err
		}

		// 尾帧提取失败只意味着下一段无续接，不影响本段结果
		seedPath = ""
		if req.Continuity && o.frames != nil {
			frame, ferr := o.frames.ExtractLastFrame(ctx, res.FilePath)
			if ferr != nil {
				if ctx.Err() != nil {
					return append(results, res), ctx.Err()
				}
				logger.Warn("尾帧提取失败，下一段不续接",
					zap.Int("clip_index", spec.Index),
					zap.Error(ferr))
			} else {
				seedPath = frame
				res.SeedFramePath = frame
			}
		}

		results = append(results, res)
		logger.Info("片段完成",
			zap.Int("clip_index", spec.Index),
			zap.String("tier", res.Tier.String()),
			zap.Bool("degraded", res.Degraded()))
	}

	logger.Info("序列生成完成", zap.Int("clips", len(results)))
	return results, nil
}
