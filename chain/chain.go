package chain

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/backend"
	"github.com/BaSui01/videoflow/internal/clock"
	"github.com/BaSui01/videoflow/internal/metrics"
	"github.com/BaSui01/videoflow/quota"
	"github.com/BaSui01/videoflow/types"
)

// Synthesizer 本地兜底渲染。所有远端层级耗尽后由它产出降级结果，
// 除 ctx 取消外不得失败。
type Synthesizer interface {
	Render(ctx context.Context, req types.GenerationRequest, destDir string) (*types.GenerationResult, error)
}

// TierPolicy 单个层级的尝试预算与轮询节奏。
type TierPolicy struct {
	// MaxAttempts 层内最大尝试次数。
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// AttemptInterval 配额失败后的层内重试间隔。
	AttemptInterval time.Duration `yaml:"attempt_interval" json:"attempt_interval"`
	// PollInterval 轮询间隔。
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// MaxPollIterations 单次尝试的轮询上限，超出按超时处理。
	MaxPollIterations int `yaml:"max_poll_iterations" json:"max_poll_iterations"`
}

// DefaultTierPolicy 返回保守的默认预算。
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		MaxAttempts:       3,
		AttemptInterval:   5 * time.Second,
		PollInterval:      10 * time.Second,
		MaxPollIterations: 60,
	}
}

func (p *TierPolicy) normalize() {
	d := DefaultTierPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.AttemptInterval <= 0 {
		p.AttemptInterval = d.AttemptInterval
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.MaxPollIterations <= 0 {
		p.MaxPollIterations = d.MaxPollIterations
	}
}

// Config 回退链装配参数。
type Config struct {
	// Adapters 按优先级排列的后端适配器。
	Adapters []backend.Adapter
	// Policies 各层级的尝试预算，缺省时使用 DefaultTierPolicy。
	Policies map[types.BackendTier]TierPolicy
	// Quotas 共享配额注册表。未注册的层级不做配额控制。
	Quotas *quota.Registry
	// Synth 兜底合成器，必填。
	Synth Synthesizer
	// OutputDir 结果文件落地目录。
	OutputDir string

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Chain 按优先级依次尝试各后端层级，全部耗尽时交给本地合成器兜底。
// 对调用方的保证：除 ctx 取消外永远返回可用结果，后端不可用
// 只体现为结果的降级层级，不体现为 error。
type Chain struct {
	adapters []backend.Adapter
	policies map[types.BackendTier]TierPolicy
	quotas   *quota.Registry
	synth    Synthesizer
	outDir   string

	clk     clock.Clock
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New 构建回退链。
func New(cfg Config) (*Chain, error) {
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("chain: at least one adapter required")
	}
	if cfg.Synth == nil {
		return nil, fmt.Errorf("chain: synthesizer required")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("chain: output dir required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	policies := make(map[types.BackendTier]TierPolicy, len(cfg.Adapters))
	for _, ad := range cfg.Adapters {
		p, ok := cfg.Policies[ad.Tier()]
		if !ok {
			p = DefaultTierPolicy()
		}
		p.normalize()
		policies[ad.Tier()] = p
	}
	return &Chain{
		adapters: cfg.Adapters,
		policies: policies,
		quotas:   cfg.Quotas,
		synth:    cfg.Synth,
		outDir:   cfg.OutputDir,
		clk:      cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// 尝试结局分类，同时作为指标 outcome 标签。
const (
	outcomeSuccess   = "success"
	outcomeQuota     = "quota"
	outcomeTierFatal = "tier_fatal"
	outcomeTransient = "transient"
	outcomeTimeout   = "timeout"
)

// Generate 为单个请求依次尝试各层级。当天已耗尽的层级直接跳过，
// 不消耗尝试次数。只有 ctx 取消会以 error 返回。
func (c *Chain) Generate(ctx context.Context, req types.GenerationRequest) (*types.GenerationResult, error) {
	// 回退深度只统计实际尝试过的层级，被跳过的耗尽层级不计入
	attempted := 0
	for _, ad := range c.adapters {
		tier := ad.Tier()
		tracker := c.tracker(tier)

		if tracker != nil && tracker.IsExhausted() {
			c.logger.Info("跳过已耗尽层级",
				zap.String("clip_id", req.ClipID),
				zap.String("tier", tier.String()))
			if c.metrics != nil {
				c.metrics.RecordTierSkipped(ad.Name())
			}
			continue
		}

		res, err := c.tryTier(ctx, ad, tracker, req)
		if err != nil {
			return nil, err
		}
		if res != nil {
			if c.metrics != nil {
				c.metrics.RecordClip(ad.Name(), attempted)
			}
			return res, nil
		}
		attempted++
	}

	c.logger.Warn("所有后端层级耗尽，使用本地合成兜底",
		zap.String("clip_id", req.ClipID))
	res, err := c.synth.Render(ctx, req, c.outDir)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordClip("synth", attempted)
		c.metrics.RecordSynthRender()
	}
	return res, nil
}

func (c *Chain) tracker(tier types.BackendTier) *quota.Tracker {
	if c.quotas == nil {
		return nil
	}
	return c.quotas.Tracker(tier)
}

// tryTier 在单个层级内执行尝试循环。返回 (nil, nil) 表示放弃该层级。
func (c *Chain) tryTier(ctx context.Context, ad backend.Adapter, tracker *quota.Tracker, req types.GenerationRequest) (*types.GenerationResult, error) {
	pol := c.policies[ad.Tier()]

	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tracker != nil {
			if tracker.IsExhausted() {
				return nil, nil
			}
			if wait := tracker.CheckAndWait(); wait > 0 {
				c.logger.Debug("配额等待",
					zap.String("tier", ad.Name()),
					zap.Duration("wait", wait))
				if c.metrics != nil {
					c.metrics.RecordQuotaWait(ad.Name(), wait)
				}
				if err := c.clk.Sleep(ctx, wait); err != nil {
					return nil, err
				}
			}
		}

		start := c.clk.Now()
		outcome, res, err := c.attempt(ctx, ad, pol, req)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RecordAttempt(ad.Name(), outcome, c.clk.Now().Sub(start))
		}

		switch outcome {
		case outcomeSuccess:
			if tracker != nil {
				tracker.RecordGeneration()
			}
			c.logger.Info("片段生成成功",
				zap.String("clip_id", req.ClipID),
				zap.String("tier", ad.Name()),
				zap.Int("attempt", attempt))
			return res, nil

		case outcomeTierFatal:
			c.logger.Warn("层级级致命错误，放弃该层级",
				zap.String("clip_id", req.ClipID),
				zap.String("tier", ad.Name()))
			return nil, nil

		case outcomeQuota:
			if tracker != nil {
				tracker.RecordQuotaHit()
			}
			if c.metrics != nil {
				c.metrics.RecordQuotaHit(ad.Name())
			}
			c.logger.Warn("配额受限",
				zap.String("tier", ad.Name()),
				zap.Int("attempt", attempt))
			if attempt < pol.MaxAttempts {
				if err := c.clk.Sleep(ctx, pol.AttemptInterval); err != nil {
					return nil, err
				}
			}

		case outcomeTransient, outcomeTimeout:
			c.logger.Warn("尝试失败，层内重试",
				zap.String("tier", ad.Name()),
				zap.String("outcome", outcome),
				zap.Int("attempt", attempt))
		}
	}
	return nil, nil
}

// attempt 单次尝试：提交、有界轮询、落地。错误在此处归一化为 outcome，
// 仅 ctx 取消会作为 error 上抛。
func (c *Chain) attempt(ctx context.Context, ad backend.Adapter, pol TierPolicy, req types.GenerationRequest) (string, *types.GenerationResult, error) {
	areq := clampToCapabilities(req, ad.Capabilities())

	h, err := ad.Submit(ctx, areq)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return outcomeForError(err), nil, nil
	}

	for i := 0; i < pol.MaxPollIterations; i++ {
		if err := c.clk.Sleep(ctx, pol.PollInterval); err != nil {
			return "", nil, err
		}
		st, perr := ad.Poll(ctx, h)
		if perr != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			return outcomeForError(perr), nil, nil
		}
		switch st.State {
		case backend.StateDone:
			return c.materialize(ctx, ad, areq, st.ResultLocator)
		case backend.StateFailed:
			return outcomeForError(st.Err), nil, nil
		}
	}
	// 轮询预算耗尽。任务可能仍在远端执行，但本次尝试按超时计。
	return outcomeTimeout, nil, nil
}

func (c *Chain) materialize(ctx context.Context, ad backend.Adapter, req types.GenerationRequest, locator string) (string, *types.GenerationResult, error) {
	path, err := ad.Materialize(ctx, locator, c.outDir)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return outcomeForError(err), nil, nil
	}
	var size int64
	if fi, serr := os.Stat(path); serr == nil {
		size = fi.Size()
	}
	return outcomeSuccess, &types.GenerationResult{
		ClipID:    req.ClipID,
		FilePath:  path,
		ByteSize:  size,
		Duration:  req.Duration,
		Tier:      ad.Tier(),
		Model:     ad.Name(),
		CreatedAt: c.clk.Now(),
	}, nil
}

// clampToCapabilities 按层级能力收敛请求：时长夹取到支持区间，
// 不支持续接的层级丢弃种子图，不支持音频的层级关闭音频。
func clampToCapabilities(req types.GenerationRequest, caps backend.Capabilities) types.GenerationRequest {
	if caps.MaxDuration > 0 && req.Duration > caps.MaxDuration {
		req.Duration = caps.MaxDuration
	}
	if caps.MinDuration > 0 && req.Duration < caps.MinDuration {
		req.Duration = caps.MinDuration
	}
	if !caps.SupportsContinuity {
		req.SeedImagePath = ""
	}
	if !caps.SupportsAudio {
		req.WithAudio = false
	}
	return req
}

func outcomeForError(err error) string {
	switch types.GetErrorCode(err) {
	case types.ErrQuotaExceeded:
		return outcomeQuota
	case types.ErrPermissionDenied, types.ErrInvalidArgument:
		return outcomeTierFatal
	case types.ErrTimeout:
		return outcomeTimeout
	default:
		return outcomeTransient
	}
}
