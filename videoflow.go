// Package videoflow provides a top-level convenience entry point for
// assembling the clip generation stack with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/videoflow"
//
//	cfg := config.MustLoad("config.yaml")
//	stack, err := videoflow.NewStack(cfg, videoflow.WithLogger(logger))
//	results, err := stack.GenerateSequence(ctx, orchestrator.SequenceRequest{...})
//
// The stack wires backend adapters, quota trackers, the fallback chain,
// the local synthesizer and the clip orchestrator from one config.
package videoflow

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/backend"
	"github.com/BaSui01/videoflow/chain"
	"github.com/BaSui01/videoflow/config"
	"github.com/BaSui01/videoflow/frames"
	"github.com/BaSui01/videoflow/internal/clock"
	"github.com/BaSui01/videoflow/internal/metrics"
	"github.com/BaSui01/videoflow/orchestrator"
	"github.com/BaSui01/videoflow/quota"
	"github.com/BaSui01/videoflow/synth"
	"github.com/BaSui01/videoflow/types"
)

// Option configures the stack created by [NewStack].
type Option func(*options)

type options struct {
	logger     *zap.Logger
	clk        clock.Clock
	registerer prometheus.Registerer
	descriptor synth.DescriptorProvider
	adapters   []backend.Adapter
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock injects a clock, used by tests to make waits instant.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// WithRegisterer sets the Prometheus registerer for stack metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDescriptor overrides the placeholder descriptor provider.
func WithDescriptor(d synth.DescriptorProvider) Option {
	return func(o *options) { o.descriptor = d }
}

// WithAdapters replaces config-driven adapter construction entirely.
func WithAdapters(adapters ...backend.Adapter) Option {
	return func(o *options) { o.adapters = adapters }
}

// Stack 按配置装配完成的片段生成栈。
type Stack struct {
	orch   *orchestrator.Orchestrator
	chain  *chain.Chain
	quotas *quota.Registry
	store  *quota.RedisStore
	logger *zap.Logger
}

// NewStack 从配置构建完整的生成栈。凭证缺失的层级会被跳过并告警，
// 只要还有本地合成兜底，栈就是可用的。
func NewStack(cfg *config.Config, opts ...Option) (*Stack, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clk == nil {
		o.clk = clock.Real()
	}

	collector := metrics.NewCollector("videoflow", o.registerer)

	var store *quota.RedisStore
	if cfg.Redis.Enabled {
		s, err := quota.NewRedisStore(quota.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			o.logger.Warn("Redis 不可用，配额状态不持久化", zap.Error(err))
		} else {
			store = s
		}
	}

	adapters := o.adapters
	quotaConfigs := make(map[types.BackendTier]quota.Config)
	policies := make(map[types.BackendTier]chain.TierPolicy)
	for _, tc := range cfg.EnabledTiers() {
		tier, err := tierByName(tc.Name)
		if err != nil {
			return nil, err
		}
		if o.adapters == nil {
			ad, err := buildAdapter(tc)
			if err != nil {
				o.logger.Warn("层级凭证缺失，跳过该层级",
					zap.String("tier", tc.Name), zap.Error(err))
				continue
			}
			adapters = append(adapters, ad)
		}
		quotaConfigs[tier] = tc.Quota
		policies[tier] = chain.TierPolicy{
			MaxAttempts:       tc.MaxAttempts,
			AttemptInterval:   tc.AttemptInterval,
			PollInterval:      tc.PollInterval,
			MaxPollIterations: tc.MaxPollIterations,
		}
	}

	var quotaStore quota.Store
	if store != nil {
		quotaStore = store
	}
	registry := quota.NewRegistry(quotaConfigs, quotaStore, o.clk, o.logger)

	synthesizer := synth.New(cfg.Synth.ToSynth(), o.descriptor, o.clk, o.logger)

	ch, err := chain.New(chain.Config{
		Adapters:  adapters,
		Policies:  policies,
		Quotas:    registry,
		Synth:     synthesizer,
		OutputDir: cfg.Synth.OutputDir,
		Clock:     o.clk,
		Logger:    o.logger,
		Metrics:   collector,
	})
	if err != nil {
		// 所有远端层级都不可用时退化为纯合成栈
		if len(adapters) == 0 {
			o.logger.Warn("无可用后端层级，所有片段将由本地合成产出")
			return newSynthOnlyStack(cfg, o, synthesizer, registry, store)
		}
		return nil, err
	}

	orch, err := orchestrator.New(ch, frames.NewContinuityManager(o.logger), o.logger)
	if err != nil {
		return nil, err
	}

	return &Stack{
		orch:   orch,
		chain:  ch,
		quotas: registry,
		store:  store,
		logger: o.logger,
	}, nil
}

// GenerateSequence 执行一次完整的序列生成。
func (s *Stack) GenerateSequence(ctx context.Context, req orchestrator.SequenceRequest) ([]*types.GenerationResult, error) {
	return s.orch.GenerateSequence(ctx, req)
}

// Quotas 返回共享的配额注册表。多个栈实例应复用同一注册表时，
// 通过 Orchestrator/Chain 层直接装配。
func (s *Stack) Quotas() *quota.Registry {
	return s.quotas
}

// Close 释放栈持有的外部连接。
func (s *Stack) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// newSynthOnlyStack 构建没有远端层级的纯合成栈。
func newSynthOnlyStack(cfg *config.Config, o *options, s *synth.Synthesizer, registry *quota.Registry, store *quota.RedisStore) (*Stack, error) {
	gen := &synthGenerator{s: s, destDir: cfg.Synth.OutputDir}
	orch, err := orchestrator.New(gen, frames.NewContinuityManager(o.logger), o.logger)
	if err != nil {
		return nil, err
	}
	return &Stack{orch: orch, quotas: registry, store: store, logger: o.logger}, nil
}

// synthGenerator 直接以合成器充当生成入口。
type synthGenerator struct {
	s       *synth.Synthesizer
	destDir string
}

func (g *synthGenerator) Generate(ctx context.Context, req types.GenerationRequest) (*types.GenerationResult, error) {
	return g.s.Render(ctx, req, g.destDir)
}

func tierByName(name string) (types.BackendTier, error) {
	switch name {
	case "veo":
		return types.TierVeo, nil
	case "runway":
		return types.TierRunway, nil
	case "dashscope":
		return types.TierDashScope, nil
	default:
		return 0, fmt.Errorf("videoflow: unknown tier %q", name)
	}
}

func buildAdapter(tc config.TierConfig) (backend.Adapter, error) {
	key, err := tc.APIKey()
	if err != nil {
		return nil, err
	}
	token := backend.StaticToken(key)

	switch tc.Name {
	case "veo":
		c := backend.DefaultVeoConfig()
		applyOverrides(&c.BaseURL, &c.Model, &c.Timeout, tc)
		return backend.NewVeoAdapter(c, token), nil
	case "runway":
		c := backend.DefaultRunwayConfig()
		applyOverrides(&c.BaseURL, &c.Model, &c.Timeout, tc)
		return backend.NewRunwayAdapter(c, token), nil
	case "dashscope":
		c := backend.DefaultDashScopeConfig()
		applyOverrides(&c.BaseURL, &c.Model, &c.Timeout, tc)
		return backend.NewDashScopeAdapter(c, token), nil
	default:
		return nil, fmt.Errorf("videoflow: unknown tier %q", tc.Name)
	}
}

func applyOverrides(baseURL, model *string, timeout *time.Duration, tc config.TierConfig) {
	if tc.BaseURL != "" {
		*baseURL = tc.BaseURL
	}
	if tc.Model != "" {
		*model = tc.Model
	}
	if tc.Timeout > 0 {
		*timeout = tc.Timeout
	}
}
