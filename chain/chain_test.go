package chain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/backend"
	"github.com/BaSui01/videoflow/internal/clock"
	"github.com/BaSui01/videoflow/internal/metrics"
	"github.com/BaSui01/videoflow/quota"
	"github.com/BaSui01/videoflow/types"
)

// fakeAdapter 脚本化的后端适配器：每次尝试按预置剧本推进。
type fakeAdapter struct {
	name string
	tier types.BackendTier
	caps backend.Capabilities

	// submitErrs 第 n 次 Submit 返回的错误，nil 表示提交成功。
	submitErrs []error
	// pollScripts 第 n 次成功提交后的轮询序列。
	pollScripts [][]backend.PollStatus
	// pollErr 非空时每次 Poll 都返回该错误。
	pollErr error

	submits int
	polls   int
	lastReq types.GenerationRequest
}

func (f *fakeAdapter) Name() string                       { return f.name }
func (f *fakeAdapter) Tier() types.BackendTier            { return f.tier }
func (f *fakeAdapter) Capabilities() backend.Capabilities { return f.caps }

func (f *fakeAdapter) Submit(_ context.Context, req types.GenerationRequest) (backend.Handle, error) {
	idx := f.submits
	f.submits++
	f.lastReq = req
	if idx < len(f.submitErrs) && f.submitErrs[idx] != nil {
		return backend.Handle{}, f.submitErrs[idx]
	}
	f.polls = 0
	return backend.Handle{Tier: f.tier, ID: "task-1"}, nil
}

func (f *fakeAdapter) Poll(context.Context, backend.Handle) (backend.PollStatus, error) {
	if f.pollErr != nil {
		f.polls++
		return backend.PollStatus{}, f.pollErr
	}
	// 每轮提交对应一份轮询剧本，剧本不足时复用最后一份
	idx := f.submits - 1
	if idx >= len(f.pollScripts) {
		idx = len(f.pollScripts) - 1
	}
	script := f.pollScripts[idx]
	st := script[len(script)-1]
	if f.polls < len(script) {
		st = script[f.polls]
	}
	f.polls++
	return st, nil
}

func (f *fakeAdapter) Materialize(_ context.Context, locator, destDir string) (string, error) {
	path := filepath.Join(destDir, f.name+".mp4")
	if err := os.WriteFile(path, []byte(locator), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// fakeSynth 记录调用并返回固定的降级结果。
type fakeSynth struct {
	calls int
}

func (s *fakeSynth) Render(_ context.Context, req types.GenerationRequest, destDir string) (*types.GenerationResult, error) {
	s.calls++
	path := filepath.Join(destDir, req.ClipID+"_synth.mp4")
	if err := os.WriteFile(path, []byte("synth"), 0o644); err != nil {
		return nil, err
	}
	return &types.GenerationResult{
		ClipID:   req.ClipID,
		FilePath: path,
		Duration: req.Duration,
		Tier:     types.TierSynth,
	}, nil
}

func doneStatus() backend.PollStatus {
	return backend.PollStatus{State: backend.StateDone, ResultLocator: "https://example.com/v.mp4"}
}

func failedStatus(code types.ErrorCode) backend.PollStatus {
	return backend.PollStatus{State: backend.StateFailed, Err: types.NewError(code, "scripted failure")}
}

func testPolicy() TierPolicy {
	return TierPolicy{
		MaxAttempts:       2,
		AttemptInterval:   5 * time.Second,
		PollInterval:      time.Second,
		MaxPollIterations: 3,
	}
}

func newTestChain(t *testing.T, clk clock.Clock, adapters ...backend.Adapter) (*Chain, *fakeSynth, *quota.Registry) {
	t.Helper()
	cfgs := make(map[types.BackendTier]quota.Config)
	policies := make(map[types.BackendTier]TierPolicy)
	for _, ad := range adapters {
		cfgs[ad.Tier()] = quota.Config{
			DailyLimit:             10,
			MinInterval:            time.Second,
			BackoffBase:            2 * time.Second,
			BackoffMultiplier:      2.0,
			BackoffMax:             time.Minute,
			SpacingIncrement:       time.Second,
			SpacingCap:             5 * time.Second,
			MaxConsecutiveFailures: 3,
		}
		policies[ad.Tier()] = testPolicy()
	}
	reg := quota.NewRegistry(cfgs, nil, clk, zap.NewNop())
	synth := &fakeSynth{}
	c, err := New(Config{
		Adapters:  adapters,
		Policies:  policies,
		Quotas:    reg,
		Synth:     synth,
		OutputDir: t.TempDir(),
		Clock:     clk,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return c, synth, reg
}

func testReq() types.GenerationRequest {
	return types.GenerationRequest{
		ClipID:      "clip-1",
		Prompt:      "a red balloon over the sea",
		Duration:    8,
		AspectRatio: "16:9",
	}
}

func TestChain_FirstTierSucceeds(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ad := &fakeAdapter{
		name:        "veo",
		tier:        types.TierVeo,
		caps:        backend.Capabilities{MaxDuration: 8, SupportsContinuity: true, SupportsAudio: true},
		pollScripts: [][]backend.PollStatus{{{State: backend.StatePending}, doneStatus()}},
	}
	c, synth, _ := newTestChain(t, clk, ad)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierVeo, res.Tier)
	assert.False(t, res.Degraded())
	assert.FileExists(t, res.FilePath)
	assert.Greater(t, res.ByteSize, int64(0))
	assert.Zero(t, synth.calls)
	assert.Equal(t, 1, ad.submits)
}

func TestChain_TierFatalAdvancesAfterSingleAttempt(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	bad := &fakeAdapter{
		name:       "veo",
		tier:       types.TierVeo,
		caps:       backend.Capabilities{MaxDuration: 8},
		submitErrs: []error{types.NewError(types.ErrInvalidArgument, "bad prompt")},
	}
	good := &fakeAdapter{
		name:        "runway",
		tier:        types.TierRunway,
		caps:        backend.Capabilities{MaxDuration: 10, SupportsContinuity: true},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	c, synth, _ := newTestChain(t, clk, bad, good)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierRunway, res.Tier)
	// 层级级致命错误只消耗一次尝试
	assert.Equal(t, 1, bad.submits)
	assert.Zero(t, synth.calls)
}

func TestChain_TransientRetriesWithinTier(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ad := &fakeAdapter{
		name:       "veo",
		tier:       types.TierVeo,
		caps:       backend.Capabilities{MaxDuration: 8},
		submitErrs: []error{types.NewError(types.ErrTransient, "connection reset"), nil},
		pollScripts: [][]backend.PollStatus{
			{doneStatus()},
			{doneStatus()},
		},
	}
	c, _, _ := newTestChain(t, clk, ad)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierVeo, res.Tier)
	assert.Equal(t, 2, ad.submits)
}

func TestChain_PollBudgetExhaustedCountsAsTimeout(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	slow := &fakeAdapter{
		name:        "veo",
		tier:        types.TierVeo,
		caps:        backend.Capabilities{MaxDuration: 8},
		pollScripts: [][]backend.PollStatus{{{State: backend.StatePending}}},
	}
	good := &fakeAdapter{
		name:        "runway",
		tier:        types.TierRunway,
		caps:        backend.Capabilities{MaxDuration: 10},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	c, _, _ := newTestChain(t, clk, slow, good)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierRunway, res.Tier)
	// 层内尝试预算 2 次全部超时后才换层
	assert.Equal(t, 2, slow.submits)
}

func TestChain_QuotaHitRecordedAndRetried(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ad := &fakeAdapter{
		name: "veo",
		tier: types.TierVeo,
		caps: backend.Capabilities{MaxDuration: 8},
		submitErrs: []error{
			types.NewError(types.ErrQuotaExceeded, "rate limited").WithHTTPStatus(429),
			nil,
		},
		pollScripts: [][]backend.PollStatus{
			{doneStatus()},
			{doneStatus()},
		},
	}
	c, _, reg := newTestChain(t, clk, ad)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierVeo, res.Tier)

	// 成功后连续失败计数清零
	st := reg.Tracker(types.TierVeo).Snapshot()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.DailyCount)
}

func TestChain_AllTiersFailFallsBackToSynth(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	a := &fakeAdapter{
		name:        "veo",
		tier:        types.TierVeo,
		caps:        backend.Capabilities{MaxDuration: 8},
		pollScripts: [][]backend.PollStatus{{failedStatus(types.ErrTransient)}},
	}
	b := &fakeAdapter{
		name:        "runway",
		tier:        types.TierRunway,
		caps:        backend.Capabilities{MaxDuration: 10},
		pollScripts: [][]backend.PollStatus{{failedStatus(types.ErrTransient)}},
	}
	c, synth, _ := newTestChain(t, clk, a, b)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.True(t, res.Degraded())
	assert.Equal(t, 1, synth.calls)
	assert.FileExists(t, res.FilePath)
}

func TestChain_ExhaustedTierSkippedWithoutAttempt(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	exhausted := &fakeAdapter{
		name:        "veo",
		tier:        types.TierVeo,
		caps:        backend.Capabilities{MaxDuration: 8},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	good := &fakeAdapter{
		name:        "runway",
		tier:        types.TierRunway,
		caps:        backend.Capabilities{MaxDuration: 10},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	c, _, reg := newTestChain(t, clk, exhausted, good)

	// 连续失败到达硬上限，当日该层级视为耗尽
	tr := reg.Tracker(types.TierVeo)
	for i := 0; i < 3; i++ {
		tr.RecordQuotaHit()
	}
	require.True(t, tr.IsExhausted())

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierRunway, res.Tier)
	assert.Zero(t, exhausted.submits)
}

func TestChain_ClampsRequestToCapabilities(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ad := &fakeAdapter{
		name:        "runway",
		tier:        types.TierRunway,
		caps:        backend.Capabilities{MinDuration: 2, MaxDuration: 10, SupportsContinuity: false},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	c, _, _ := newTestChain(t, clk, ad)

	req := testReq()
	req.Duration = 30
	req.SeedImagePath = "/tmp/seed.jpg"
	req.WithAudio = true

	res, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, float64(10), ad.lastReq.Duration)
	assert.Empty(t, ad.lastReq.SeedImagePath)
	assert.False(t, ad.lastReq.WithAudio)
	assert.Equal(t, float64(10), res.Duration)
}

// 轮询阶段的传输层错误按瞬态失败处理，不得作为硬错误中断整条链。
func TestChain_PollErrorTreatedAsTransient(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	flaky := &fakeAdapter{
		name:    "veo",
		tier:    types.TierVeo,
		caps:    backend.Capabilities{MaxDuration: 8},
		pollErr: errors.New("read tcp: connection reset by peer"),
	}
	good := &fakeAdapter{
		name:        "runway",
		tier:        types.TierRunway,
		caps:        backend.Capabilities{MaxDuration: 10},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	c, _, _ := newTestChain(t, clk, flaky, good)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierRunway, res.Tier)
	// 瞬态失败在层内重试满预算后才换层
	assert.Equal(t, 2, flaky.submits)
}

// 被跳过的耗尽层级不计入回退深度：第一个实际尝试的层级成功即深度 0。
func TestChain_FallbackDepthExcludesSkippedTiers(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	exhausted := &fakeAdapter{
		name:        "veo",
		tier:        types.TierVeo,
		caps:        backend.Capabilities{MaxDuration: 8},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	good := &fakeAdapter{
		name:        "runway",
		tier:        types.TierRunway,
		caps:        backend.Capabilities{MaxDuration: 10},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}

	cfgs := map[types.BackendTier]quota.Config{
		types.TierVeo: {
			DailyLimit:             10,
			MinInterval:            time.Second,
			BackoffBase:            2 * time.Second,
			BackoffMultiplier:      2.0,
			BackoffMax:             time.Minute,
			MaxConsecutiveFailures: 1,
		},
	}
	reg := quota.NewRegistry(cfgs, nil, clk, zap.NewNop())
	reg.Tracker(types.TierVeo).RecordQuotaHit()
	require.True(t, reg.Tracker(types.TierVeo).IsExhausted())

	promReg := prometheus.NewRegistry()
	c, err := New(Config{
		Adapters:  []backend.Adapter{exhausted, good},
		Quotas:    reg,
		Synth:     &fakeSynth{},
		OutputDir: t.TempDir(),
		Clock:     clk,
		Logger:    zap.NewNop(),
		Metrics:   metrics.NewCollector("videoflow", promReg),
	})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), testReq())
	require.NoError(t, err)
	assert.Equal(t, types.TierRunway, res.Tier)
	assert.Zero(t, exhausted.submits)

	expected := `
# HELP videoflow_fallback_depth Number of tiers tried before a clip was produced
# TYPE videoflow_fallback_depth histogram
videoflow_fallback_depth_bucket{le="0"} 1
videoflow_fallback_depth_bucket{le="1"} 1
videoflow_fallback_depth_bucket{le="2"} 1
videoflow_fallback_depth_bucket{le="3"} 1
videoflow_fallback_depth_bucket{le="4"} 1
videoflow_fallback_depth_bucket{le="+Inf"} 1
videoflow_fallback_depth_sum 0
videoflow_fallback_depth_count 1
`
	require.NoError(t, testutil.CollectAndCompare(promReg, strings.NewReader(expected), "videoflow_fallback_depth"))
}

func TestChain_ContextCancellationPropagates(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ad := &fakeAdapter{
		name:        "veo",
		tier:        types.TierVeo,
		caps:        backend.Capabilities{MaxDuration: 8},
		pollScripts: [][]backend.PollStatus{{doneStatus()}},
	}
	c, _, _ := newTestChain(t, clk, ad)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, testReq())
	assert.ErrorIs(t, err, context.Canceled)
}
