package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/types"
)

// stubGenerator 记录每次收到的请求并写出一个小文件作为片段。
type stubGenerator struct {
	dir      string
	reqs     []types.GenerationRequest
	tier     types.BackendTier
	cancelAt int // 第 n 次调用后取消 ctx，0 表示不取消
	cancel   context.CancelFunc
}

func (g *stubGenerator) Generate(_ context.Context, req types.GenerationRequest) (*types.GenerationResult, error) {
	g.reqs = append(g.reqs, req)
	path := filepath.Join(g.dir, fmt.Sprintf("%s.mp4", req.ClipID))
	if err := os.WriteFile(path, []byte("clip"), 0o644); err != nil {
		return nil, err
	}
	if g.cancelAt > 0 && len(g.reqs) == g.cancelAt {
		g.cancel()
	}
	return &types.GenerationResult{
		ClipID:   req.ClipID,
		FilePath: path,
		Duration: req.Duration,
		Tier:     g.tier,
	}, nil
}

type stubExtractor struct {
	fail  bool
	calls int
}

func (e *stubExtractor) ExtractLastFrame(_ context.Context, clipPath string) (string, error) {
	e.calls++
	if e.fail {
		return "", fmt.Errorf("corrupt clip")
	}
	frame := clipPath + ".last.jpg"
	if err := os.WriteFile(frame, []byte{0xFF, 0xD8}, 0o644); err != nil {
		return "", err
	}
	return frame, nil
}

func seqReq() SequenceRequest {
	return SequenceRequest{
		Prompt:        "city timelapse at dusk",
		TotalDuration: 20,
		ClipLength:    8,
		AspectRatio:   "16:9",
		Continuity:    true,
	}
}

func TestGenerateSequence_Plans20Over8AsThreeClips(t *testing.T) {
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo}
	o, err := New(gen, &stubExtractor{}, zap.NewNop())
	require.NoError(t, err)

	results, err := o.GenerateSequence(context.Background(), seqReq())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, float64(8), results[0].Duration)
	assert.Equal(t, float64(8), results[1].Duration)
	assert.Equal(t, float64(4), results[2].Duration)
}

func TestGenerateSequence_ThreadsSeedFrames(t *testing.T) {
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo}
	ext := &stubExtractor{}
	o, err := New(gen, ext, zap.NewNop())
	require.NoError(t, err)

	results, err := o.GenerateSequence(context.Background(), seqReq())
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 首段无种子，后续各段以前一段的尾帧为种子
	assert.Empty(t, gen.reqs[0].SeedImagePath)
	assert.Equal(t, results[0].SeedFramePath, gen.reqs[1].SeedImagePath)
	assert.Equal(t, results[1].SeedFramePath, gen.reqs[2].SeedImagePath)
	assert.Equal(t, 3, ext.calls)
}

func TestGenerateSequence_ExtractionFailureDisablesContinuityOnly(t *testing.T) {
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo}
	o, err := New(gen, &stubExtractor{fail: true}, zap.NewNop())
	require.NoError(t, err)

	results, err := o.GenerateSequence(context.Background(), seqReq())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Empty(t, res.SeedFramePath)
		if i > 0 {
			assert.Empty(t, gen.reqs[i].SeedImagePath)
		}
	}
}

func TestGenerateSequence_NoContinuitySkipsExtraction(t *testing.T) {
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo}
	ext := &stubExtractor{}
	o, err := New(gen, ext, zap.NewNop())
	require.NoError(t, err)

	req := seqReq()
	req.Continuity = false
	_, err = o.GenerateSequence(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, ext.calls)
}

func TestGenerateSequence_InitialSeedImageUsed(t *testing.T) {
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo}
	o, err := New(gen, &stubExtractor{}, zap.NewNop())
	require.NoError(t, err)

	req := seqReq()
	req.SeedImagePath = "/tmp/opening-shot.jpg"
	_, err = o.GenerateSequence(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/opening-shot.jpg", gen.reqs[0].SeedImagePath)
}

func TestGenerateSequence_InvalidInput(t *testing.T) {
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo}
	o, err := New(gen, nil, zap.NewNop())
	require.NoError(t, err)

	req := seqReq()
	req.TotalDuration = 0
	_, err = o.GenerateSequence(context.Background(), req)
	assert.Equal(t, types.ErrInvalidArgument, types.GetErrorCode(err))
}

func TestGenerateSequence_CancelledBetweenClips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo, cancelAt: 1, cancel: cancel}
	o, err := New(gen, nil, zap.NewNop())
	require.NoError(t, err)

	req := seqReq()
	req.Continuity = false
	results, err := o.GenerateSequence(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
	// 已完成的片段仍然返回
	assert.Len(t, results, 1)
	assert.Equal(t, 1, len(gen.reqs))
}

func TestGenerateSequence_UniqueClipIDs(t *testing.T) {
	gen := &stubGenerator{dir: t.TempDir(), tier: types.TierVeo}
	o, err := New(gen, nil, zap.NewNop())
	require.NoError(t, err)

	req := seqReq()
	req.Continuity = false
	_, err = o.GenerateSequence(context.Background(), req)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, r := range gen.reqs {
		assert.False(t, seen[r.ClipID], r.ClipID)
		seen[r.ClipID] = true
	}
}
