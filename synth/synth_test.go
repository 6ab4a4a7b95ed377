package synth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/internal/clock"
	"github.com/BaSui01/videoflow/types"
)

func testSynth(t *testing.T) *Synthesizer {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	return New(Config{MinBytes: 1024}, nil, clk, zap.NewNop())
}

func testReq() types.GenerationRequest {
	return types.GenerationRequest{
		ClipID:      "clip-7",
		Prompt:      "sunrise over a misty harbor",
		Duration:    5,
		AspectRatio: "16:9",
	}
}

// fakeRun 模拟 ffmpeg 执行：向输出文件写入指定大小的内容。
func fakeRun(size int) func(*ffmpeg.Stream) error {
	return func(s *ffmpeg.Stream) error {
		for _, a := range s.GetArgs() {
			if strings.HasSuffix(a, ".mp4") {
				return os.WriteFile(a, bytes.Repeat([]byte{0xAB}, size), 0o644)
			}
		}
		return fmt.Errorf("no output file argument")
	}
}

func TestSynthesizer_PrimaryPath(t *testing.T) {
	s := testSynth(t)
	s.run = fakeRun(4096)
	dir := t.TempDir()

	res, err := s.Render(context.Background(), testReq(), dir)
	require.NoError(t, err)
	assert.Equal(t, types.TierSynth, res.Tier)
	assert.Equal(t, "lavfi-card", res.Model)
	assert.Equal(t, float64(5), res.Duration)
	assert.True(t, res.Degraded())
	assert.FileExists(t, res.FilePath)
	assert.GreaterOrEqual(t, res.ByteSize, int64(1024))
}

func TestSynthesizer_SecondaryWhenDrawtextFails(t *testing.T) {
	s := testSynth(t)
	calls := 0
	s.run = func(st *ffmpeg.Stream) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("drawtext: font not found")
		}
		return fakeRun(2048)(st)
	}

	res, err := s.Render(context.Background(), testReq(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "lavfi-plain", res.Model)
	assert.Equal(t, 2, calls)
}

func TestSynthesizer_ByteStubWhenFfmpegUnavailable(t *testing.T) {
	s := testSynth(t)
	s.run = func(*ffmpeg.Stream) error {
		return fmt.Errorf("exec: ffmpeg: executable file not found")
	}
	dir := t.TempDir()

	res, err := s.Render(context.Background(), testReq(), dir)
	require.NoError(t, err)
	assert.Equal(t, "byte-stub", res.Model)
	assert.GreaterOrEqual(t, res.ByteSize, int64(1024))

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("ftyp"), data[4:8])
}

// 极小的 min_bytes 配置不得让字节占位路径崩溃：
// 占位文件有 40 字节的结构下限（ftyp 盒 + free 盒头）。
func TestSynthesizer_TinyMinBytesStillWritesValidStub(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	s := New(Config{MinBytes: 16}, nil, clk, zap.NewNop())
	s.run = func(*ffmpeg.Stream) error { return fmt.Errorf("no ffmpeg") }

	res, err := s.Render(context.Background(), testReq(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "byte-stub", res.Model)
	assert.GreaterOrEqual(t, res.ByteSize, int64(40))

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("ftyp"), data[4:8])
	assert.Equal(t, []byte("free"), data[36:40])
}

func TestSynthesizer_StubIsDeterministic(t *testing.T) {
	s := testSynth(t)
	s.run = func(*ffmpeg.Stream) error { return fmt.Errorf("no ffmpeg") }

	d1, d2 := t.TempDir(), t.TempDir()
	r1, err := s.Render(context.Background(), testReq(), d1)
	require.NoError(t, err)
	r2, err := s.Render(context.Background(), testReq(), d2)
	require.NoError(t, err)

	b1, _ := os.ReadFile(r1.FilePath)
	b2, _ := os.ReadFile(r2.FilePath)
	assert.Equal(t, b1, b2)
}

func TestSynthesizer_UndersizedRenderFallsThrough(t *testing.T) {
	s := testSynth(t)
	// ffmpeg 执行成功但输出过小，应继续降级直到字节占位
	s.run = fakeRun(16)

	res, err := s.Render(context.Background(), testReq(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "byte-stub", res.Model)
	assert.GreaterOrEqual(t, res.ByteSize, int64(1024))
}

func TestSynthesizer_ContextCancelled(t *testing.T) {
	s := testSynth(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Render(ctx, testReq(), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthesizer_OutputPathUsesClipID(t *testing.T) {
	s := testSynth(t)
	s.run = fakeRun(4096)
	dir := t.TempDir()

	res, err := s.Render(context.Background(), testReq(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip-7_placeholder.mp4"), res.FilePath)
}

func TestStaticDescriptor_Deterministic(t *testing.T) {
	d := StaticDescriptor{}
	l1, c1 := d.Describe("a red balloon drifting over the sea at dawn")
	l2, c2 := d.Describe("a red balloon drifting over the sea at dawn")
	assert.Equal(t, l1, l2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, "a red balloon drifting over the", l1)
}

func TestStaticDescriptor_EmptyPrompt(t *testing.T) {
	d := StaticDescriptor{}
	label, color := d.Describe("")
	assert.Equal(t, "generated clip", label)
	assert.NotEmpty(t, color)
}

func TestSizeForAspect(t *testing.T) {
	tests := []struct {
		aspect string
		want   string
	}{
		{"16:9", "1280x720"},
		{"9:16", "720x1280"},
		{"1:1", "960x960"},
		{"", "1280x720"},
		{"21:9", "1280x720"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeForAspect(tt.aspect), tt.aspect)
	}
}
