package synth

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/internal/clock"
	"github.com/BaSui01/videoflow/types"
)

// Config 合成器参数。
type Config struct {
	// MinBytes 输出文件的最小字节数，低于该值视为渲染失败。
	MinBytes int64 `yaml:"min_bytes" json:"min_bytes"`
	// FrameRate 渲染帧率，0 表示默认 24。
	FrameRate int `yaml:"frame_rate" json:"frame_rate"`
}

// DefaultConfig 返回默认合成参数。
func DefaultConfig() Config {
	return Config{MinBytes: 4096, FrameRate: 24}
}

// stubMinBytes 字节占位文件的结构下限：ftyp 盒 32 字节加 free 盒头 8 字节。
// MinBytes 低于该值时无法写出合法的盒结构。
const stubMinBytes = 40

// Synthesizer 本地确定性占位合成器。先用 ffmpeg 渲染带标签的纯色卡片，
// 渲染失败时降级为无标签纯色，再失败时直接写出确定性的字节占位文件。
// 除文件系统完全不可写外不会失败。
type Synthesizer struct {
	cfg        Config
	descriptor DescriptorProvider
	logger     *zap.Logger
	clk        clock.Clock

	// run 执行装配好的 ffmpeg 流。测试中注入以避免依赖 ffmpeg 可执行文件。
	run func(s *ffmpeg.Stream) error
}

// New 构建合成器。descriptor 为 nil 时使用 StaticDescriptor。
func New(cfg Config, descriptor DescriptorProvider, clk clock.Clock, logger *zap.Logger) *Synthesizer {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultConfig().MinBytes
	} else if cfg.MinBytes < stubMinBytes {
		cfg.MinBytes = stubMinBytes
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultConfig().FrameRate
	}
	if descriptor == nil {
		descriptor = StaticDescriptor{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		cfg:        cfg,
		descriptor: descriptor,
		logger:     logger,
		clk:        clk,
		run:        func(s *ffmpeg.Stream) error { return s.Run() },
	}
}

// Render 为请求产出占位视频文件。时长与画幅比严格遵循请求，
// 内容为确定性的纯色标签卡。
func (s *Synthesizer) Render(ctx context.Context, req types.GenerationRequest, destDir string) (*types.GenerationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("synth: create dest dir: %w", err)
	}

	duration := req.Duration
	if duration <= 0 {
		duration = 1
	}
	label, color := s.descriptor.Describe(req.Prompt)
	path := filepath.Join(destDir, req.ClipID+"_placeholder.mp4")

	if err := s.renderCard(path, duration, req.AspectRatio, label, color); err == nil {
		if res, ok := s.verified(req, path, duration, "lavfi-card"); ok {
			return res, nil
		}
	} else {
		s.logger.Warn("占位卡渲染失败，降级为纯色渲染",
			zap.String("clip_id", req.ClipID), zap.Error(err))
	}

	if err := s.renderPlain(path, duration, req.AspectRatio, color); err == nil {
		if res, ok := s.verified(req, path, duration, "lavfi-plain"); ok {
			return res, nil
		}
	} else {
		s.logger.Warn("纯色渲染失败，降级为字节占位",
			zap.String("clip_id", req.ClipID), zap.Error(err))
	}

	if err := s.writeStub(path, req.ClipID); err != nil {
		// 连占位文件都写不出来，返回已尽力写出的内容
		s.logger.Error("字节占位写入失败", zap.String("clip_id", req.ClipID), zap.Error(err))
		if res, ok := s.verifiedLoose(req, path, duration, "byte-stub"); ok {
			return res, nil
		}
		return nil, fmt.Errorf("synth: write stub: %w", err)
	}
	res, _ := s.verifiedLoose(req, path, duration, "byte-stub")
	return res, nil
}

// renderCard 主路径：lavfi 纯色源 + drawtext 标签。
func (s *Synthesizer) renderCard(path string, duration float64, aspect, label, color string) error {
	size := sizeForAspect(aspect)
	source := fmt.Sprintf("color=c=%s:s=%s:d=%.2f", color, size, duration)
	vf := fmt.Sprintf(
		"drawtext=text='%s':fontcolor=white:fontsize=36:x=(w-text_w)/2:y=(h-text_h)/2",
		escapeDrawtext(label))
	return s.run(ffmpeg.Input(source, ffmpeg.KwArgs{"f": "lavfi"}).
		Output(path, ffmpeg.KwArgs{
			"vf":      vf,
			"c:v":     "libx264",
			"preset":  "fast",
			"pix_fmt": "yuv420p",
			"r":       s.cfg.FrameRate,
			"t":       fmt.Sprintf("%.2f", duration),
		}).
		OverWriteOutput().Silent(true))
}

// renderPlain 次级路径：不依赖 drawtext（字体缺失时 drawtext 会失败）。
func (s *Synthesizer) renderPlain(path string, duration float64, aspect, color string) error {
	size := sizeForAspect(aspect)
	source := fmt.Sprintf("color=c=%s:s=%s:d=%.2f", color, size, duration)
	return s.run(ffmpeg.Input(source, ffmpeg.KwArgs{"f": "lavfi"}).
		Output(path, ffmpeg.KwArgs{
			"c:v":     "libx264",
			"preset":  "ultrafast",
			"pix_fmt": "yuv420p",
			"r":       s.cfg.FrameRate,
			"t":       fmt.Sprintf("%.2f", duration),
		}).
		OverWriteOutput().Silent(true))
}

// writeStub 最终兜底：写出确定性的 MP4 字节占位，保证达到最小字节数。
// 文件以合法的 ftyp 盒起头，其余空间由 free 盒填充，
// 填充内容由 clip id 派生，同一请求产出逐字节相同的文件。
func (s *Synthesizer) writeStub(path, clipID string) error {
	size := s.cfg.MinBytes
	if size < stubMinBytes {
		size = stubMinBytes
	}
	buf := make([]byte, size)

	ftyp := []byte{
		0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'i', 's', 'o', '2',
		'a', 'v', 'c', '1', 'm', 'p', '4', '1',
	}
	copy(buf, ftyp)

	// free 盒覆盖剩余空间
	free := buf[len(ftyp):]
	binary.BigEndian.PutUint32(free, uint32(len(free)))
	copy(free[4:], "free")
	seed := []byte(clipID)
	if len(seed) == 0 {
		seed = []byte{0x56, 0x46}
	}
	for i := 8; i < len(free); i++ {
		free[i] = seed[i%len(seed)]
	}

	return os.WriteFile(path, buf, 0o644)
}

// verified 校验输出文件达到最小字节数，满足时构造结果。
func (s *Synthesizer) verified(req types.GenerationRequest, path string, duration float64, model string) (*types.GenerationResult, bool) {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() < s.cfg.MinBytes {
		return nil, false
	}
	return s.result(req, path, duration, model, fi.Size()), true
}

// verifiedLoose 只要求文件存在且非空。兜底路径已无更低一级可退。
func (s *Synthesizer) verifiedLoose(req types.GenerationRequest, path string, duration float64, model string) (*types.GenerationResult, bool) {
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		return nil, false
	}
	return s.result(req, path, duration, model, fi.Size()), true
}

func (s *Synthesizer) result(req types.GenerationRequest, path string, duration float64, model string, size int64) *types.GenerationResult {
	return &types.GenerationResult{
		ClipID:    req.ClipID,
		FilePath:  path,
		ByteSize:  size,
		Duration:  duration,
		Tier:      types.TierSynth,
		Model:     model,
		CreatedAt: s.clk.Now(),
	}
}

// sizeForAspect 画幅比到渲染分辨率的映射，未知画幅按 16:9 处理。
func sizeForAspect(aspect string) string {
	switch aspect {
	case "9:16":
		return "720x1280"
	case "1:1":
		return "960x960"
	case "4:3":
		return "960x720"
	case "3:4":
		return "720x960"
	default:
		return "1280x720"
	}
}

// escapeDrawtext 转义 drawtext 滤镜的特殊字符。
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}
