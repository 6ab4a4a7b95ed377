// Copyright (c) VideoFlow Authors.
// Licensed under the MIT License.

// Package frames 提供片段续接所需的尾帧提取。
//
// 尾帧作为下一个片段的种子图像，使相邻片段在画面上连续。提取失败
// 不影响片段本身，调用方把失败当作“本段无续接”处理即可。
package frames

import (
	"context"
	"fmt"
	"os"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// ContinuityManager 从已生成的片段尾部提取单帧图像。
type ContinuityManager struct {
	logger *zap.Logger

	// run 执行装配好的 ffmpeg 流，测试中注入。
	run func(s *ffmpeg.Stream) error
}

// NewContinuityManager 构建尾帧提取器。
func NewContinuityManager(logger *zap.Logger) *ContinuityManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContinuityManager{
		logger: logger,
		run:    func(s *ffmpeg.Stream) error { return s.Run() },
	}
}

// ExtractLastFrame 提取片段的尾帧并落盘为 JPEG，与片段文件同目录。
// 返回帧文件路径。任何失败（文件损坏、ffmpeg 缺失）只返回 error，
// 由调用方决定是否放弃续接。
func (m *ContinuityManager) ExtractLastFrame(ctx context.Context, clipPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fi, err := os.Stat(clipPath)
	if err != nil {
		return "", fmt.Errorf("frames: stat clip: %w", err)
	}
	if fi.Size() == 0 {
		return "", fmt.Errorf("frames: clip %s is empty", clipPath)
	}

	framePath := frameOutputPath(clipPath)
	// 从文件末尾向前 0.25 秒取一帧，避免落在容器尾部的空白上
	err = m.run(ffmpeg.Input(clipPath, ffmpeg.KwArgs{"sseof": "-0.25"}).
		Output(framePath, ffmpeg.KwArgs{
			"vframes": 1,
			"q:v":     2,
			"update":  1,
		}).
		OverWriteOutput().Silent(true))
	if err != nil {
		return "", fmt.Errorf("frames: extract last frame: %w", err)
	}

	ffi, err := os.Stat(framePath)
	if err != nil || ffi.Size() == 0 {
		_ = os.Remove(framePath)
		return "", fmt.Errorf("frames: frame output missing or empty for %s", clipPath)
	}
	m.logger.Debug("尾帧提取完成",
		zap.String("clip", clipPath),
		zap.String("frame", framePath))
	return framePath, nil
}

func frameOutputPath(clipPath string) string {
	base := clipPath
	if i := strings.LastIndex(base, "."); i > strings.LastIndexByte(base, '/') {
		base = base[:i]
	}
	return base + "_last.jpg"
}
