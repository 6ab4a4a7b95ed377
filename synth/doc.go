// Copyright (c) VideoFlow Authors.
// Licensed under the MIT License.

// Package synth 提供本地确定性占位视频合成。
//
// 当所有远端后端层级都不可用时，合成器保证仍能产出一个时长与画幅比
// 符合请求的有效视频文件。渲染分三级递降：
//
//  1. ffmpeg lavfi 纯色源 + drawtext 标签卡片
//  2. ffmpeg lavfi 纯色（不依赖字体）
//  3. 确定性 MP4 字节占位文件（不依赖 ffmpeg）
//
// 同一请求的产出逐字节可复现。画面描述（标签与底色）由
// DescriptorProvider 提供，默认实现对提示词做哈希选色。
package synth
