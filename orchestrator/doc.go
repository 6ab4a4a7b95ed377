// Copyright (c) VideoFlow Authors.
// Licensed under the MIT License.

// Package orchestrator 负责把序列请求拆分为片段计划并顺序执行。
//
// # 概述
//
// 一次序列生成分两步：PlanClips 把总时长切分为固定长度的片段
// （末段缩短），GenerateSequence 逐段调用回退链并在段间传递续接
// 种子帧。段内顺序执行是硬约束；跨序列的并发由配额层串行化。
//
// # 失败语义
//
// 回退链保证每段总能产出文件（最差为本地占位），因此编排层只在
// 输入非法或 ctx 取消时返回 error。降级片段通过结果上的层级字段
// 暴露，不作为错误。
package orchestrator
