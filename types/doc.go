// Copyright (c) VideoFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 VideoFlow 各模块共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 quota、backend、chain、
synth、orchestrator 等上层模块提供统一的类型契约。

# 核心类型

  - GenerationRequest / GenerationResult — 单个片段生成的请求与结果模型
  - BackendTier       — 回退链层级枚举（veo / runway / dashscope / synth）
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 错误分类

各后端适配器在边界处将服务商特定的错误形态一次性归一化为 ErrorCode：
QUOTA_EXCEEDED（配额拒绝，退避后可重试）、PERMISSION_DENIED 与
INVALID_ARGUMENT（该层级致命，立即换层）、TRANSIENT 与 TIMEOUT
（层内可重试）。回退链只依据 ErrorCode 做决策，从不检查原始错误文本。
*/
package types
