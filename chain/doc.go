// Copyright (c) VideoFlow Authors.
// Licensed under the MIT License.

// Package chain 实现多层级回退链。
//
// # 概述
//
// 回退链按配置的优先级依次尝试各后端层级，直到某一层成功或全部耗尽。
// 每个层级受共享的配额追踪器约束：当天已耗尽的层级被直接跳过，
// 不消耗尝试次数，也不触发固定的层内重试等待。
//
// # 决策规则
//
// 适配器在边界处把服务商错误归一化为统一错误码，链上只依据错误码做
// 与层级无关的决策：
//
//   - QUOTA_EXCEEDED：记录配额命中，层内重试或换层
//   - PERMISSION_DENIED / INVALID_ARGUMENT：立即放弃当前层级
//   - TRANSIENT / TIMEOUT：在层内尝试预算内重试
//
// 所有远端层级耗尽后交给本地合成器兜底，因此除 ctx 取消外
// Generate 永远返回可用结果。
package chain
