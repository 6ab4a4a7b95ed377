// Copyright (c) VideoFlow Authors.
// Licensed under the MIT License.

/*
包 backend 提供各视频生成服务商的统一适配层。

# 概述

每个层级实现同一份 Adapter 契约：Submit（提交任务，返回句柄）、
Poll（幂等轮询）、Materialize（把结果落地为本地文件）。传输与载荷
形态的差异被限制在适配器内部；服务商特定的错误形态在边界处一次性
归一化为 types.ErrorCode，上层回退链从不接触原始错误文本。

# 适配器

  - VeoAdapter       — Google Veo 3.1，长时操作模型（operation name 轮询）
  - RunwayAdapter    — Runway Gen-4，任务模型（PENDING/RUNNING/SUCCEEDED/FAILED）
  - DashScopeAdapter — 阿里 DashScope 异步任务 API（X-DashScope-Async）

# 错误归一化

  - ClassifyHTTP       — HTTP 状态码映射（429/402→配额，401/403→权限，
    400/404/422→参数，5xx→瞬时）
  - ClassifyTransport  — 传输层故障（超时→TIMEOUT，其余→TRANSIENT）
  - ClassifyTaskFailure — 任务级失败码映射（安全审查→参数错误等）
*/
package backend
