package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/BaSui01/videoflow/types"
)

// 错误分类集中于此文件：HTTP 状态码与传输故障到 ErrorCode 的映射
// 在适配器边界完成一次，链路上游不再检查原始错误文本。

// providerErrorBody 常见的服务商错误响应形态（尽力解析，仅取 message）。
type providerErrorBody struct {
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
	Code string `json:"code"`
}

// ClassifyHTTP 将 HTTP 错误响应归一化为结构化错误。
func ClassifyHTTP(provider string, status int, body []byte) *types.Error {
	msg := extractMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("http status %d", status)
	}

	var code types.ErrorCode
	switch {
	case status == 429 || status == 402:
		// 402: 部分服务商以 payment required 表达余额/配额不足
		code = types.ErrQuotaExceeded
	case status == 401 || status == 403:
		code = types.ErrPermissionDenied
	case status == 400 || status == 404 || status == 422:
		code = types.ErrInvalidArgument
	case status == 408:
		code = types.ErrTimeout
	case status >= 500:
		code = types.ErrTransient
	default:
		code = types.ErrTransient
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithProvider(provider)
}

// ClassifyTransport 将传输层故障归一化为结构化错误。
// ctx 取消不在此处理，调用方直接向上传播 ctx.Err()。
func ClassifyTransport(provider string, err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "request deadline exceeded").
			WithCause(err).
			WithProvider(provider)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewError(types.ErrTimeout, "network timeout").
			WithCause(err).
			WithProvider(provider)
	}

	return types.NewError(types.ErrTransient, "transport failure").
		WithCause(err).
		WithProvider(provider)
}

// ClassifyTaskFailure 服务商任务级失败（任务状态 FAILED）的归一化。
// 内容安全或输入问题视为该层级的参数错误，其余默认瞬时故障。
func ClassifyTaskFailure(provider, failureCode, message string) *types.Error {
	if message == "" {
		message = "generation task failed"
	}

	switch failureCode {
	case "SAFETY", "INPUT_PREPROCESSING.SAFETY", "INVALID_INPUT", "InvalidParameter",
		"DataInspectionFailed", "IPInfringementSuspect":
		return types.NewError(types.ErrInvalidArgument, message).WithProvider(provider)
	case "INTERNAL.BAD_OUTPUT", "Throttling", "Throttling.RateQuota", "Throttling.AllocationQuota":
		if failureCode != "INTERNAL.BAD_OUTPUT" {
			return types.NewError(types.ErrQuotaExceeded, message).WithProvider(provider)
		}
	}
	return types.NewError(types.ErrTransient, message).WithProvider(provider)
}

func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed providerErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return parsed.Message
}
