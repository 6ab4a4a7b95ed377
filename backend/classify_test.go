package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/videoflow/types"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   types.ErrorCode
	}{
		{"rate limited", 429, `{"error":{"message":"quota exceeded"}}`, types.ErrQuotaExceeded},
		{"payment required", 402, ``, types.ErrQuotaExceeded},
		{"unauthorized", 401, ``, types.ErrPermissionDenied},
		{"forbidden", 403, `{"message":"no access to model"}`, types.ErrPermissionDenied},
		{"bad request", 400, `{"error":{"message":"invalid ratio"}}`, types.ErrInvalidArgument},
		{"not found", 404, ``, types.ErrInvalidArgument},
		{"unprocessable", 422, ``, types.ErrInvalidArgument},
		{"request timeout", 408, ``, types.ErrTimeout},
		{"server error", 500, ``, types.ErrTransient},
		{"bad gateway", 502, ``, types.ErrTransient},
		{"unexpected teapot", 418, ``, types.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyHTTP("runway", tt.status, []byte(tt.body))
			assert.Equal(t, tt.want, err.Code)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "runway", err.Provider)
		})
	}
}

func TestClassifyHTTP_ExtractsProviderMessage(t *testing.T) {
	err := ClassifyHTTP("veo", 400, []byte(`{"error":{"message":"duration out of range"}}`))
	assert.Equal(t, "duration out of range", err.Message)

	err = ClassifyHTTP("veo", 403, []byte(`{"message":"flat message"}`))
	assert.Equal(t, "flat message", err.Message)

	// 不可解析的 body 回落到状态码描述
	err = ClassifyHTTP("veo", 500, []byte(`<html>gateway</html>`))
	assert.Equal(t, "http status 500", err.Message)
}

func TestClassifyTransport(t *testing.T) {
	err := ClassifyTransport("dashscope", context.DeadlineExceeded)
	assert.Equal(t, types.ErrTimeout, err.Code)

	err = ClassifyTransport("dashscope", errors.New("connection refused"))
	assert.Equal(t, types.ErrTransient, err.Code)
	assert.True(t, err.Retryable)
}

func TestClassifyTaskFailure(t *testing.T) {
	tests := []struct {
		code string
		want types.ErrorCode
	}{
		{"SAFETY", types.ErrInvalidArgument},
		{"InvalidParameter", types.ErrInvalidArgument},
		{"DataInspectionFailed", types.ErrInvalidArgument},
		{"Throttling.RateQuota", types.ErrQuotaExceeded},
		{"Throttling.AllocationQuota", types.ErrQuotaExceeded},
		{"INTERNAL.BAD_OUTPUT", types.ErrTransient},
		{"", types.ErrTransient},
		{"SOMETHING_ELSE", types.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := ClassifyTaskFailure("runway", tt.code, "task failed")
			assert.Equal(t, tt.want, err.Code)
		})
	}
}
