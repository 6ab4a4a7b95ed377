package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/BaSui01/videoflow/types"
)

// DashScopeAdapter 使用阿里 DashScope 异步任务 API 执行视频生成
// （次级层级）。提交时携带 X-DashScope-Async 头，返回 task_id，
// 随后轮询 /api/v1/tasks/{id} 直至 SUCCEEDED / FAILED。
type DashScopeAdapter struct {
	cfg    DashScopeConfig
	token  TokenSupplier
	client *http.Client
}

// NewDashScopeAdapter 创建 DashScope 适配器。
func NewDashScopeAdapter(cfg DashScopeConfig, token TokenSupplier) *DashScopeAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dashscope.aliyuncs.com"
	}
	if cfg.Model == "" {
		cfg.Model = "wanx2.1-i2v-turbo"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &DashScopeAdapter{
		cfg:    cfg,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *DashScopeAdapter) Name() string { return "dashscope" }

func (a *DashScopeAdapter) Tier() types.BackendTier { return types.TierDashScope }

func (a *DashScopeAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxDuration:        5,
		SupportsContinuity: true,
		SupportsAudio:      false,
	}
}

type dashScopeRequest struct {
	Model string `json:"model"`
	Input struct {
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt,omitempty"`
		ImgURL         string `json:"img_url,omitempty"`
	} `json:"input"`
	Parameters struct {
		Resolution string `json:"resolution,omitempty"`
		Duration   int    `json:"duration,omitempty"`
	} `json:"parameters"`
}

type dashScopeResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Output    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"` // PENDING, RUNNING, SUCCEEDED, FAILED
		VideoURL   string `json:"video_url,omitempty"`
		Code       string `json:"code,omitempty"`
		Message    string `json:"message,omitempty"`
	} `json:"output"`
}

// Submit 提交异步生成任务。
func (a *DashScopeAdapter) Submit(ctx context.Context, req types.GenerationRequest) (Handle, error) {
	var body dashScopeRequest
	body.Model = a.cfg.Model
	body.Input.Prompt = req.Prompt
	body.Input.NegativePrompt = req.NegativePrompt
	body.Parameters.Duration = int(req.Duration)
	if req.SeedImagePath != "" {
		data, err := os.ReadFile(req.SeedImagePath)
		if err != nil {
			return Handle{}, types.NewError(types.ErrInvalidArgument, "seed image unreadable").
				WithCause(err).
				WithProvider(a.Name())
		}
		body.Input.ImgURL = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
	}

	token, err := a.token(ctx)
	if err != nil {
		return Handle{}, types.NewError(types.ErrPermissionDenied, "token supplier failed").
			WithCause(err).
			WithProvider(a.Name())
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/api/v1/services/aigc/video-generation/video-synthesis",
		bytes.NewReader(payload))
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-DashScope-Async", "enable")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Handle{}, ctx.Err()
		}
		return Handle{}, ClassifyTransport(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Handle{}, ClassifyHTTP(a.Name(), resp.StatusCode, errBody)
	}

	var dsResp dashScopeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dsResp); err != nil {
		return Handle{}, types.NewError(types.ErrTransient, "undecodable submit response").
			WithCause(err).
			WithProvider(a.Name())
	}
	if dsResp.Code != "" {
		return Handle{}, ClassifyTaskFailure(a.Name(), dsResp.Code, dsResp.Message)
	}
	if dsResp.Output.TaskID == "" {
		return Handle{}, types.NewError(types.ErrTransient, "submit response missing task id").
			WithProvider(a.Name())
	}

	return Handle{Tier: a.Tier(), ID: dsResp.Output.TaskID}, nil
}

// Poll 查询任务状态。
func (a *DashScopeAdapter) Poll(ctx context.Context, h Handle) (PollStatus, error) {
	token, err := a.token(ctx)
	if err != nil {
		return PollStatus{
			State: StateFailed,
			Err: types.NewError(types.ErrPermissionDenied, "token supplier failed").
				WithCause(err).
				WithProvider(a.Name()),
		}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/tasks/%s", a.cfg.BaseURL, h.ID), nil)
	if err != nil {
		return PollStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return PollStatus{}, ctx.Err()
		}
		return PollStatus{State: StateFailed, Err: ClassifyTransport(a.Name(), err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return PollStatus{State: StateFailed, Err: ClassifyHTTP(a.Name(), resp.StatusCode, errBody)}, nil
	}

	var dsResp dashScopeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dsResp); err != nil {
		return PollStatus{
			State: StateFailed,
			Err: types.NewError(types.ErrTransient, "undecodable poll response").
				WithCause(err).
				WithProvider(a.Name()),
		}, nil
	}

	switch dsResp.Output.TaskStatus {
	case "SUCCEEDED":
		if dsResp.Output.VideoURL == "" {
			return PollStatus{
				State: StateFailed,
				Err: types.NewError(types.ErrTransient, "task succeeded without video url").
					WithProvider(a.Name()),
			}, nil
		}
		return PollStatus{State: StateDone, ResultLocator: dsResp.Output.VideoURL}, nil
	case "FAILED", "CANCELED", "UNKNOWN":
		return PollStatus{
			State: StateFailed,
			Err:   ClassifyTaskFailure(a.Name(), dsResp.Output.Code, dsResp.Output.Message),
		}, nil
	default:
		return PollStatus{State: StatePending}, nil
	}
}

// Materialize 下载结果视频。
func (a *DashScopeAdapter) Materialize(ctx context.Context, locator, destDir string) (string, error) {
	name := fmt.Sprintf("dashscope_%d.mp4", time.Now().UnixNano())
	return materializeLocator(ctx, a.client, a.Name(), locator, destDir, name, nil)
}
