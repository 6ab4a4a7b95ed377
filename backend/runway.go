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

const runwayAPIVersion = "2024-11-06"

// RunwayAdapter 使用 Runway Gen-4 执行视频生成（主力层级 B）。
// API 文档: https://docs.dev.runwayml.com/api/
type RunwayAdapter struct {
	cfg    RunwayConfig
	token  TokenSupplier
	client *http.Client
}

// NewRunwayAdapter 创建 Runway 适配器。
func NewRunwayAdapter(cfg RunwayConfig, token TokenSupplier) *RunwayAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.runwayml.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gen4_turbo"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &RunwayAdapter{
		cfg:    cfg,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *RunwayAdapter) Name() string { return "runway" }

func (a *RunwayAdapter) Tier() types.BackendTier { return types.TierRunway }

func (a *RunwayAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxDuration:        10,
		MinDuration:        2,
		SupportsContinuity: true,
		SupportsAudio:      false,
	}
}

type runwayRequest struct {
	Model       string `json:"model"`
	PromptText  string `json:"promptText,omitempty"`
	PromptImage string `json:"promptImage,omitempty"` // HTTPS URL or data URI
	Ratio       string `json:"ratio,omitempty"`       // e.g. "1280:720"
	Duration    int    `json:"duration,omitempty"`    // 2-10 seconds
}

type runwayTask struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"` // PENDING, RUNNING, SUCCEEDED, FAILED
	Output      []string `json:"output,omitempty"`
	Failure     string   `json:"failure,omitempty"`
	FailureCode string   `json:"failureCode,omitempty"`
}

// 宽高比转换为 Runway 的分辨率格式。
func runwayRatio(aspect string) string {
	switch aspect {
	case "", "16:9":
		return "1280:720"
	case "9:16":
		return "720:1280"
	case "1:1":
		return "960:960"
	default:
		return aspect
	}
}

// Submit 提交生成任务。种子图像以 data URI 内联（画面续接）。
func (a *RunwayAdapter) Submit(ctx context.Context, req types.GenerationRequest) (Handle, error) {
	duration := int(req.Duration)
	if duration < 2 {
		duration = 2
	}
	if duration > 10 {
		duration = 10
	}

	body := runwayRequest{
		Model:      a.cfg.Model,
		PromptText: req.Prompt,
		Ratio:      runwayRatio(req.AspectRatio),
		Duration:   duration,
	}
	if req.SeedImagePath != "" {
		data, err := os.ReadFile(req.SeedImagePath)
		if err != nil {
			return Handle{}, types.NewError(types.ErrInvalidArgument, "seed image unreadable").
				WithCause(err).
				WithProvider(a.Name())
		}
		body.PromptImage = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
	}

	token, err := a.token(ctx)
	if err != nil {
		return Handle{}, types.NewError(types.ErrPermissionDenied, "token supplier failed").
			WithCause(err).
			WithProvider(a.Name())
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/v1/image_to_video", bytes.NewReader(payload))
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Runway-Version", runwayAPIVersion)

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

	var task runwayTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return Handle{}, types.NewError(types.ErrTransient, "undecodable submit response").
			WithCause(err).
			WithProvider(a.Name())
	}
	if task.ID == "" {
		return Handle{}, types.NewError(types.ErrTransient, "submit response missing task id").
			WithProvider(a.Name())
	}

	return Handle{Tier: a.Tier(), ID: task.ID}, nil
}

// Poll 查询任务状态。
func (a *RunwayAdapter) Poll(ctx context.Context, h Handle) (PollStatus, error) {
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
		fmt.Sprintf("%s/v1/tasks/%s", a.cfg.BaseURL, h.ID), nil)
	if err != nil {
		return PollStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Runway-Version", runwayAPIVersion)

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

	var task runwayTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return PollStatus{
			State: StateFailed,
			Err: types.NewError(types.ErrTransient, "undecodable poll response").
				WithCause(err).
				WithProvider(a.Name()),
		}, nil
	}

	switch task.Status {
	case "SUCCEEDED":
		if len(task.Output) == 0 {
			return PollStatus{
				State: StateFailed,
				Err: types.NewError(types.ErrTransient, "task succeeded without output").
					WithProvider(a.Name()),
			}, nil
		}
		return PollStatus{State: StateDone, ResultLocator: task.Output[0]}, nil
	case "FAILED":
		return PollStatus{
			State: StateFailed,
			Err:   ClassifyTaskFailure(a.Name(), task.FailureCode, task.Failure),
		}, nil
	default:
		// PENDING / RUNNING / THROTTLED
		return PollStatus{State: StatePending}, nil
	}
}

// Materialize 下载签名 URL 指向的结果文件。
func (a *RunwayAdapter) Materialize(ctx context.Context, locator, destDir string) (string, error) {
	name := fmt.Sprintf("runway_%d.mp4", time.Now().UnixNano())
	return materializeLocator(ctx, a.client, a.Name(), locator, destDir, name, nil)
}
