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

// VeoAdapter 使用 Google Veo 3.1 执行视频生成（主力层级 A）。
// Veo 走长时操作模型：提交返回 operation name，轮询直至 done。
type VeoAdapter struct {
	cfg    VeoConfig
	token  TokenSupplier
	client *http.Client
}

// NewVeoAdapter 创建 Veo 适配器。
func NewVeoAdapter(cfg VeoConfig, token TokenSupplier) *VeoAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "veo-3.1-generate-preview"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &VeoAdapter{
		cfg:    cfg,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *VeoAdapter) Name() string { return "veo" }

func (a *VeoAdapter) Tier() types.BackendTier { return types.TierVeo }

func (a *VeoAdapter) Capabilities() Capabilities {
	return Capabilities{
		MaxDuration:        8,
		SupportsContinuity: true,
		SupportsAudio:      true,
	}
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParams     `json:"parameters,omitempty"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type veoParams struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	EnhancePrompt   bool   `json:"enhancePrompt,omitempty"`
	GenerateAudio   bool   `json:"generateAudio,omitempty"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
	Response struct {
		Predictions []struct {
			Video    string `json:"video"`
			VideoURI string `json:"videoUri"`
		} `json:"predictions"`
	} `json:"response"`
}

// Submit 提交生成任务。种子图像（画面续接）以 base64 内联。
func (a *VeoAdapter) Submit(ctx context.Context, req types.GenerationRequest) (Handle, error) {
	instance := veoInstance{Prompt: req.Prompt}
	if req.SeedImagePath != "" {
		data, err := os.ReadFile(req.SeedImagePath)
		if err != nil {
			return Handle{}, types.NewError(types.ErrInvalidArgument, "seed image unreadable").
				WithCause(err).
				WithProvider(a.Name())
		}
		instance.Image = &veoImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(data),
			MimeType:           "image/jpeg",
		}
	}

	duration := int(req.Duration)
	if duration == 0 {
		duration = 8
	}

	body := veoRequest{
		Instances: []veoInstance{instance},
		Parameters: veoParams{
			AspectRatio:     req.AspectRatio,
			NegativePrompt:  req.NegativePrompt,
			DurationSeconds: duration,
			EnhancePrompt:   true,
			GenerateAudio:   req.WithAudio,
		},
	}

	key, err := a.token(ctx)
	if err != nil {
		return Handle{}, types.NewError(types.ErrPermissionDenied, "token supplier failed").
			WithCause(err).
			WithProvider(a.Name())
	}

	payload, _ := json.Marshal(body)
	url := fmt.Sprintf("%s/v1beta/models/%s:generateVideos?key=%s", a.cfg.BaseURL, a.cfg.Model, key)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Handle{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var op veoOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return Handle{}, types.NewError(types.ErrTransient, "undecodable submit response").
			WithCause(err).
			WithProvider(a.Name())
	}
	if op.Name == "" {
		return Handle{}, types.NewError(types.ErrTransient, "submit response missing operation name").
			WithProvider(a.Name())
	}

	return Handle{Tier: a.Tier(), ID: op.Name}, nil
}

// Poll 查询长时操作状态。
func (a *VeoAdapter) Poll(ctx context.Context, h Handle) (PollStatus, error) {
	key, err := a.token(ctx)
	if err != nil {
		return PollStatus{
			State: StateFailed,
			Err: types.NewError(types.ErrPermissionDenied, "token supplier failed").
				WithCause(err).
				WithProvider(a.Name()),
		}, nil
	}

	url := fmt.Sprintf("%s/v1beta/%s?key=%s", a.cfg.BaseURL, h.ID, key)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PollStatus{}, fmt.Errorf("failed to create request: %w", err)
	}

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

	var op veoOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return PollStatus{
			State: StateFailed,
			Err: types.NewError(types.ErrTransient, "undecodable poll response").
				WithCause(err).
				WithProvider(a.Name()),
		}, nil
	}

	if op.Error != nil {
		return PollStatus{
			State: StateFailed,
			Err:   ClassifyTaskFailure(a.Name(), op.Error.Status, op.Error.Message),
		}, nil
	}
	if !op.Done {
		return PollStatus{State: StatePending}, nil
	}
	if len(op.Response.Predictions) == 0 {
		return PollStatus{
			State: StateFailed,
			Err: types.NewError(types.ErrTransient, "operation done without predictions").
				WithProvider(a.Name()),
		}, nil
	}

	pred := op.Response.Predictions[0]
	locator := pred.VideoURI
	if locator == "" {
		locator = b64LocatorPrefix + pred.Video
	}
	return PollStatus{State: StateDone, ResultLocator: locator}, nil
}

// Materialize 落地结果：内联 base64 直接解码，file URI 走下载。
func (a *VeoAdapter) Materialize(ctx context.Context, locator, destDir string) (string, error) {
	key, err := a.token(ctx)
	if err != nil {
		return "", types.NewError(types.ErrPermissionDenied, "token supplier failed").
			WithCause(err).
			WithProvider(a.Name())
	}
	headers := map[string]string{"x-goog-api-key": key}
	name := fmt.Sprintf("veo_%d.mp4", time.Now().UnixNano())
	return materializeLocator(ctx, a.client, a.Name(), locator, destDir, name, headers)
}
