package backend

import (
	"context"

	"github.com/BaSui01/videoflow/types"
)

// TokenSupplier 按需提供服务商凭证。凭证的获取与刷新在上游完成，
// 适配器只在发起请求时取用。
type TokenSupplier func(ctx context.Context) (string, error)

// StaticToken 返回固定凭证的 TokenSupplier。
func StaticToken(token string) TokenSupplier {
	return func(context.Context) (string, error) { return token, nil }
}

// Handle 指向一个进行中的生成任务（operation name / task id）。
type Handle struct {
	Tier types.BackendTier
	ID   string
}

// PollState 轮询结果状态。
type PollState int

const (
	// StatePending 任务仍在执行。
	StatePending PollState = iota
	// StateDone 任务完成，ResultLocator 可供 Materialize 使用。
	StateDone
	// StateFailed 本次尝试失败，Err 给出归一化的失败类别。
	StateFailed
)

// PollStatus 单次轮询的结果。网络抖动等瞬时故障不以 error 形式抛出，
// 而是归一化为 StateFailed + TRANSIENT，交由回退链区分
// “层内重试”与“换层”。
type PollStatus struct {
	State         PollState
	ResultLocator string
	Err           *types.Error
}

// Capabilities 层级能力声明。
type Capabilities struct {
	// MaxDuration 该服务商支持的单段最大时长（秒）。
	MaxDuration float64
	// MinDuration 单段最小时长（秒），0 表示不限。
	MinDuration float64
	// SupportsContinuity 是否支持以种子图像续接画面。
	SupportsContinuity bool
	// SupportsAudio 是否支持生成音频。
	SupportsAudio bool
}

// Adapter 各后端层级的统一契约：提交任务、轮询完成、落地为本地文件。
// 实现差异限于传输与载荷形态；错误必须在适配器边界归一化为
// types.ErrorCode，回退链据此做与层级无关的决策。
type Adapter interface {
	// Name 服务商名称。
	Name() string

	// Tier 所处层级。
	Tier() types.BackendTier

	// Capabilities 返回能力声明。
	Capabilities() Capabilities

	// Submit 提交生成任务，返回任务句柄。
	Submit(ctx context.Context, req types.GenerationRequest) (Handle, error)

	// Poll 查询任务状态。可安全重复调用；瞬时网络错误不抛出，
	// 归一化进 PollStatus。仅在 ctx 取消时返回 error。
	Poll(ctx context.Context, h Handle) (PollStatus, error)

	// Materialize 将结果定位符落地为 destDir 下的本地文件，
	// 返回文件路径。保证文件存在且非空。
	Materialize(ctx context.Context, locator, destDir string) (string, error)
}
