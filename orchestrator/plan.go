package orchestrator

import (
	"math"

	"github.com/BaSui01/videoflow/types"
)

// ClipSpec 片段计划中的一项：序号与目标时长。
type ClipSpec struct {
	Index    int     `json:"index"`
	Duration float64 `json:"duration"`
}

// PlanClips 把总时长切分为固定长度的片段序列。片段数向上取整，
// 末段缩短为余数；余数不足 1 秒时并入前一段，避免产生无意义的碎片。
// 例：总长 20 秒、段长 8 秒，得到 8/8/4 三段。
func PlanClips(totalDuration, clipLength float64) ([]ClipSpec, error) {
	if totalDuration <= 0 {
		return nil, types.NewError(types.ErrInvalidArgument, "total duration must be positive")
	}
	if clipLength <= 0 {
		return nil, types.NewError(types.ErrInvalidArgument, "clip length must be positive")
	}

	n := int(math.Ceil(totalDuration / clipLength))
	specs := make([]ClipSpec, 0, n)
	remaining := totalDuration
	for i := 0; i < n; i++ {
		d := clipLength
		if remaining < clipLength {
			d = remaining
		}
		specs = append(specs, ClipSpec{Index: i, Duration: d})
		remaining -= d
	}

	// 末段不足 1 秒时并入前一段
	last := len(specs) - 1
	if last > 0 && specs[last].Duration < 1 {
		specs[last-1].Duration += specs[last].Duration
		specs = specs[:last]
	}
	return specs, nil
}
