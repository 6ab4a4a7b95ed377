package quota

import (
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/internal/clock"
	"github.com/BaSui01/videoflow/types"
)

// Registry 按层级持有共享的 Tracker。所有指向同一后端的 ClipPlan
// 共用其中的同一个 Tracker 实例。
type Registry struct {
	trackers map[types.BackendTier]*Tracker
}

// NewRegistry 为每个配置的层级构建 Tracker。
func NewRegistry(configs map[types.BackendTier]Config, store Store, clk clock.Clock, logger *zap.Logger) *Registry {
	trackers := make(map[types.BackendTier]*Tracker, len(configs))
	for tier, cfg := range configs {
		trackers[tier] = NewTracker(tier.String(), cfg, store, clk, logger)
	}
	return &Registry{trackers: trackers}
}

// Tracker 返回指定层级的跟踪器；未配置的层级返回 nil。
func (r *Registry) Tracker(tier types.BackendTier) *Tracker {
	return r.trackers[tier]
}
