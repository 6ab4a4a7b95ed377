package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/videoflow/internal/clock"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, "")
}

func TestRedisStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := State{
		DailyCount:          7,
		DayStart:            time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		LastGenerationAt:    time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		ConsecutiveFailures: 2,
		MinInterval:         25 * time.Second,
	}
	require.NoError(t, store.Save(ctx, "veo", state))

	loaded, ok, err := store.Load(ctx, "veo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, loaded.DailyCount)
	assert.Equal(t, 2, loaded.ConsecutiveFailures)
	assert.Equal(t, 25*time.Second, loaded.MinInterval)
	assert.True(t, loaded.DayStart.Equal(state.DayStart))
}

func TestRedisStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	loaded, ok, err := store.Load(context.Background(), "runway")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, loaded)
}

// 进程重启后，同日快照应恢复已累计的配额消耗。
func TestTracker_RestoreSameDaySnapshot(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	clk := clock.NewFake(start)
	cfg := testConfig()

	first := NewTracker("veo", cfg, store, clk, zap.NewNop())
	first.RecordGeneration()
	first.RecordGeneration()

	// 模拟重启：新 Tracker 从 store 恢复
	second := NewTracker("veo", cfg, store, clock.NewFake(start.Add(time.Hour)), zap.NewNop())
	assert.Equal(t, 2, second.Snapshot().DailyCount)
}

func TestTracker_IgnoresStaleSnapshot(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := testConfig()

	first := NewTracker("veo", cfg, store, clock.NewFake(start), zap.NewNop())
	first.RecordGeneration()

	// 次日重启：隔日快照等价于零状态
	next := NewTracker("veo", cfg, store, clock.NewFake(start.Add(24*time.Hour)), zap.NewNop())
	assert.Equal(t, 0, next.Snapshot().DailyCount)
}
