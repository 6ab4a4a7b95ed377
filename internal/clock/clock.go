// Package clock provides an injectable time source so that backoff and
// polling logic can be simulated instantly in tests instead of waiting
// on the wall clock.
package clock

import (
	"context"
	"time"
)

// Clock 时间源抽象。业务代码一律通过 Clock 读取时间与休眠，
// 不直接调用 time.Now / time.Sleep。
type Clock interface {
	// Now 返回当前时间。
	Now() time.Time

	// Sleep 等待 d 时长，期间监听 ctx 取消。
	// 被取消时返回 ctx.Err()，否则返回 nil。
	Sleep(ctx context.Context, d time.Duration) error
}

// Real returns the wall-clock implementation.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
