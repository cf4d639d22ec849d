package source

import (
	"context"
	"time"
)

// Poll calls fn every interval until done reports true for its result,
// fn fails, or ctx ends. The first call happens immediately.
func Poll[T any](ctx context.Context, interval time.Duration, fn func(context.Context) (T, error), done func(T) bool) (T, error) {
	for {
		v, err := fn(ctx)
		if err != nil || done(v) {
			return v, err
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, ctx.Err()
		case <-timer.C:
		}
	}
}
