package datamanager

import (
	"context"
	"sync"

	"github.com/genome-tiles/server/internal/genome"
)

// Result is the outcome of a data request. Cache hits are ready at once;
// fetches resolve exactly once when the payload arrives.
type Result struct {
	done chan struct{}
	once sync.Once
	data *genome.Dataset
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Ready returns a resolved result.
func Ready(d *genome.Dataset) *Result {
	r := newResult()
	r.resolve(d)
	return r
}

func (r *Result) resolve(d *genome.Dataset) {
	r.once.Do(func() {
		r.data = d
		close(r.done)
	})
}

// Done is closed when the payload is available.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Ready reports whether the payload is available.
func (r *Result) Ready() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Dataset returns the payload, or nil while the request is in flight.
func (r *Result) Dataset() *genome.Dataset {
	if !r.Ready() {
		return nil
	}
	return r.data
}

// Wait blocks until the payload is available or ctx ends.
func (r *Result) Wait(ctx context.Context) (*genome.Dataset, error) {
	select {
	case <-r.done:
		return r.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
