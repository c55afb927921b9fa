// Package parallel runs independent work items on a bounded set of
// goroutines.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// MaxWorkers bounds the concurrent workers.
	// Default: NumCPU, between 2 and 8.
	MaxWorkers int

	// Timeout bounds the whole run; 0 means none.
	Timeout time.Duration
}

// DefaultPoolConfig returns the default configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a copy using n workers; n <= 0 keeps the default.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	if n > 0 {
		c.MaxWorkers = n
	}
	return c
}

// WithTimeout returns a copy with the given timeout.
func (c PoolConfig) WithTimeout(d time.Duration) PoolConfig {
	c.Timeout = d
	return c
}

// Result is the outcome of one item.
type Result[T any, R any] struct {
	Input    T
	Value    R
	Err      error
	Duration time.Duration
	// Skipped is set for items never started because the run was
	// canceled.
	Skipped bool
}

// Pool runs a function over a slice of inputs.
type Pool[T any, R any] struct {
	config PoolConfig
}

// NewPool creates a pool.
func NewPool[T any, R any](config PoolConfig) *Pool[T, R] {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	return &Pool[T, R]{config: config}
}

// Run calls fn for every input and returns the results in input order.
// Items not started before ctx is done are marked Skipped.
func (p *Pool[T, R]) Run(ctx context.Context, inputs []T, fn func(ctx context.Context, input T) (R, error)) []Result[T, R] {
	if len(inputs) == 0 {
		return nil
	}
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	results := make([]Result[T, R], len(inputs))
	for i, in := range inputs {
		results[i] = Result[T, R]{Input: in, Skipped: true}
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < min(p.config.MaxWorkers, len(inputs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= len(inputs) || ctx.Err() != nil {
					return
				}
				start := time.Now()
				v, err := fn(ctx, inputs[i])
				results[i] = Result[T, R]{Input: inputs[i], Value: v, Err: err, Duration: time.Since(start)}
			}
		}()
	}
	wg.Wait()
	return results
}

// ForEach calls fn for every item and stops handing out items after the
// first error, which it returns with the number of items that succeeded.
func ForEach[T any](ctx context.Context, items []T, config PoolConfig, fn func(ctx context.Context, item T) error) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var processed atomic.Int64
	var once sync.Once
	var first error
	NewPool[T, struct{}](config).Run(ctx, items, func(ctx context.Context, item T) (struct{}, error) {
		if err := fn(ctx, item); err != nil {
			once.Do(func() {
				first = err
				cancel()
			})
			return struct{}{}, err
		}
		processed.Add(1)
		return struct{}{}, nil
	})
	if first == nil {
		// A parent cancellation or the pool timeout.
		if err := ctx.Err(); err != nil && processed.Load() < int64(len(items)) {
			first = err
		}
	}
	return processed.Load(), first
}

// ProgressTracker reports the completed count on an interval.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	callback  func(completed, total int64)
	interval  time.Duration
	stopCh    chan struct{}
	stopped   atomic.Bool
	done      sync.WaitGroup
}

// NewProgressTracker creates a tracker for total items.
func NewProgressTracker(total int64, callback func(completed, total int64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProgressTracker{
		total:    total,
		callback: callback,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start reports progress from a background goroutine until Stop or ctx
// is done.
func (pt *ProgressTracker) Start(ctx context.Context) {
	pt.done.Add(1)
	go func() {
		defer pt.done.Done()
		ticker := time.NewTicker(pt.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pt.stopCh:
				return
			case <-ticker.C:
				if pt.callback != nil {
					pt.callback(pt.completed.Load(), pt.total)
				}
			}
		}
	}()
}

// Increment records one completed item.
func (pt *ProgressTracker) Increment() {
	pt.completed.Add(1)
}

// Stop ends reporting and waits for the reporter to exit.
func (pt *ProgressTracker) Stop() {
	if pt.stopped.CompareAndSwap(false, true) {
		close(pt.stopCh)
	}
	pt.done.Wait()
}

// Completed returns the completed count.
func (pt *ProgressTracker) Completed() int64 {
	return pt.completed.Load()
}
