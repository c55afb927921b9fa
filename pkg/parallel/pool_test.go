package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_Run(t *testing.T) {
	pool := NewPool[int, int](DefaultPoolConfig())

	inputs := []int{1, 2, 3, 4, 5}
	results := pool.Run(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
		return input * 2, nil
	})

	if len(results) != len(inputs) {
		t.Fatalf("Expected %d results, got %d", len(inputs), len(results))
	}
	for i, r := range results {
		if r.Err != nil || r.Skipped {
			t.Errorf("Unexpected outcome for input %d: err=%v skipped=%v", inputs[i], r.Err, r.Skipped)
		}
		if r.Value != inputs[i]*2 {
			t.Errorf("Expected %d, got %d", inputs[i]*2, r.Value)
		}
	}

	if got := pool.Run(context.Background(), nil, nil); got != nil {
		t.Errorf("Expected nil results for no inputs, got %v", got)
	}
}

func TestPool_BoundsWorkers(t *testing.T) {
	pool := NewPool[int, struct{}](PoolConfig{}.WithWorkers(2))

	var running, peak atomic.Int64
	inputs := make([]int, 20)
	pool.Run(context.Background(), inputs, func(ctx context.Context, _ int) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})

	if peak.Load() > 2 {
		t.Errorf("Expected at most 2 concurrent workers, saw %d", peak.Load())
	}
}

func TestPool_CanceledContextSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewPool[int, int](DefaultPoolConfig()).Run(ctx, []int{1, 2, 3}, func(ctx context.Context, input int) (int, error) {
		t.Error("No item should run on a canceled context")
		return input, nil
	})
	for _, r := range results {
		if !r.Skipped {
			t.Errorf("Expected input %d to be skipped", r.Input)
		}
	}
}

func TestPool_Timeout(t *testing.T) {
	config := PoolConfig{MaxWorkers: 1}.WithTimeout(20 * time.Millisecond)
	results := NewPool[int, int](config).Run(context.Background(), make([]int, 10), func(ctx context.Context, input int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return input, nil
		}
	})

	if results[0].Err == nil {
		t.Error("Expected the first item to see the timeout")
	}
	if !results[len(results)-1].Skipped {
		t.Error("Expected the last item to be skipped after the timeout")
	}
}

func TestForEach(t *testing.T) {
	var sum atomic.Int64
	items := []int64{1, 2, 3, 4, 5}

	processed, err := ForEach(context.Background(), items, DefaultPoolConfig(), func(ctx context.Context, item int64) error {
		sum.Add(item)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if processed != 5 {
		t.Errorf("Expected 5 processed, got %d", processed)
	}
	if sum.Load() != 15 {
		t.Errorf("Expected sum 15, got %d", sum.Load())
	}
}

func TestForEach_StopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	var calls atomic.Int64
	processed, err := ForEach(context.Background(), items, PoolConfig{MaxWorkers: 1}, func(ctx context.Context, item int) error {
		calls.Add(1)
		if item == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if processed != 3 {
		t.Errorf("Expected 3 processed before the error, got %d", processed)
	}
	if calls.Load() != 4 {
		t.Errorf("Expected no items after the failing one, got %d calls", calls.Load())
	}
}

func TestForEach_Empty(t *testing.T) {
	processed, err := ForEach(context.Background(), []string(nil), DefaultPoolConfig(), func(ctx context.Context, item string) error {
		return errors.New("unexpected")
	})
	if processed != 0 || err != nil {
		t.Errorf("Expected nothing to run, got processed=%d err=%v", processed, err)
	}
}

func TestProgressTracker(t *testing.T) {
	var mu sync.Mutex
	var lastCompleted, lastTotal int64

	tracker := NewProgressTracker(100, func(completed, total int64) {
		mu.Lock()
		defer mu.Unlock()
		lastCompleted = completed
		lastTotal = total
	}, 5*time.Millisecond)

	tracker.Start(context.Background())
	for i := 0; i < 50; i++ {
		tracker.Increment()
	}
	time.Sleep(30 * time.Millisecond)
	tracker.Stop()
	tracker.Stop()

	mu.Lock()
	defer mu.Unlock()
	if lastCompleted != 50 {
		t.Errorf("Expected lastCompleted=50, got %d", lastCompleted)
	}
	if lastTotal != 100 {
		t.Errorf("Expected lastTotal=100, got %d", lastTotal)
	}
	if tracker.Completed() != 50 {
		t.Errorf("Expected Completed()=50, got %d", tracker.Completed())
	}
}

func BenchmarkPool(b *testing.B) {
	pool := NewPool[int, int](DefaultPoolConfig())
	inputs := make([]int, 1000)
	for i := range inputs {
		inputs[i] = i
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Run(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
			return input * 2, nil
		})
	}
}
