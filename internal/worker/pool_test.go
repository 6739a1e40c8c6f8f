package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_NeverExceedsLimit(t *testing.T) {
	tests := []struct {
		size, n, want int
	}{
		{size: 2, n: 10, want: 2},
		{size: 8, n: 3, want: 3},
		{size: 1, n: 5, want: 1},
	}

	for _, tt := range tests {
		p := New(tt.size)
		var running, maxSeen atomic.Int64
		p.Run(context.Background(), tt.n, func(ctx context.Context, i int) error {
			now := running.Add(1)
			for {
				m := maxSeen.Load()
				if now <= m || maxSeen.CompareAndSwap(m, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		})

		if got := int(maxSeen.Load()); got != tt.want {
			t.Errorf("size=%d n=%d: expected peak %d, got %d", tt.size, tt.n, tt.want, got)
		}
		if p.Peak() != tt.want {
			t.Errorf("size=%d n=%d: expected pool peak %d, got %d", tt.size, tt.n, tt.want, p.Peak())
		}
		if p.Active() != 0 {
			t.Errorf("Expected no active tasks after Run, got %d", p.Active())
		}
	}
}

func TestRun_IsolatesFailuresAndPanics(t *testing.T) {
	p := New(3)
	boom := errors.New("boom")
	var completed atomic.Int64

	errs := p.Run(context.Background(), 6, func(ctx context.Context, i int) error {
		switch i {
		case 1:
			return boom
		case 4:
			panic("kaboom")
		}
		completed.Add(1)
		return nil
	})

	if completed.Load() != 4 {
		t.Errorf("Expected 4 healthy tasks to complete, got %d", completed.Load())
	}
	if !errors.Is(errs[1], boom) {
		t.Errorf("Expected errs[1] boom, got %v", errs[1])
	}
	var pe *PanicError
	if !errors.As(errs[4], &pe) || pe.Value != "kaboom" {
		t.Errorf("Expected PanicError at index 4, got %v", errs[4])
	}
	for _, i := range []int{0, 2, 3, 5} {
		if errs[i] != nil {
			t.Errorf("Expected errs[%d] nil, got %v", i, errs[i])
		}
	}
}

func TestRun_PermitReleasedAfterPanic(t *testing.T) {
	p := New(1)
	var ran atomic.Int64
	errs := p.Run(context.Background(), 3, func(ctx context.Context, i int) error {
		ran.Add(1)
		if i == 0 {
			panic("first")
		}
		return nil
	})
	if ran.Load() != 3 {
		t.Errorf("Expected every task to run, got %d", ran.Load())
	}
	if errs[0] == nil {
		t.Error("Expected panic error for task 0")
	}
}

func TestRun_CancelledTasksReportContextError(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	errs := make(chan []error, 1)
	go func() {
		errs <- p.Run(ctx, 4, func(ctx context.Context, i int) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	cancel()

	select {
	case got := <-errs:
		for i, err := range got {
			if !errors.Is(err, context.Canceled) {
				t.Errorf("errs[%d]: expected context.Canceled, got %v", i, err)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if p.Active() != 0 {
		t.Errorf("Expected permits released, got %d active", p.Active())
	}
}

func TestRun_Empty(t *testing.T) {
	if errs := New(2).Run(context.Background(), 0, nil); len(errs) != 0 {
		t.Errorf("Expected no results, got %v", errs)
	}
}
