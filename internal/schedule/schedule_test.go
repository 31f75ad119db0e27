package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskRunsOnePerTick(t *testing.T) {
	ctx := context.Background()
	clock := NewManual()
	var runs atomic.Int32

	task := Start(ctx, clock, func(context.Context) { runs.Add(1) })

	// First cycle runs immediately; each Tick lets exactly one more start.
	for i := 0; i < 3; i++ {
		if err := clock.Tick(ctx); err != nil {
			t.Fatal(err)
		}
	}
	task.Stop()

	if got := runs.Load(); got < 3 || got > 4 {
		t.Errorf("Expected 3-4 cycles after 3 ticks, got %d", got)
	}
	if task.Cycles() != uint64(runs.Load()) {
		t.Errorf("Cycles() = %d, runs = %d", task.Cycles(), runs.Load())
	}
}

func TestTaskNeverOverlapsCycles(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	clock := NewInterval(time.Millisecond)
	defer clock.Stop()

	task := Start(context.Background(), clock, func(context.Context) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(3 * time.Millisecond) // slower than the clock
		inFlight.Add(-1)
	})
	time.Sleep(40 * time.Millisecond)
	task.Stop()

	if maxInFlight.Load() != 1 {
		t.Errorf("Expected at most one cycle in flight, saw %d", maxInFlight.Load())
	}
}

func TestStopIsSynchronous(t *testing.T) {
	clock := NewManual()
	var after atomic.Bool
	stopped := make(chan struct{})

	task := Start(context.Background(), clock, func(ctx context.Context) {
		select {
		case <-stopped:
			after.Store(true)
		default:
		}
	})
	task.Stop()
	close(stopped)

	select {
	case <-task.Done():
	default:
		t.Fatal("Done must be closed after Stop returns")
	}
	if after.Load() {
		t.Error("A cycle ran after Stop returned")
	}
}

func TestParentCancellationEndsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Start(ctx, NewManual(), func(context.Context) {})
	cancel()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit after parent cancellation")
	}
}
