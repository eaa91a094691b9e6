package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobs(t *testing.T) {
	var count, failures int32
	sched := NewScheduler(10*time.Millisecond, func(error) {
		atomic.AddInt32(&failures, 1)
	})
	sched.Add(func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return errors.New("probe failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sched.Start(ctx)
	if c := atomic.LoadInt32(&count); c == 0 {
		t.Fatalf("expected jobs to run, got %d", c)
	}
	if f := atomic.LoadInt32(&failures); f != atomic.LoadInt32(&count) {
		t.Fatalf("every failed job must reach onError: runs=%d failures=%d", count, f)
	}
}
