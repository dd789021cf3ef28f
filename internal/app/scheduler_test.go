package app_test

import (
	"context"
	"testing"
	"time"

	"replybot/internal/app"
)

func TestScheduler_RunsImmediatelyAndTicks(t *testing.T) {
	src := &fakeSource{reviews: twoReviews()}
	svc := app.NewReconcileService(src, &fakeGen{}, &fakePoster{}, &fakeStore{}, nil, &fakeNotifier{})
	sched := app.NewScheduler(svc, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for src.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 cycles, got %d", src.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestScheduler_SkipsTickWhileCycleRuns(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{reviews: twoReviews(), block: block}
	svc := app.NewReconcileService(src, &fakeGen{}, &fakePoster{}, &fakeStore{}, nil, &fakeNotifier{})
	sched := app.NewScheduler(svc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	// Let several ticks pass while the first cycle is stuck in fetch;
	// none of them may start a second concurrent fetch.
	time.Sleep(100 * time.Millisecond)
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected a single in-flight cycle, got %d fetches", n)
	}
	close(block)
}
