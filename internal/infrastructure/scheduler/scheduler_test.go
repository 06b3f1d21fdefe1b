package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestRunRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	s, err := New(nil, map[string]Task{
		"broken": {Schedule: "not a cron", Run: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Run(ctx); err == nil {
		t.Fatal("Run() should fail for an invalid cron expression")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, err := New(nil, map[string]Task{
		"disabled": {Schedule: "", Run: func(context.Context) error { return nil }},
		"every5m":  {Schedule: "*/5 * * * *", Run: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
