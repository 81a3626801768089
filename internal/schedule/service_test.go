package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterValidates(t *testing.T) {
	svc := NewService(nil)
	noop := TaskFunc(func(context.Context) error { return nil })

	if err := svc.Register("", "@every 1m", noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := svc.Register("sweep", "not a pattern", noop); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if err := svc.Register("sweep", "*/30 * * * * *", noop); err != nil {
		t.Fatalf("register with seconds field: %v", err)
	}
	if err := svc.Register("sweep", "@every 1m", noop); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestTriggerRecordsRuns(t *testing.T) {
	svc := NewService(nil)
	calls := 0
	fail := errors.New("boom")
	if err := svc.Register("sweep", "@every 1h", TaskFunc(func(context.Context) error {
		calls++
		if calls == 2 {
			return fail
		}
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.Trigger(context.Background(), "sweep"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := svc.Trigger(context.Background(), "sweep"); !errors.Is(err, fail) {
		t.Fatalf("expected task error, got %v", err)
	}
	jobs := svc.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	if jobs[0].Runs != 2 || jobs[0].Failures != 1 || jobs[0].LastErr != "boom" {
		t.Fatalf("unexpected job state: %+v", jobs[0])
	}

	if err := svc.Trigger(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	svc.Remove("sweep")
	if len(svc.Jobs()) != 0 {
		t.Fatal("expected job removed")
	}
}

func TestStartStop(t *testing.T) {
	svc := NewService(nil)
	ran := make(chan struct{}, 1)
	if err := svc.Register("tick", "@every 1s", TaskFunc(func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
