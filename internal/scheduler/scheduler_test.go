package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mafzaal/d365fo-client-go/infrastructure/logging"
)

func newTestScheduler() *Scheduler {
	return New(logging.New("scheduler-test", "error", "json"))
}

func TestAddRetentionSweep_RunsOnSchedule(t *testing.T) {
	s := newTestScheduler()
	calls := make(chan int, 4)

	if err := s.AddRetentionSweep(context.Background(), "@every 20ms", func(ctx context.Context) (int, error) {
		calls <- 1
		return 1, nil
	}); err != nil {
		t.Fatalf("AddRetentionSweep() error = %v", err)
	}

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected the retention sweep to run at least once")
	}
}

func TestAddRetentionSweep_InvalidCronErrors(t *testing.T) {
	s := newTestScheduler()
	err := s.AddRetentionSweep(context.Background(), "not a cron expression", func(ctx context.Context) (int, error) {
		return 0, nil
	})
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestAddResync_RunsOnInterval(t *testing.T) {
	s := newTestScheduler()
	calls := make(chan error, 4)

	if err := s.AddResync(context.Background(), "20ms", func(ctx context.Context) error {
		calls <- errors.New("boom")
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("AddResync() error = %v", err)
	}

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected the resync job to run at least once")
	}
}

func TestStop_ReturnsWhenContextCancelled(t *testing.T) {
	s := newTestScheduler()
	var once sync.Once
	started := make(chan struct{})
	if err := s.AddRetentionSweep(context.Background(), "@every 10ms", func(ctx context.Context) (int, error) {
		once.Do(func() { close(started) })
		time.Sleep(300 * time.Millisecond)
		return 0, nil
	}); err != nil {
		t.Fatalf("AddRetentionSweep() error = %v", err)
	}

	s.Start()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Stop(ctx); err == nil {
		t.Fatal("expected Stop() to surface the cancelled context while a job is still running")
	}
}
