package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketa-io/marketa-backend/internal/orders"
	"github.com/marketa-io/marketa-backend/pkg/logger"
)

type fakeCompletionSweeper struct {
	result orders.SweepResult
	err    error
	calls  int
	at     time.Time
}

func (f *fakeCompletionSweeper) SweepCompletions(_ context.Context, now time.Time) (orders.SweepResult, error) {
	f.calls++
	f.at = now
	return f.result, f.err
}

func TestCompletionJobRun(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	sweeper := &fakeCompletionSweeper{result: orders.SweepResult{ShopOrdersCompleted: 4, OrdersCompleted: 2}}
	job, err := NewCompletionJob(CompletionJobParams{Logger: logg, Orders: sweeper})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "order-completion" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	swept, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if swept != 4 {
		t.Fatalf("expected 4 swept rows, got %d", swept)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected 1 sweep call, got %d", sweeper.calls)
	}
	if sweeper.at.Location() != time.UTC {
		t.Fatalf("sweep time not in UTC")
	}
}

func TestCompletionJobWrapsError(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	sweeper := &fakeCompletionSweeper{err: errors.New("boom")}
	job, err := NewCompletionJob(CompletionJobParams{Logger: logg, Orders: sweeper})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error from failed sweep")
	}
}

func TestCompletionJobRequiresDeps(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	if _, err := NewCompletionJob(CompletionJobParams{Logger: logg}); err == nil {
		t.Fatalf("expected error without sweeper")
	}
	if _, err := NewCompletionJob(CompletionJobParams{Orders: &fakeCompletionSweeper{}}); err == nil {
		t.Fatalf("expected error without logger")
	}
}
