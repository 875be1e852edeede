package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketa-io/marketa-backend/internal/voucher"
	"github.com/marketa-io/marketa-backend/pkg/logger"
)

type fakeWindowSweeper struct {
	result voucher.SweepResult
	err    error
	calls  int
}

func (f *fakeWindowSweeper) SweepWindows(_ context.Context, _ time.Time) (voucher.SweepResult, error) {
	f.calls++
	return f.result, f.err
}

func TestVoucherWindowJobRun(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	sweeper := &fakeWindowSweeper{result: voucher.SweepResult{Activated: 2, Deactivated: 3}}
	job, err := NewVoucherWindowJob(VoucherWindowJobParams{Logger: logg, Vouchers: sweeper})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "voucher-window" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	swept, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if swept != 5 {
		t.Fatalf("expected 5 swept rows, got %d", swept)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected 1 sweep call, got %d", sweeper.calls)
	}
}

func TestVoucherWindowJobWrapsError(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	sweeper := &fakeWindowSweeper{err: errors.New("boom")}
	job, err := NewVoucherWindowJob(VoucherWindowJobParams{Logger: logg, Vouchers: sweeper})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error from failed sweep")
	}
}
