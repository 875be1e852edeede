package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/marketa-io/marketa-backend/internal/voucher"
	"github.com/marketa-io/marketa-backend/pkg/logger"
)

// VoucherWindowJobParams configure the voucher activation sweep.
type VoucherWindowJobParams struct {
	Logger   *logger.Logger
	Vouchers windowSweeper
}

type windowSweeper interface {
	SweepWindows(ctx context.Context, now time.Time) (voucher.SweepResult, error)
}

// NewVoucherWindowJob builds the hourly job that flips voucher IsActive flags
// as their start and end dates pass.
func NewVoucherWindowJob(params VoucherWindowJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Vouchers == nil {
		return nil, fmt.Errorf("voucher sweeper required")
	}
	return &voucherWindowJob{
		logg:     params.Logger,
		vouchers: params.Vouchers,
		now:      time.Now,
	}, nil
}

type voucherWindowJob struct {
	logg     *logger.Logger
	vouchers windowSweeper
	now      func() time.Time
}

func (j *voucherWindowJob) Name() string { return "voucher-window" }

func (j *voucherWindowJob) Run(ctx context.Context) (int64, error) {
	result, err := j.vouchers.SweepWindows(ctx, j.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("voucher window sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"activated":   result.Activated,
		"deactivated": result.Deactivated,
	})
	j.logg.Info(logCtx, "voucher window sweep done")
	return result.Activated + result.Deactivated, nil
}
