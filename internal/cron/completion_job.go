package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/marketa-io/marketa-backend/internal/orders"
	"github.com/marketa-io/marketa-backend/pkg/logger"
)

// CompletionJobParams configure the order completion sweep.
type CompletionJobParams struct {
	Logger *logger.Logger
	Orders completionSweeper
}

type completionSweeper interface {
	SweepCompletions(ctx context.Context, now time.Time) (orders.SweepResult, error)
}

// NewCompletionJob builds the daily job that completes delivered shipments
// whose return window has elapsed.
func NewCompletionJob(params CompletionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders sweeper required")
	}
	return &completionJob{
		logg:   params.Logger,
		orders: params.Orders,
		now:    time.Now,
	}, nil
}

type completionJob struct {
	logg   *logger.Logger
	orders completionSweeper
	now    func() time.Time
}

func (j *completionJob) Name() string { return "order-completion" }

func (j *completionJob) Run(ctx context.Context) (int64, error) {
	result, err := j.orders.SweepCompletions(ctx, j.now().UTC())
	if err != nil {
		return result.ShopOrdersCompleted, fmt.Errorf("order completion sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"shop_orders_completed": result.ShopOrdersCompleted,
		"orders_completed":      result.OrdersCompleted,
	})
	j.logg.Info(logCtx, "order completion sweep done")
	return result.ShopOrdersCompleted, nil
}
