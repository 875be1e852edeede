package voucher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/marketa-io/marketa-backend/pkg/db/models"
	"github.com/marketa-io/marketa-backend/pkg/enums"
	pkgerrors "github.com/marketa-io/marketa-backend/pkg/errors"
)

// Service defines voucher redemption operations. Redeem and Restore run
// against the caller's transaction so their quantity moves commit or roll
// back with the order mutation that triggered them.
type Service interface {
	Quote(voucher *models.Voucher, baseCents int, now time.Time) (int, error)
	Redeem(ctx context.Context, tx *gorm.DB, voucherID uuid.UUID, baseCents int, now time.Time) (*models.Voucher, int, error)
	Restore(ctx context.Context, tx *gorm.DB, voucherID uuid.UUID) error
	SweepWindows(ctx context.Context, now time.Time) (SweepResult, error)
}

// SweepResult reports how many vouchers an activation sweep flipped.
type SweepResult struct {
	Activated   int64
	Deactivated int64
}

type service struct {
	repo Repository
}

// NewService wires a voucher service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("voucher repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Quote(voucher *models.Voucher, baseCents int, now time.Time) (int, error) {
	if voucher == nil {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
	}
	if baseCents < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "base amount must not be negative")
	}
	if !voucher.IsActive {
		return 0, pkgerrors.New(pkgerrors.CodeVoucherNotActive, "voucher is not active")
	}
	if voucher.Quantity <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeVoucherExhausted, "voucher has no redemptions left")
	}
	if now.Before(voucher.StartDate) {
		return 0, pkgerrors.New(pkgerrors.CodeVoucherNotActive, "voucher window has not opened")
	}
	if now.After(voucher.EndDate) {
		return 0, pkgerrors.New(pkgerrors.CodeVoucherExpired, "voucher window has closed")
	}
	if voucher.MinSpendCents > 0 && baseCents < voucher.MinSpendCents {
		return 0, pkgerrors.New(pkgerrors.CodeMinSpendNotMet, "spend is below the voucher minimum")
	}

	discount, err := computeDiscount(voucher.Method, voucher.Value, baseCents)
	if err != nil {
		return 0, err
	}
	if voucher.MaxValueCents > 0 && discount > voucher.MaxValueCents {
		discount = voucher.MaxValueCents
	}
	if discount > baseCents {
		discount = baseCents
	}
	return discount, nil
}

func (s *service) Redeem(ctx context.Context, tx *gorm.DB, voucherID uuid.UUID, baseCents int, now time.Time) (*models.Voucher, int, error) {
	if voucherID == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "voucher id required")
	}

	repo := s.repo.WithTx(tx)
	voucher, err := repo.FindByID(ctx, voucherID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, 0, pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		}
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "load voucher")
	}

	discount, err := s.Quote(voucher, baseCents, now)
	if err != nil {
		return nil, 0, err
	}

	affected, err := repo.DecrementQuantity(ctx, voucher.ID, voucher.Version)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "consume voucher")
	}
	if affected == 0 {
		return nil, 0, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "voucher was modified concurrently")
	}

	voucher.Quantity--
	voucher.Version++
	return voucher, discount, nil
}

func (s *service) Restore(ctx context.Context, tx *gorm.DB, voucherID uuid.UUID) error {
	if voucherID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "voucher id required")
	}

	affected, err := s.repo.WithTx(tx).IncrementQuantity(ctx, voucherID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "restore voucher")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
	}
	return nil
}

func (s *service) SweepWindows(ctx context.Context, now time.Time) (SweepResult, error) {
	activated, err := s.repo.ActivateInWindow(ctx, now)
	if err != nil {
		return SweepResult{}, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "activate vouchers")
	}
	deactivated, err := s.repo.DeactivateOutOfWindow(ctx, now)
	if err != nil {
		return SweepResult{Activated: activated}, pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "deactivate vouchers")
	}
	return SweepResult{Activated: activated, Deactivated: deactivated}, nil
}

func computeDiscount(method enums.VoucherMethod, value, baseCents int) (int, error) {
	switch method {
	case enums.VoucherMethodFixed:
		return value, nil
	case enums.VoucherMethodPercent:
		if value < 0 || value > 100 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "percent value must be between 0 and 100")
		}
		discount := decimal.NewFromInt(int64(baseCents)).
			Mul(decimal.NewFromInt(int64(value))).
			Div(decimal.NewFromInt(100)).
			Round(0)
		return int(discount.IntPart()), nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid voucher method %q", method))
	}
}
