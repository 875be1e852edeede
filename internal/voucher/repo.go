package voucher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marketa-io/marketa-backend/internal/repo"
	"github.com/marketa-io/marketa-backend/pkg/db/models"
)

// Repository manages persistence for vouchers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, voucher *models.Voucher) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	FindByCode(ctx context.Context, code string) (*models.Voucher, error)
	// DecrementQuantity conditionally consumes one redemption. The update
	// only lands when the stored version still matches; it returns the
	// number of rows affected so the caller can detect a lost race.
	DecrementQuantity(ctx context.Context, id uuid.UUID, version int64) (int64, error)
	// IncrementQuantity returns one redemption unconditionally. Compensating
	// moves must not fail on version races, so only the row's existence is
	// checked.
	IncrementQuantity(ctx context.Context, id uuid.UUID) (int64, error)
	ActivateInWindow(ctx context.Context, now time.Time) (int64, error)
	DeactivateOutOfWindow(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a voucher repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, voucher *models.Voucher) error {
	repo.EnsureID(&voucher.ID)
	return r.base.DB(ctx).Create(voucher).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	var voucher models.Voucher
	if err := r.base.DB(ctx).First(&voucher, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	if err := r.base.DB(ctx).First(&voucher, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *repository) DecrementQuantity(ctx context.Context, id uuid.UUID, version int64) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE vouchers
		SET quantity = quantity - 1,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ? AND quantity > 0
	`, id, version)
	return res.RowsAffected, res.Error
}

func (r *repository) IncrementQuantity(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE vouchers
		SET quantity = quantity + 1,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return res.RowsAffected, res.Error
}

func (r *repository) ActivateInWindow(ctx context.Context, now time.Time) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE vouchers
		SET is_active = ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE is_active = ?
			AND start_date <= ?
			AND end_date >= ?
			AND quantity > 0
	`, true, false, now, now)
	return res.RowsAffected, res.Error
}

func (r *repository) DeactivateOutOfWindow(ctx context.Context, now time.Time) (int64, error) {
	res := r.base.DB(ctx).Exec(`
		UPDATE vouchers
		SET is_active = ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE is_active = ?
			AND (start_date > ? OR end_date < ? OR quantity <= 0)
	`, false, true, now, now)
	return res.RowsAffected, res.Error
}
