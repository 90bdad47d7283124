package db

import (
	"context"
	"fmt"

	"balltickets/entity"
)

const voucherColumns = `voucher_id, code, expires_at, kind, value, scope, single_use, used, used_by`

type VouchersPostgresRepository struct {
	db Executor
}

func NewVouchersPostgresRepository(db Executor) VouchersPostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return VouchersPostgresRepository{db: db}
}

func (r VouchersPostgresRepository) FindByCode(ctx context.Context, code string) (*entity.Voucher, error) {
	return getOne[entity.Voucher](ctx, r.db, "voucher",
		`SELECT `+voucherColumns+` FROM vouchers WHERE code = $1 FOR UPDATE`, code)
}

func (r VouchersPostgresRepository) Add(ctx context.Context, voucher *entity.Voucher) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO vouchers (`+voucherColumns+`)
		VALUES (:voucher_id, :code, :expires_at, :kind, :value, :scope, :single_use, :used, :used_by)
	`, voucher)
	if isErrorUniqueViolation(err) {
		return entity.ErrInvalidVoucher.WithMessage("voucher %s already exists", voucher.Code)
	}
	if err != nil {
		return fmt.Errorf("could not add voucher %s: %w", voucher.Code, err)
	}
	return nil
}

func (r VouchersPostgresRepository) Update(ctx context.Context, voucher *entity.Voucher) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE vouchers SET
			expires_at = :expires_at,
			used = :used,
			used_by = :used_by
		WHERE voucher_id = :voucher_id
	`, voucher)
	if err != nil {
		return fmt.Errorf("could not update voucher %s: %w", voucher.Code, err)
	}
	return expectOneRow(res, "voucher", voucher.Code)
}
