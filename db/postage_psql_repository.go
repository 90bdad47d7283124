package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"balltickets/entity"
)

const postageColumns = `postage_id, owner_id, method, price, address, paid, posted, cancelled, created_at`

type PostagePostgresRepository struct {
	db Executor
}

func NewPostagePostgresRepository(db Executor) PostagePostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return PostagePostgresRepository{db: db}
}

func (r PostagePostgresRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Postage, error) {
	return getOne[entity.Postage](ctx, r.db, "postage",
		`SELECT `+postageColumns+` FROM postage WHERE postage_id = $1 FOR UPDATE`, id)
}

func (r PostagePostgresRepository) Add(ctx context.Context, postage *entity.Postage) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO postage (`+postageColumns+`)
		VALUES (:postage_id, :owner_id, :method, :price, :address, :paid, :posted, :cancelled, :created_at)
	`, postage)
	if err != nil {
		return fmt.Errorf("could not add postage %s: %w", postage.ID, err)
	}
	return nil
}

func (r PostagePostgresRepository) Update(ctx context.Context, postage *entity.Postage) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE postage SET
			address = :address,
			paid = :paid,
			posted = :posted,
			cancelled = :cancelled
		WHERE postage_id = :postage_id
	`, postage)
	if err != nil {
		return fmt.Errorf("could not update postage %s: %w", postage.ID, err)
	}
	return expectOneRow(res, "postage", postage.ID)
}

const adminFeeColumns = `admin_fee_id, charged_to, created_by, amount, reason, paid, created_at`

type AdminFeesPostgresRepository struct {
	db Executor
}

func NewAdminFeesPostgresRepository(db Executor) AdminFeesPostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return AdminFeesPostgresRepository{db: db}
}

func (r AdminFeesPostgresRepository) Get(ctx context.Context, id uuid.UUID) (*entity.AdminFee, error) {
	return getOne[entity.AdminFee](ctx, r.db, "admin fee",
		`SELECT `+adminFeeColumns+` FROM admin_fees WHERE admin_fee_id = $1 FOR UPDATE`, id)
}

func (r AdminFeesPostgresRepository) Add(ctx context.Context, fee *entity.AdminFee) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO admin_fees (`+adminFeeColumns+`)
		VALUES (:admin_fee_id, :charged_to, :created_by, :amount, :reason, :paid, :created_at)
	`, fee)
	if err != nil {
		return fmt.Errorf("could not add admin fee %s: %w", fee.ID, err)
	}
	return nil
}

func (r AdminFeesPostgresRepository) Update(ctx context.Context, fee *entity.AdminFee) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE admin_fees SET paid = :paid WHERE admin_fee_id = :admin_fee_id
	`, fee)
	if err != nil {
		return fmt.Errorf("could not update admin fee %s: %w", fee.ID, err)
	}
	return expectOneRow(res, "admin fee", fee.ID)
}
