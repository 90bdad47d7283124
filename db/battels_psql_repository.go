package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"balltickets/entity"
)

const battelsColumns = `battels_id, owner_id, external_id, michaelmas_charges, hilary_charges, manual, updated_at`

type BattelsPostgresRepository struct {
	db Executor
}

func NewBattelsPostgresRepository(db Executor) BattelsPostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return BattelsPostgresRepository{db: db}
}

func (r BattelsPostgresRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Battels, error) {
	return getOne[entity.Battels](ctx, r.db, "battels",
		`SELECT `+battelsColumns+` FROM battels WHERE battels_id = $1 FOR UPDATE`, id)
}

func (r BattelsPostgresRepository) FindByOwner(ctx context.Context, owner uuid.UUID) (*entity.Battels, error) {
	return getOne[entity.Battels](ctx, r.db, "battels of",
		`SELECT `+battelsColumns+` FROM battels WHERE owner_id = $1 FOR UPDATE`, owner)
}

func (r BattelsPostgresRepository) Add(ctx context.Context, battels *entity.Battels) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO battels (`+battelsColumns+`)
		VALUES (:battels_id, :owner_id, :external_id, :michaelmas_charges, :hilary_charges, :manual, :updated_at)
	`, battels)
	if isErrorUniqueViolation(err) {
		return entity.ErrBattelsExists.WithMessage("%s already has a battels account", battels.OwnerID)
	}
	if err != nil {
		return fmt.Errorf("could not add battels %s: %w", battels.ID, err)
	}
	return nil
}

func (r BattelsPostgresRepository) Update(ctx context.Context, battels *entity.Battels) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE battels SET
			external_id = :external_id,
			michaelmas_charges = :michaelmas_charges,
			hilary_charges = :hilary_charges,
			manual = :manual,
			updated_at = NOW()
		WHERE battels_id = :battels_id
	`, battels)
	if err != nil {
		return fmt.Errorf("could not update battels %s: %w", battels.ID, err)
	}
	return expectOneRow(res, "battels", battels.ID)
}
