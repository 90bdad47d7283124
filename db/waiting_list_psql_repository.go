package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"balltickets/entity"
)

type WaitingListPostgresRepository struct {
	db Executor
}

func NewWaitingListPostgresRepository(db Executor) WaitingListPostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return WaitingListPostgresRepository{db: db}
}

func (r WaitingListPostgresRepository) Add(ctx context.Context, entry *entity.WaitingEntry) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO waiting_list (waiting_id, owner_id, quantity, joined_at, referrer_id)
		VALUES (:waiting_id, :owner_id, :quantity, :joined_at, :referrer_id)
	`, entry)
	if err != nil {
		return fmt.Errorf("could not add waiting list entry %s: %w", entry.ID, err)
	}
	return nil
}

func (r WaitingListPostgresRepository) Get(ctx context.Context, id uuid.UUID) (*entity.WaitingEntry, error) {
	return getOne[entity.WaitingEntry](ctx, r.db, "waiting entry", `
		SELECT waiting_id, owner_id, quantity, joined_at, referrer_id
		FROM waiting_list WHERE waiting_id = $1 FOR UPDATE
	`, id)
}

func (r WaitingListPostgresRepository) OldestFirst(ctx context.Context) ([]*entity.WaitingEntry, error) {
	var entries []*entity.WaitingEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT waiting_id, owner_id, quantity, joined_at, referrer_id
		FROM waiting_list
		ORDER BY joined_at, waiting_id::text
	`)
	if err != nil {
		return nil, fmt.Errorf("could not list waiting entries: %w", err)
	}
	return entries, nil
}

func (r WaitingListPostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waiting_list WHERE waiting_id = $1`, id)
	if err != nil {
		return fmt.Errorf("could not delete waiting entry %s: %w", id, err)
	}
	return expectOneRow(res, "waiting entry", id)
}
