package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"balltickets/entity"
)

// getOne loads a single row into T, mapping a missing row to entity.ErrNotFound.
func getOne[T any](ctx context.Context, db Executor, what string, query string, arg any) (*T, error) {
	var dest T
	err := db.GetContext(ctx, &dest, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound.WithMessage("%s %v not found", what, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get %s %v: %w", what, arg, err)
	}
	return &dest, nil
}

func expectOneRow(res sql.Result, what string, id any) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return entity.ErrNotFound.WithMessage("%s %v not found", what, id)
	}
	return nil
}
