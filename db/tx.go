package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Executor is satisfied by both *sqlx.DB and *sqlx.Tx.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

const maxSerializationRetries = 5

// UpdateInTx runs fn in a transaction with the given isolation level. fn is
// retried from scratch when Postgres aborts a serializable transaction, so it
// must not have side effects outside tx.
func UpdateInTx(
	ctx context.Context,
	db *sqlx.DB,
	isolation sql.IsolationLevel,
	fn func(ctx context.Context, tx *sqlx.Tx) error,
) (err error) {
	for attempt := 1; ; attempt++ {
		err = updateInTx(ctx, db, isolation, fn)
		if !isErrorSerializationFailure(err) || attempt >= maxSerializationRetries {
			return err
		}

		log.FromContext(ctx).WithField("attempt", attempt).Info("Serialization failure, retrying transaction")
	}
}

func updateInTx(
	ctx context.Context,
	db *sqlx.DB,
	isolation sql.IsolationLevel,
	fn func(ctx context.Context, tx *sqlx.Tx) error,
) (err error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = errors.Join(err, rollbackErr)
			}
			return
		}

		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

func isErrorUniqueViolation(err error) bool {
	var psqlErr *pq.Error
	return errors.As(err, &psqlErr) && psqlErr.Code == "23505"
}

func isErrorSerializationFailure(err error) bool {
	var psqlErr *pq.Error
	return errors.As(err, &psqlErr) && (psqlErr.Code == "40001" || psqlErr.Code == "40P01")
}

// constraintOf returns the name of the violated constraint, if any.
func constraintOf(err error) string {
	var psqlErr *pq.Error
	if errors.As(err, &psqlErr) {
		return psqlErr.Constraint
	}
	return ""
}
