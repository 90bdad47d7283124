package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/jmoiron/sqlx"

	"balltickets/entity"
	"balltickets/pubsub/bus"
	"balltickets/pubsub/outbox"
	"balltickets/ticketing"
)

// UnitOfWork runs each ticketing operation in one serializable transaction.
// Events go to the outbox table in the same transaction.
type UnitOfWork struct {
	db *sqlx.DB
}

func NewUnitOfWork(db *sqlx.DB) UnitOfWork {
	if db == nil {
		panic("db is nil")
	}

	return UnitOfWork{db: db}
}

var _ ticketing.UnitOfWork = UnitOfWork{}

func (u UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos ticketing.Repositories) error) error {
	return UpdateInTx(
		ctx,
		u.db,
		sql.LevelSerializable,
		func(ctx context.Context, tx *sqlx.Tx) error {
			publisher, err := outbox.NewPublisherForDb(ctx, tx.Tx)
			if err != nil {
				return err
			}

			eventBus, err := bus.NewEventBus(publisher)
			if err != nil {
				return fmt.Errorf("could not create event bus: %w", err)
			}

			return fn(ctx, Repositories(tx, eventBus))
		},
	)
}

// Repositories binds every repository to db. Reads through them lock the
// rows they return when db is a transaction.
func Repositories(db Executor, eventBus *cqrs.EventBus) ticketing.Repositories {
	return ticketing.Repositories{
		Tickets:      NewTicketsPostgresRepository(db),
		Transactions: NewTransactionsPostgresRepository(db),
		Battels:      NewBattelsPostgresRepository(db),
		Vouchers:     NewVouchersPostgresRepository(db),
		Waiting:      NewWaitingListPostgresRepository(db),
		Postage:      NewPostagePostgresRepository(db),
		AdminFees:    NewAdminFeesPostgresRepository(db),
		AuditLog:     NewAuditLogPostgresRepository(db),
		Events:       eventBusPublisher{eventBus: eventBus},
	}
}

type eventBusPublisher struct {
	eventBus *cqrs.EventBus
}

func (p eventBusPublisher) Publish(ctx context.Context, event entity.Event) error {
	if err := p.eventBus.Publish(ctx, event); err != nil {
		return fmt.Errorf("could not publish %T: %w", event, err)
	}
	return nil
}
