package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"balltickets/entity"
)

const ticketColumns = `ticket_id, owner_id, holder_id, ticket_type, price, paid, cancelled, entered,
	barcode, claim_code, claims_made, expires_at, note, created_at`

type TicketsPostgresRepository struct {
	db Executor
}

func NewTicketsPostgresRepository(db Executor) TicketsPostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return TicketsPostgresRepository{db: db}
}

func (r TicketsPostgresRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Ticket, error) {
	return r.getBy(ctx, "ticket_id", id, "ticket")
}

func (r TicketsPostgresRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*entity.Ticket, error) {
	var tickets []*entity.Ticket
	err := r.db.SelectContext(ctx, &tickets,
		`SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = ANY($1::uuid[]) FOR UPDATE`,
		pq.Array(uuidStrings(ids)),
	)
	if err != nil {
		return nil, fmt.Errorf("could not get tickets: %w", err)
	}

	byID := make(map[uuid.UUID]*entity.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}

	out := make([]*entity.Ticket, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, entity.ErrNotFound.WithMessage("ticket %s not found", id)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r TicketsPostgresRepository) Add(ctx context.Context, ticket *entity.Ticket) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES (:ticket_id, :owner_id, :holder_id, :ticket_type, :price, :paid, :cancelled, :entered,
			:barcode, :claim_code, :claims_made, :expires_at, :note, :created_at)
		ON CONFLICT (ticket_id) DO NOTHING
	`, ticket)
	if err != nil {
		return r.mapConstraint(err, ticket)
	}
	return nil
}

func (r TicketsPostgresRepository) Update(ctx context.Context, ticket *entity.Ticket) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE tickets SET
			owner_id = :owner_id,
			holder_id = :holder_id,
			ticket_type = :ticket_type,
			price = :price,
			paid = :paid,
			cancelled = :cancelled,
			entered = :entered,
			barcode = :barcode,
			claim_code = :claim_code,
			claims_made = :claims_made,
			expires_at = :expires_at,
			note = :note
		WHERE ticket_id = :ticket_id
	`, ticket)
	if err != nil {
		return r.mapConstraint(err, ticket)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return entity.ErrNotFound.WithMessage("ticket %s not found", ticket.ID)
	}

	return nil
}

func (r TicketsPostgresRepository) mapConstraint(err error, ticket *entity.Ticket) error {
	if !isErrorUniqueViolation(err) {
		return fmt.Errorf("could not save ticket %s: %w", ticket.ID, err)
	}

	switch constraintOf(err) {
	case "tickets_barcode_key":
		return entity.ErrDuplicateBarcode.WithMessage("barcode %s is already in use", *ticket.Barcode)
	case "tickets_claim_code_key":
		return entity.ErrAlreadyClaimed.WithMessage("claim code collision on ticket %s", ticket.ID)
	}
	return fmt.Errorf("could not save ticket %s: %w", ticket.ID, err)
}

func (r TicketsPostgresRepository) FindByBarcode(ctx context.Context, barcode string) (*entity.Ticket, error) {
	return r.getBy(ctx, "barcode", barcode, "ticket with barcode")
}

func (r TicketsPostgresRepository) FindByClaimCode(ctx context.Context, code string) (*entity.Ticket, error) {
	return r.getBy(ctx, "claim_code", code, "ticket with claim code")
}

func (r TicketsPostgresRepository) getBy(ctx context.Context, column string, value any, what string) (*entity.Ticket, error) {
	var ticket entity.Ticket
	err := r.db.GetContext(ctx, &ticket,
		`SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = $1 FOR UPDATE`,
		value,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound.WithMessage("%s %v not found", what, value)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get %s %v: %w", what, value, err)
	}
	return &ticket, nil
}

// FindExpired only looks at the expiry column. Status is left to the caller.
func (r TicketsPostgresRepository) FindExpired(ctx context.Context, now time.Time) ([]*entity.Ticket, error) {
	var tickets []*entity.Ticket
	err := r.db.SelectContext(ctx, &tickets, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY created_at
		FOR UPDATE
	`, now)
	if err != nil {
		return nil, fmt.Errorf("could not find expired tickets: %w", err)
	}
	return tickets, nil
}

func (r TicketsPostgresRepository) CountLive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tickets WHERE NOT cancelled`)
	if err != nil {
		return 0, fmt.Errorf("could not count tickets: %w", err)
	}
	return count, nil
}

func (r TicketsPostgresRepository) CountLiveByOwner(ctx context.Context, owner uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tickets WHERE NOT cancelled AND owner_id = $1`, owner)
	if err != nil {
		return 0, fmt.Errorf("could not count tickets of %s: %w", owner, err)
	}
	return count, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
