package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"balltickets/entity"
)

type AuditLogPostgresRepository struct {
	db Executor
}

func NewAuditLogPostgresRepository(db Executor) AuditLogPostgresRepository {
	if db == nil {
		panic("db is nil")
	}

	return AuditLogPostgresRepository{db: db}
}

func (r AuditLogPostgresRepository) Append(ctx context.Context, entry entity.LogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (log_id, actor_id, action, commentary, ticket_ids, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5::uuid[], $6, $7)
	`,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.Commentary,
		pq.Array(uuidStrings(entry.TicketIDs)),
		entry.TransactionID,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("could not append %s to audit log: %w", entry.Action, err)
	}
	return nil
}

// ForTicket lists the audit trail of one ticket, oldest first.
func (r AuditLogPostgresRepository) ForTicket(ctx context.Context, ticketID uuid.UUID) ([]entity.LogEntry, error) {
	var rows []struct {
		entity.LogEntry
		TicketIDs pq.StringArray `db:"ticket_ids"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT log_id, actor_id, action, commentary, ticket_ids::text[] AS ticket_ids, transaction_id, created_at
		FROM audit_log
		WHERE $1 = ANY(ticket_ids)
		ORDER BY created_at
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("could not read audit log of ticket %s: %w", ticketID, err)
	}

	entries := make([]entity.LogEntry, 0, len(rows))
	for _, row := range rows {
		entry := row.LogEntry
		for _, id := range row.TicketIDs {
			parsed, err := uuid.Parse(id)
			if err != nil {
				return nil, fmt.Errorf("could not parse ticket id %q in audit log: %w", id, err)
			}
			entry.TicketIDs = append(entry.TicketIDs, parsed)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
