package entity

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is an audit record written in the same unit as the mutation it
// describes.
type LogEntry struct {
	ID            uuid.UUID   `db:"log_id"`
	ActorID       uuid.UUID   `db:"actor_id"`
	Action        string      `db:"action"`
	Commentary    string      `db:"commentary"`
	TicketIDs     []uuid.UUID `db:"-"`
	TransactionID *uuid.UUID  `db:"transaction_id"`
	CreatedAt     time.Time   `db:"created_at"`
}

func NewLogEntry(actor Actor, action, commentary string, now time.Time) LogEntry {
	return LogEntry{
		ID:         uuid.New(),
		ActorID:    actor.UserID,
		Action:     action,
		Commentary: commentary,
		CreatedAt:  now,
	}
}

func (l LogEntry) ForTickets(ids ...uuid.UUID) LogEntry {
	l.TicketIDs = append(l.TicketIDs, ids...)
	return l
}

func (l LogEntry) ForTransaction(id uuid.UUID) LogEntry {
	l.TransactionID = &id
	return l
}
