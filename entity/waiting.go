package entity

import (
	"time"

	"github.com/google/uuid"
)

type WaitingEntry struct {
	ID         uuid.UUID  `db:"waiting_id"`
	OwnerID    uuid.UUID  `db:"owner_id"`
	Quantity   int        `db:"quantity"`
	JoinedAt   time.Time  `db:"joined_at"`
	ReferrerID *uuid.UUID `db:"referrer_id"`
}

func NewWaitingEntry(owner uuid.UUID, quantity int, referrer *uuid.UUID, now time.Time) (*WaitingEntry, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity.WithMessage("cannot wait for %d tickets", quantity)
	}
	return &WaitingEntry{
		ID:         uuid.New(),
		OwnerID:    owner,
		Quantity:   quantity,
		JoinedAt:   now,
		ReferrerID: referrer,
	}, nil
}
