package ticketing

import (
	"time"

	"balltickets/entity"
)

type TicketType struct {
	Slug  string
	Name  string
	Price entity.Money
	// AdminOnly types can only be granted, never bought.
	AdminOnly bool
}

type PostageOption struct {
	Slug         string
	Name         string
	Price        entity.Money
	NeedsAddress bool
}

// Settings is the configuration in force for one operation. It is resolved
// once from the clock and never re-read mid-operation.
type Settings struct {
	Now                 time.Time
	TicketTTL           time.Duration
	CurrentTerm         entity.Term
	Lockdown            bool
	SalesOpen           bool
	CancellationEnabled bool
	WaitingListOpen     bool
	Capacity            int
	PerPersonLimit      int
	// WaitingListType is the ticket type allocated to waiting entries.
	WaitingListType string
	TicketTypes     map[string]TicketType
	Postage         map[string]PostageOption
}

func (s Settings) ticketType(slug string) (TicketType, error) {
	tt, ok := s.TicketTypes[slug]
	if !ok {
		return TicketType{}, entity.ErrInvalidType.WithMessage("unknown ticket type %q", slug)
	}
	return tt, nil
}

// guardFlags enforces the feature switches. Admins bypass them.
func (s Settings) guardFlags(actor entity.Actor, enabled bool, what string) error {
	if actor.Admin {
		return nil
	}
	if s.Lockdown {
		return entity.ErrLockdown.WithMessage("%s is disabled while the site is locked down", what)
	}
	if !enabled {
		return entity.ErrLockdown.WithMessage("%s is currently disabled", what)
	}
	return nil
}
