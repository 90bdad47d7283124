package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actor is the authenticated person performing an operation.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Admin  bool      `json:"admin"`
}

// SystemActor is used by scheduled processes.
var SystemActor = Actor{UserID: uuid.Nil, Admin: true}

func (a Actor) IsSystem() bool {
	return a.UserID == uuid.Nil
}

type TicketStatus string

const (
	TicketReserved  TicketStatus = "reserved"
	TicketPaid      TicketStatus = "paid"
	TicketCancelled TicketStatus = "cancelled"
)

type Ticket struct {
	ID         uuid.UUID  `db:"ticket_id"`
	OwnerID    uuid.UUID  `db:"owner_id"`
	HolderID   *uuid.UUID `db:"holder_id"`
	Type       string     `db:"ticket_type"`
	Price      Money      `db:"price"`
	Paid       bool       `db:"paid"`
	Cancelled  bool       `db:"cancelled"`
	Entered    bool       `db:"entered"`
	Barcode    *string    `db:"barcode"`
	ClaimCode  *string    `db:"claim_code"`
	ClaimsMade int        `db:"claims_made"`
	ExpiresAt  *time.Time `db:"expires_at"`
	Note       string     `db:"note"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Reserve creates a ticket awaiting payment until now+ttl. A zero price
// ticket is paid on creation.
func Reserve(owner uuid.UUID, ticketType string, price Money, now time.Time, ttl time.Duration) (*Ticket, error) {
	if ticketType == "" {
		return nil, ErrInvalidType
	}
	if price.IsNegative() {
		return nil, ErrInvalidPrice.WithMessage("price %d must not be negative", price)
	}

	expires := now.Add(ttl)
	t := &Ticket{
		ID:        uuid.New(),
		OwnerID:   owner,
		Type:      ticketType,
		Price:     price,
		ExpiresAt: &expires,
		CreatedAt: now,
	}
	if price == 0 {
		t.MarkPaid()
	}

	return t, nil
}

func (t *Ticket) Status() TicketStatus {
	switch {
	case t.Cancelled:
		return TicketCancelled
	case t.Paid:
		return TicketPaid
	default:
		return TicketReserved
	}
}

func (t *Ticket) Collected() bool {
	return t.Barcode != nil
}

func (t *Ticket) Held() bool {
	return t.HolderID != nil
}

// Expired reports a reserved ticket whose expiry has passed.
func (t *Ticket) Expired(now time.Time) bool {
	return t.Status() == TicketReserved && t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// MarkPaid is the only path that sets Paid. Calling it twice is harmless;
// a cancelled ticket is never resurrected.
func (t *Ticket) MarkPaid() {
	if t.Cancelled {
		return
	}
	t.Paid = true
	t.ExpiresAt = nil
}

// Cancel moves a reserved or paid ticket to cancelled. Paid stays set so the
// money trail survives.
func (t *Ticket) Cancel(reason string) {
	t.Cancelled = true
	t.ExpiresAt = nil
	t.AddNote(reason)
}

func (t *Ticket) AddNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if t.Note == "" {
		t.Note = note
		return
	}
	t.Note = t.Note + "\n" + note
}

// SetPrice changes the price of an unpaid ticket. Setting it to zero pays the
// ticket immediately.
func (t *Ticket) SetPrice(price Money) error {
	if t.Paid || t.Cancelled {
		return ErrPriceLocked.WithMessage("ticket %s is %s", t.ID, t.Status())
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}

	t.Price = price
	if price == 0 {
		t.MarkPaid()
	}
	return nil
}

// AssignBarcode collects the ticket. Uniqueness across tickets is checked by
// the caller against storage before calling.
func (t *Ticket) AssignBarcode(code string) error {
	if t.Collected() {
		return ErrAlreadyCollected.WithMessage("ticket %s already has barcode %s", t.ID, *t.Barcode)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrEmptyBarcode
	}

	t.Barcode = &code
	return nil
}

func (t *Ticket) Claim(holder uuid.UUID) error {
	if t.Held() {
		return ErrAlreadyClaimed.WithMessage("ticket %s already has a holder", t.ID)
	}
	if t.Cancelled {
		return ErrTicketCancelled
	}

	t.ClaimsMade++
	t.HolderID = &holder
	return nil
}

// Relinquish is called by the holder to give the ticket back.
func (t *Ticket) Relinquish(actor Actor) error {
	if !t.Held() {
		return ErrNotHeld
	}
	if *t.HolderID != actor.UserID {
		return ErrNotPermitted.WithMessage("only the holder may relinquish ticket %s", t.ID)
	}

	t.HolderID = nil
	return nil
}

// Reclaim is called by the owner or an admin to take the ticket back.
func (t *Ticket) Reclaim(actor Actor) error {
	if !t.Held() {
		return ErrNotHeld
	}
	if !actor.Admin && t.OwnerID != actor.UserID {
		return ErrNotPermitted.WithMessage("only the owner may reclaim ticket %s", t.ID)
	}

	t.HolderID = nil
	t.ClaimCode = nil
	return nil
}

// IssueClaimCode sets the secret a holder uses to claim the ticket.
func (t *Ticket) IssueClaimCode(code string) error {
	if t.Cancelled {
		return ErrTicketCancelled
	}
	if t.Held() {
		return ErrAlreadyClaimed.WithMessage("ticket %s already has a holder", t.ID)
	}

	t.ClaimCode = &code
	return nil
}

// ExtendExpiry pushes back the expiry of a reserved ticket.
func (t *Ticket) ExtendExpiry(until time.Time) {
	if t.Status() != TicketReserved {
		return
	}
	if t.ExpiresAt == nil || t.ExpiresAt.Before(until) {
		t.ExpiresAt = &until
	}
}

func (t *Ticket) MarkEntered() error {
	switch {
	case t.Cancelled:
		return ErrTicketCancelled
	case !t.Paid:
		return ErrTicketNotPaid
	case t.Entered:
		return ErrAlreadyEntered
	}

	t.Entered = true
	return nil
}

// CheckInvariants validates the state flags against each other.
func (t *Ticket) CheckInvariants() error {
	if t.Price.IsNegative() {
		return ErrInvariantViolated.WithMessage("ticket %s has negative price", t.ID)
	}
	if (t.Paid || t.Cancelled) && t.ExpiresAt != nil {
		return ErrInvariantViolated.WithMessage("ticket %s is %s but has an expiry", t.ID, t.Status())
	}
	if !t.Paid && !t.Cancelled && t.ExpiresAt == nil {
		return ErrInvariantViolated.WithMessage("reserved ticket %s has no expiry", t.ID)
	}
	if t.Price == 0 && !t.Paid && !t.Cancelled {
		return ErrInvariantViolated.WithMessage("free ticket %s is awaiting payment", t.ID)
	}
	return nil
}

func (t *Ticket) String() string {
	return fmt.Sprintf("ticket %s (%s, %s)", t.ID, t.Type, t.Status())
}
