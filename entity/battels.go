package entity

import (
	"time"

	"github.com/google/uuid"
)

// Term is an academic term. Battels are billed per term.
type Term string

const (
	Michaelmas Term = "MT"
	Hilary     Term = "HT"
	Trinity    Term = "TT"
	BothTerms  Term = "MTHT"
	NoTerm     Term = ""
)

func ParseTerm(s string) (Term, error) {
	switch t := Term(s); t {
	case Michaelmas, Hilary, BothTerms:
		return t, nil
	default:
		return NoTerm, ErrInvalidTerm.WithMessage("unknown battels term %q", s)
	}
}

// RefundsOpen reports whether battels charges may still be adjusted while
// current is the running term.
func RefundsOpen(current Term) bool {
	return current == Michaelmas || current == Hilary
}

// Battels is a college account billed termly.
type Battels struct {
	ID         uuid.UUID `db:"battels_id"`
	OwnerID    uuid.UUID `db:"owner_id"`
	ExternalID *string   `db:"external_id"`
	Michaelmas Money     `db:"michaelmas_charges"`
	Hilary     Money     `db:"hilary_charges"`
	Manual     bool      `db:"manual"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func NewBattels(owner uuid.UUID, externalID *string, now time.Time) *Battels {
	return &Battels{
		ID:         uuid.New(),
		OwnerID:    owner,
		ExternalID: externalID,
		UpdatedAt:  now,
	}
}

func (b *Battels) split(amount Money, term Term) (mt Money, ht Money, err error) {
	switch term {
	case Michaelmas:
		return amount, 0, nil
	case Hilary:
		return 0, amount, nil
	case BothTerms:
		mt, ht = amount.Half()
		return mt, ht, nil
	default:
		return 0, 0, ErrInvalidTerm.WithMessage("cannot charge battels for term %q", term)
	}
}

// Charge adds amount to the term balances. MTHT puts the floor half on
// Michaelmas and the remainder on Hilary.
func (b *Battels) Charge(amount Money, term Term) error {
	if amount.IsNegative() {
		return ErrInvalidAmount.WithMessage("cannot charge negative amount %d", amount)
	}
	mt, ht, err := b.split(amount, term)
	if err != nil {
		return err
	}

	b.Michaelmas += mt
	b.Hilary += ht
	return nil
}

// refundSplit splits a refund of amount taken from a charge of which refunded
// was already returned. MTHT shares follow the running total, so successive
// partial refunds of one charge add up to the inverse of its split.
func (b *Battels) refundSplit(amount, refunded Money, term Term) (mt Money, ht Money, err error) {
	if term != BothTerms {
		return b.split(amount, term)
	}
	before, _ := refunded.Half()
	after, _ := (refunded + amount).Half()
	return after - before, amount - (after - before), nil
}

// Refund reverses amount of a charge made for term, refunded being what was
// already returned from that same charge. It is only allowed while current is
// Michaelmas or Hilary and never leaves a negative balance.
func (b *Battels) Refund(amount, refunded Money, term Term, current Term) error {
	if amount.IsNegative() || refunded.IsNegative() {
		return ErrInvalidAmount.WithMessage("cannot refund negative amount %d", amount)
	}
	mt, ht, err := b.refundSplit(amount, refunded, term)
	if err != nil {
		return err
	}
	if !RefundsOpen(current) {
		return ErrRefundWindowClosed.WithMessage("battels refunds are not possible during %q", current)
	}
	if b.Michaelmas-mt < 0 || b.Hilary-ht < 0 {
		return ErrNegativeBalance.WithMessage(
			"refund of %d (%s) on battels %s would leave MT=%d HT=%d",
			amount, term, b.ID, b.Michaelmas-mt, b.Hilary-ht,
		)
	}

	b.Michaelmas -= mt
	b.Hilary -= ht
	return nil
}
