package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DiscountKind string

const (
	FixedPrice    DiscountKind = "fixed_price"
	FixedDiscount DiscountKind = "fixed_discount"
	Percentage    DiscountKind = "percentage"
)

type VoucherScope string

const (
	ScopeTicket      VoucherScope = "ticket"
	ScopeTransaction VoucherScope = "transaction"
)

type Voucher struct {
	ID        uuid.UUID    `db:"voucher_id"`
	Code      string       `db:"code"`
	ExpiresAt *time.Time   `db:"expires_at"`
	Kind      DiscountKind `db:"kind"`
	Value     int64        `db:"value"`
	Scope     VoucherScope `db:"scope"`
	SingleUse bool         `db:"single_use"`
	Used      bool         `db:"used"`
	UsedBy    *uuid.UUID   `db:"used_by"`
}

func NewVoucher(code string, kind DiscountKind, value int64, scope VoucherScope, singleUse bool, expires *time.Time) (*Voucher, error) {
	v := &Voucher{
		ID:        uuid.New(),
		Code:      strings.TrimSpace(code),
		ExpiresAt: expires,
		Kind:      kind,
		Value:     value,
		Scope:     scope,
		SingleUse: singleUse,
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Voucher) Validate() error {
	if v.Code == "" {
		return ErrInvalidVoucher.WithMessage("voucher code must not be blank")
	}

	switch v.Kind {
	case FixedPrice, FixedDiscount:
		if v.Value < 0 {
			return ErrInvalidVoucher.WithMessage("voucher %s has negative value", v.Code)
		}
	case Percentage:
		if v.Value < 1 || v.Value > 100 {
			return ErrInvalidVoucher.WithMessage("percentage voucher %s must be between 1 and 100, got %d", v.Code, v.Value)
		}
	default:
		return ErrInvalidVoucher.WithMessage("voucher %s has unknown kind %q", v.Code, v.Kind)
	}

	if v.Scope != ScopeTicket && v.Scope != ScopeTransaction {
		return ErrInvalidVoucher.WithMessage("voucher %s has unknown scope %q", v.Code, v.Scope)
	}
	return nil
}

func (v *Voucher) discounted(price Money) Money {
	switch v.Kind {
	case FixedPrice:
		return Money(v.Value)
	case FixedDiscount:
		price -= Money(v.Value)
		if price < 0 {
			return 0
		}
		return price
	case Percentage:
		return price.PercentOff(v.Value)
	}
	return price
}

// Apply discounts tickets and consumes the voucher. Nothing is mutated when
// an error is returned.
func (v *Voucher) Apply(tickets []*Ticket, user uuid.UUID, now time.Time) error {
	if len(tickets) == 0 {
		return ErrNoTickets
	}
	if v.SingleUse && v.Used {
		return ErrAlreadyUsed.WithMessage("voucher %s has already been used", v.Code)
	}
	if v.ExpiresAt != nil && v.ExpiresAt.Before(now) {
		return ErrExpired.WithMessage("voucher %s expired on %s", v.Code, v.ExpiresAt.Format(time.DateOnly))
	}
	if err := v.Validate(); err != nil {
		return err
	}

	targets := tickets
	if v.Scope == ScopeTicket {
		targets = tickets[:1]
	}
	for _, t := range targets {
		if t.Paid || t.Cancelled {
			return ErrPriceLocked.WithMessage("%s cannot be discounted", t)
		}
	}

	v.Used = true
	if v.SingleUse {
		v.UsedBy = &user
	}

	for _, t := range targets {
		if err := t.SetPrice(v.discounted(t.Price)); err != nil {
			return fmt.Errorf("could not discount %s: %w", t, err)
		}
		t.AddNote(fmt.Sprintf("Discounted with voucher %s", v.Code))
	}

	return nil
}
