package entity

import (
	"time"

	"github.com/google/uuid"
)

// Postage is a delivery charge for a group of tickets bought together.
type Postage struct {
	ID        uuid.UUID `db:"postage_id"`
	OwnerID   uuid.UUID `db:"owner_id"`
	Method    string    `db:"method"`
	Price     Money     `db:"price"`
	Address   *string   `db:"address"`
	Paid      bool      `db:"paid"`
	Posted    bool      `db:"posted"`
	Cancelled bool      `db:"cancelled"`
	CreatedAt time.Time `db:"created_at"`
}

func NewPostage(owner uuid.UUID, method string, price Money, address *string, now time.Time) (*Postage, error) {
	if price.IsNegative() {
		return nil, ErrInvalidPrice.WithMessage("postage price %d must not be negative", price)
	}
	return &Postage{
		ID:        uuid.New(),
		OwnerID:   owner,
		Method:    method,
		Price:     price,
		Address:   address,
		CreatedAt: now,
	}, nil
}

func (p *Postage) MarkPaid() {
	if p.Cancelled {
		return
	}
	p.Paid = true
}

func (p *Postage) Cancel() {
	p.Cancelled = true
}

// AdminFee is a charge levied by an administrator, paid like any other item.
type AdminFee struct {
	ID        uuid.UUID `db:"admin_fee_id"`
	ChargedTo uuid.UUID `db:"charged_to"`
	CreatedBy uuid.UUID `db:"created_by"`
	Amount    Money     `db:"amount"`
	Reason    string    `db:"reason"`
	Paid      bool      `db:"paid"`
	CreatedAt time.Time `db:"created_at"`
}

func NewAdminFee(actor Actor, chargedTo uuid.UUID, amount Money, reason string, now time.Time) (*AdminFee, error) {
	if !actor.Admin {
		return nil, ErrNotPermitted.WithMessage("only admins may levy fees")
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount.WithMessage("admin fee must be positive, got %d", amount)
	}
	return &AdminFee{
		ID:        uuid.New(),
		ChargedTo: chargedTo,
		CreatedBy: actor.UserID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now,
	}, nil
}

func (f *AdminFee) MarkPaid() {
	f.Paid = true
}
