package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	MethodNone    PaymentMethod = ""
	MethodBattels PaymentMethod = "battels"
	MethodCard    PaymentMethod = "card"
	MethodFree    PaymentMethod = "free"
)

type ItemKind string

const (
	ItemTicket   ItemKind = "ticket"
	ItemPostage  ItemKind = "postage"
	ItemAdminFee ItemKind = "admin_fee"
	ItemGeneric  ItemKind = "generic"
)

// TransactionItem wraps exactly one of a ticket, a postage, an admin fee or a
// free-form amount. Amount is the magnitude; IsRefund negates it.
type TransactionItem struct {
	ID          uuid.UUID  `db:"item_id"`
	Kind        ItemKind   `db:"kind"`
	TicketID    *uuid.UUID `db:"ticket_id"`
	PostageID   *uuid.UUID `db:"postage_id"`
	AdminFeeID  *uuid.UUID `db:"admin_fee_id"`
	Description string     `db:"description"`
	Amount      Money      `db:"amount"`
	IsRefund    bool       `db:"is_refund"`
}

func (i TransactionItem) Value() Money {
	if i.IsRefund {
		return -i.Amount
	}
	return i.Amount
}

func (i TransactionItem) validate() error {
	if i.Amount.IsNegative() {
		return ErrInvalidAmount.WithMessage("item amount %d must not be negative", i.Amount)
	}

	refs := 0
	for _, ref := range []*uuid.UUID{i.TicketID, i.PostageID, i.AdminFeeID} {
		if ref != nil {
			refs++
		}
	}

	var ok bool
	switch i.Kind {
	case ItemTicket:
		ok = refs == 1 && i.TicketID != nil
	case ItemPostage:
		ok = refs == 1 && i.PostageID != nil
	case ItemAdminFee:
		ok = refs == 1 && i.AdminFeeID != nil
	case ItemGeneric:
		ok = refs == 0 && i.Description != ""
	}
	if !ok {
		return ErrInvariantViolated.WithMessage("malformed %q transaction item", i.Kind)
	}
	return nil
}

func TicketItem(t *Ticket, refund bool) TransactionItem {
	id := t.ID
	return TransactionItem{
		ID:       uuid.New(),
		Kind:     ItemTicket,
		TicketID: &id,
		Amount:   t.Price,
		IsRefund: refund,
	}
}

func PostageItem(p *Postage, refund bool) TransactionItem {
	id := p.ID
	return TransactionItem{
		ID:        uuid.New(),
		Kind:      ItemPostage,
		PostageID: &id,
		Amount:    p.Price,
		IsRefund:  refund,
	}
}

func AdminFeeItem(f *AdminFee) TransactionItem {
	id := f.ID
	return TransactionItem{
		ID:         uuid.New(),
		Kind:       ItemAdminFee,
		AdminFeeID: &id,
		Amount:     f.Amount,
	}
}

func GenericItem(description string, amount Money) TransactionItem {
	return TransactionItem{
		ID:          uuid.New(),
		Kind:        ItemGeneric,
		Description: description,
		Amount:      amount,
	}
}

// BattelsPayment is the payload of a transaction charged to battels.
type BattelsPayment struct {
	BattelsID uuid.UUID `json:"battels_id"`
	Term      Term      `json:"term"`
}

// Transaction records one monetary event. Method stays MethodNone until the
// transaction is charged; exactly one of Battels/Card is set to match it.
type Transaction struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Paid          bool
	Completed     bool
	CreatedAt     time.Time
	PaidAt        *time.Time
	PostalAddress *string
	Method        PaymentMethod
	Battels       *BattelsPayment
	Card          *CardPayment
	// RefundOf points at the transaction a refund reverses.
	RefundOf *uuid.UUID
	Items    []TransactionItem
}

func Open(owner uuid.UUID, address *string, now time.Time) *Transaction {
	return &Transaction{
		ID:            uuid.New(),
		OwnerID:       owner,
		CreatedAt:     now,
		PostalAddress: address,
	}
}

// OpenRefund opens a transaction reversing items of original.
func OpenRefund(original *Transaction, now time.Time) *Transaction {
	tx := Open(original.OwnerID, original.PostalAddress, now)
	id := original.ID
	tx.RefundOf = &id
	return tx
}

func (tx *Transaction) Value() Money {
	var total Money
	for _, item := range tx.Items {
		total += item.Value()
	}
	return total
}

// Closed reports whether items can no longer be attached.
func (tx *Transaction) Closed() bool {
	return tx.Paid || (tx.Card != nil && tx.Card.Pending())
}

func (tx *Transaction) AttachItem(item TransactionItem) error {
	if tx.Closed() {
		return ErrTransactionClosed.WithMessage("transaction %s is closed", tx.ID)
	}
	if err := item.validate(); err != nil {
		return err
	}

	tx.Items = append(tx.Items, item)
	return nil
}

func (tx *Transaction) TicketIDs() []uuid.UUID {
	return tx.refs(ItemTicket)
}

func (tx *Transaction) PostageIDs() []uuid.UUID {
	return tx.refs(ItemPostage)
}

func (tx *Transaction) AdminFeeIDs() []uuid.UUID {
	return tx.refs(ItemAdminFee)
}

func (tx *Transaction) refs(kind ItemKind) []uuid.UUID {
	var ids []uuid.UUID
	for _, item := range tx.Items {
		if item.Kind != kind {
			continue
		}
		switch kind {
		case ItemTicket:
			ids = append(ids, *item.TicketID)
		case ItemPostage:
			ids = append(ids, *item.PostageID)
		case ItemAdminFee:
			ids = append(ids, *item.AdminFeeID)
		}
	}
	return ids
}

// ItemForTicket returns the purchase (non-refund) item for ticketID.
func (tx *Transaction) ItemForTicket(ticketID uuid.UUID) (TransactionItem, bool) {
	for _, item := range tx.Items {
		if item.Kind == ItemTicket && !item.IsRefund && *item.TicketID == ticketID {
			return item, true
		}
	}
	return TransactionItem{}, false
}

// RepriceTicket updates the snapshot amount of a ticket item after a
// discount. It fails once the transaction is closed.
func (tx *Transaction) RepriceTicket(ticketID uuid.UUID, price Money) error {
	if tx.Closed() {
		return ErrPriceLocked.WithMessage("transaction %s is closed", tx.ID)
	}
	for i, item := range tx.Items {
		if item.Kind == ItemTicket && !item.IsRefund && *item.TicketID == ticketID {
			tx.Items[i].Amount = price
		}
	}
	return nil
}

// IsRefund reports a transaction made of refund items only.
func (tx *Transaction) IsRefund() bool {
	if len(tx.Items) == 0 {
		return false
	}
	for _, item := range tx.Items {
		if !item.IsRefund {
			return false
		}
	}
	return true
}

func (tx *Transaction) checkChargeable() error {
	if tx.Paid {
		return ErrAlreadyPaid.WithMessage("transaction %s has already been paid", tx.ID)
	}
	if tx.Method != MethodNone && tx.Method != MethodCard {
		return ErrWrongPaymentMethod.WithMessage("transaction %s is already charged via %s", tx.ID, tx.Method)
	}
	return nil
}

// ChargeToBattels sets the battels payload. The ledger update and MarkAsPaid
// are done by the caller in the same unit of work.
func (tx *Transaction) ChargeToBattels(battelsID uuid.UUID, term Term) error {
	if err := tx.checkChargeable(); err != nil {
		return err
	}
	if tx.Card != nil {
		return ErrWrongPaymentMethod.WithMessage("transaction %s already has a card attempt", tx.ID)
	}
	if _, err := ParseTerm(string(term)); err != nil {
		return err
	}

	tx.Method = MethodBattels
	tx.Battels = &BattelsPayment{BattelsID: battelsID, Term: term}
	return nil
}

// ChargeToCard starts a new card attempt. A previous attempt may be replaced
// unless it is still pending.
func (tx *Transaction) ChargeToCard(attempt CardPayment) error {
	if err := tx.checkChargeable(); err != nil {
		return err
	}
	if tx.Card != nil && tx.Card.Pending() {
		return ErrTransactionClosed.WithMessage("transaction %s has a pending card attempt", tx.ID)
	}

	tx.Method = MethodCard
	tx.Card = &attempt
	return nil
}

func (tx *Transaction) ChargeFree() error {
	if err := tx.checkChargeable(); err != nil {
		return err
	}
	if tx.Card != nil {
		return ErrWrongPaymentMethod.WithMessage("transaction %s already has a card attempt", tx.ID)
	}
	if v := tx.Value(); v != 0 {
		return ErrNotFree.WithMessage("transaction %s has value %d", tx.ID, v)
	}

	tx.Method = MethodFree
	return nil
}

// MarkAsPaid closes the transaction. Referenced tickets, postage and fees are
// flipped by the caller, which holds them.
func (tx *Transaction) MarkAsPaid(now time.Time) {
	tx.Paid = true
	tx.Completed = true
	tx.PaidAt = &now
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("transaction %s (%s, value %d)", tx.ID, tx.Method, tx.Value())
}
