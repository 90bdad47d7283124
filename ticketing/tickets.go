package ticketing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"balltickets/entity"
)

// ApplyVoucher discounts unpaid tickets of the actor. Open transactions that
// hold the tickets are repriced in the same unit; a transaction with a card
// attempt in flight locks its prices.
func (e *Engine) ApplyVoucher(ctx context.Context, actor entity.Actor, code string, ids []uuid.UUID) ([]*entity.Ticket, error) {
	if len(ids) == 0 {
		return nil, entity.ErrNoTickets
	}
	now := e.clock.Now()

	var tickets []*entity.Ticket
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		voucher, err := r.Vouchers.FindByCode(ctx, code)
		if errors.Is(err, entity.ErrNotFound) {
			return entity.ErrInvalidVoucher.WithMessage("no voucher with code %q", code)
		} else if err != nil {
			return fmt.Errorf("could not load voucher: %w", err)
		}

		tickets, err = r.Tickets.GetMany(ctx, ids)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if err := checkOwner(actor, t.OwnerID, t.String()); err != nil {
				return err
			}
		}

		txs := map[uuid.UUID]*entity.Transaction{}
		for _, t := range tickets {
			held, err := r.Transactions.ForTicket(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("could not load transactions of %s: %w", t, err)
			}
			for _, tx := range held {
				if tx.Closed() && !tx.Paid {
					return entity.ErrPriceLocked.WithMessage("%s is awaiting card payment", t)
				}
				if !tx.Paid {
					txs[tx.ID] = tx
				}
			}
		}

		if err := voucher.Apply(tickets, actor.UserID, now); err != nil {
			return err
		}
		if err := r.Vouchers.Update(ctx, voucher); err != nil {
			return fmt.Errorf("could not update voucher: %w", err)
		}

		for _, t := range tickets {
			if err := r.Tickets.Update(ctx, t); err != nil {
				return fmt.Errorf("could not update %s: %w", t, err)
			}
			for _, tx := range txs {
				if err := tx.RepriceTicket(t.ID, t.Price); err != nil {
					return err
				}
			}
		}
		for _, tx := range txs {
			if err := r.Transactions.Update(ctx, tx); err != nil {
				return fmt.Errorf("could not update transaction: %w", err)
			}
		}

		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "voucher_applied",
			fmt.Sprintf("Applied voucher %s", voucher.Code), now).ForTickets(ids...))
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}
	return tickets, nil
}

// CreateVoucher validates and stores a new voucher.
func (e *Engine) CreateVoucher(ctx context.Context, actor entity.Actor, voucher *entity.Voucher) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := voucher.Validate(); err != nil {
		return err
	}
	return e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		if err := r.Vouchers.Add(ctx, voucher); err != nil {
			return fmt.Errorf("could not add voucher: %w", err)
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "voucher_created",
			fmt.Sprintf("Created voucher %s", voucher.Code), e.clock.Now()))
	})
}

// SetPrice is the admin price override. It fails closed once paid.
func (e *Engine) SetPrice(ctx context.Context, actor entity.Actor, ticketID uuid.UUID, price entity.Money) (*entity.Ticket, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	now := e.clock.Now()

	return e.updateTicket(ctx, ticketID, func(ctx context.Context, r Repositories, t *entity.Ticket) error {
		held, err := r.Transactions.ForTicket(ctx, t.ID)
		if err != nil {
			return err
		}
		if err := t.SetPrice(price); err != nil {
			return err
		}
		for _, tx := range held {
			if tx.Paid {
				continue
			}
			if err := tx.RepriceTicket(t.ID, price); err != nil {
				return err
			}
			if err := r.Transactions.Update(ctx, tx); err != nil {
				return err
			}
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "price_set",
			fmt.Sprintf("Price set to %s", price), now).ForTickets(t.ID))
	})
}

// AssignBarcode collects a ticket. Barcodes are unique across all tickets.
func (e *Engine) AssignBarcode(ctx context.Context, actor entity.Actor, ticketID uuid.UUID, barcode string) (*entity.Ticket, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	now := e.clock.Now()

	return e.updateTicket(ctx, ticketID, func(ctx context.Context, r Repositories, t *entity.Ticket) error {
		if t.Collected() {
			return entity.ErrAlreadyCollected.WithMessage("%s has already been collected", t)
		}
		existing, err := r.Tickets.FindByBarcode(ctx, barcode)
		switch {
		case err == nil && existing.ID != t.ID:
			return entity.ErrDuplicateBarcode.WithMessage("barcode %s is already assigned to %s", barcode, existing.ID)
		case err != nil && !errors.Is(err, entity.ErrNotFound):
			return fmt.Errorf("could not look up barcode: %w", err)
		}

		if err := t.AssignBarcode(barcode); err != nil {
			return err
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "ticket_collected",
			fmt.Sprintf("Assigned barcode %s", barcode), now).ForTickets(t.ID))
	})
}

// MarkEntered admits the ticket with the given barcode.
func (e *Engine) MarkEntered(ctx context.Context, actor entity.Actor, barcode string) (*entity.Ticket, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	now := e.clock.Now()

	var ticket *entity.Ticket
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		t, err := r.Tickets.FindByBarcode(ctx, barcode)
		if err != nil {
			return err
		}
		if err := t.MarkEntered(); err != nil {
			return err
		}
		if err := r.Tickets.Update(ctx, t); err != nil {
			return err
		}
		ticket = t
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "ticket_entered", "Admitted", now).ForTickets(t.ID))
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}
	return ticket, nil
}

// IssueClaimCode generates the secret the owner hands to the future holder.
func (e *Engine) IssueClaimCode(ctx context.Context, actor entity.Actor, ticketID uuid.UUID) (string, error) {
	code := e.newCode()
	now := e.clock.Now()

	_, err := e.updateTicket(ctx, ticketID, func(ctx context.Context, r Repositories, t *entity.Ticket) error {
		if err := checkOwner(actor, t.OwnerID, t.String()); err != nil {
			return err
		}
		if err := t.IssueClaimCode(code); err != nil {
			return err
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "claim_code_issued", "Issued claim code", now).ForTickets(t.ID))
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Claim binds the ticket carrying code to the actor as its holder.
func (e *Engine) Claim(ctx context.Context, actor entity.Actor, code string) (*entity.Ticket, error) {
	now := e.clock.Now()

	var ticket *entity.Ticket
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		t, err := r.Tickets.FindByClaimCode(ctx, code)
		if errors.Is(err, entity.ErrNotFound) {
			return entity.ErrNotFound.WithMessage("no ticket with that claim code")
		} else if err != nil {
			return err
		}
		if err := t.Claim(actor.UserID); err != nil {
			return err
		}
		if err := r.Tickets.Update(ctx, t); err != nil {
			return err
		}
		ticket = t
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "ticket_claimed", "Claimed", now).ForTickets(t.ID))
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}
	return ticket, nil
}

func (e *Engine) Relinquish(ctx context.Context, actor entity.Actor, ticketID uuid.UUID) (*entity.Ticket, error) {
	now := e.clock.Now()
	return e.updateTicket(ctx, ticketID, func(ctx context.Context, r Repositories, t *entity.Ticket) error {
		if err := t.Relinquish(actor); err != nil {
			return err
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "ticket_relinquished", "Relinquished", now).ForTickets(t.ID))
	})
}

func (e *Engine) Reclaim(ctx context.Context, actor entity.Actor, ticketID uuid.UUID) (*entity.Ticket, error) {
	now := e.clock.Now()
	return e.updateTicket(ctx, ticketID, func(ctx context.Context, r Repositories, t *entity.Ticket) error {
		if err := t.Reclaim(actor); err != nil {
			return err
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "ticket_reclaimed", "Reclaimed", now).ForTickets(t.ID))
	})
}

func (e *Engine) updateTicket(
	ctx context.Context,
	ticketID uuid.UUID,
	fn func(ctx context.Context, r Repositories, t *entity.Ticket) error,
) (*entity.Ticket, error) {
	var ticket *entity.Ticket
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		t, err := r.Tickets.Get(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := fn(ctx, r, t); err != nil {
			return err
		}
		if err := r.Tickets.Update(ctx, t); err != nil {
			return fmt.Errorf("could not update %s: %w", t, err)
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}
	return ticket, nil
}
