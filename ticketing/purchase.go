package ticketing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"balltickets/entity"
	"balltickets/metrics"
)

type PurchaseRequest struct {
	TicketType    string
	Quantity      int
	VoucherCode   string
	PostageOption string
	PostalAddress *string
	Donation      entity.Money
}

type Purchase struct {
	Transaction *entity.Transaction
	Tickets     []*entity.Ticket
}

// Purchase reserves tickets for the actor and opens a transaction holding
// them, ready to be charged.
func (e *Engine) Purchase(ctx context.Context, actor entity.Actor, req PurchaseRequest) (Purchase, error) {
	s := e.snapshot()

	if err := s.guardFlags(actor, s.SalesOpen, "ticket sales"); err != nil {
		return Purchase{}, err
	}
	tt, err := s.ticketType(req.TicketType)
	if err != nil {
		return Purchase{}, err
	}
	if tt.AdminOnly && !actor.Admin {
		return Purchase{}, entity.ErrInvalidType.WithMessage("%s tickets cannot be bought", tt.Name)
	}
	if req.Quantity < 1 {
		return Purchase{}, entity.ErrInvalidQuantity
	}
	if req.Donation.IsNegative() {
		return Purchase{}, entity.ErrInvalidAmount.WithMessage("donation must not be negative")
	}

	var postage *PostageOption
	if req.PostageOption != "" {
		opt, ok := s.Postage[req.PostageOption]
		if !ok {
			return Purchase{}, entity.ErrInvalidType.WithMessage("unknown postage option %q", req.PostageOption)
		}
		if opt.NeedsAddress && (req.PostalAddress == nil || strings.TrimSpace(*req.PostalAddress) == "") {
			return Purchase{}, entity.ErrInvalidType.WithMessage("%s needs a postal address", opt.Name)
		}
		postage = &opt
	}

	var result Purchase
	err = e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		owned, err := r.Tickets.CountLiveByOwner(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("could not count owned tickets: %w", err)
		}
		if s.PerPersonLimit > 0 && owned+req.Quantity > s.PerPersonLimit && !actor.Admin {
			return entity.ErrLimitExceeded.WithMessage(
				"you may hold at most %d tickets, you have %d", s.PerPersonLimit, owned,
			)
		}

		if err := checkCapacity(ctx, r, s, req.Quantity); err != nil {
			return err
		}

		tickets := make([]*entity.Ticket, 0, req.Quantity)
		for i := 0; i < req.Quantity; i++ {
			t, err := entity.Reserve(actor.UserID, tt.Slug, tt.Price, s.Now, s.TicketTTL)
			if err != nil {
				return err
			}
			tickets = append(tickets, t)
		}

		if req.VoucherCode != "" {
			voucher, err := r.Vouchers.FindByCode(ctx, req.VoucherCode)
			if errors.Is(err, entity.ErrNotFound) {
				return entity.ErrInvalidVoucher.WithMessage("no voucher with code %q", req.VoucherCode)
			} else if err != nil {
				return fmt.Errorf("could not load voucher: %w", err)
			}
			if err := voucher.Apply(tickets, actor.UserID, s.Now); err != nil {
				return err
			}
			if err := r.Vouchers.Update(ctx, voucher); err != nil {
				return fmt.Errorf("could not update voucher: %w", err)
			}
		}

		tx := entity.Open(actor.UserID, req.PostalAddress, s.Now)
		for _, t := range tickets {
			if err := r.Tickets.Add(ctx, t); err != nil {
				return fmt.Errorf("could not add %s: %w", t, err)
			}
			if err := tx.AttachItem(entity.TicketItem(t, false)); err != nil {
				return err
			}
		}

		if postage != nil {
			p, err := entity.NewPostage(actor.UserID, postage.Name, postage.Price, req.PostalAddress, s.Now)
			if err != nil {
				return err
			}
			if err := r.Postage.Add(ctx, p); err != nil {
				return fmt.Errorf("could not add postage: %w", err)
			}
			if err := tx.AttachItem(entity.PostageItem(p, false)); err != nil {
				return err
			}
		}

		if req.Donation > 0 {
			if err := tx.AttachItem(entity.GenericItem("Donation", req.Donation)); err != nil {
				return err
			}
		}

		if err := r.Transactions.Add(ctx, tx); err != nil {
			return fmt.Errorf("could not add transaction: %w", err)
		}

		entry := entity.NewLogEntry(actor, "tickets_reserved",
			fmt.Sprintf("Reserved %d %s tickets", req.Quantity, tt.Slug), s.Now).
			ForTransaction(tx.ID).
			ForTickets(ticketIDs(tickets)...)
		if err := r.AuditLog.Append(ctx, entry); err != nil {
			return fmt.Errorf("could not write audit log: %w", err)
		}

		err = r.Events.Publish(ctx, entity.TicketsReserved{
			Header:        entity.NewEventHeader(),
			OwnerID:       actor.UserID.String(),
			TicketIDs:     idStrings(ticketIDs(tickets)),
			TransactionID: tx.ID.String(),
			Source:        "purchase",
		})
		if err != nil {
			return fmt.Errorf("could not publish TicketsReserved: %w", err)
		}

		result = Purchase{Transaction: tx, Tickets: tickets}
		return nil
	})
	if err != nil {
		return Purchase{}, e.failClosed(ctx, err)
	}

	metrics.TicketsReserved.WithLabelValues("purchase").Add(float64(req.Quantity))
	log.FromContext(ctx).WithFields(logrus.Fields{
		"transaction_id": result.Transaction.ID,
		"quantity":       req.Quantity,
	}).Info("Tickets reserved")

	return result, nil
}

func checkCapacity(ctx context.Context, r Repositories, s Settings, quantity int) error {
	if s.Capacity <= 0 {
		return nil
	}
	live, err := r.Tickets.CountLive(ctx)
	if err != nil {
		return fmt.Errorf("could not count tickets: %w", err)
	}
	if live+quantity > s.Capacity {
		return entity.ErrSoldOut.WithMessage("only %d tickets left", max(s.Capacity-live, 0))
	}
	return nil
}

// GrantTickets creates tickets at an arbitrary price on an admin's say-so.
// Tickets with a price are left in an open transaction for the owner to pay.
func (e *Engine) GrantTickets(ctx context.Context, actor entity.Actor, owner uuid.UUID, ticketType string, quantity int, price entity.Money) (Purchase, error) {
	if err := requireAdmin(actor); err != nil {
		return Purchase{}, err
	}
	s := e.snapshot()
	if _, err := s.ticketType(ticketType); err != nil {
		return Purchase{}, err
	}
	if quantity < 1 {
		return Purchase{}, entity.ErrInvalidQuantity
	}

	var result Purchase
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx := entity.Open(owner, nil, s.Now)

		for i := 0; i < quantity; i++ {
			t, err := entity.Reserve(owner, ticketType, price, s.Now, s.TicketTTL)
			if err != nil {
				return err
			}
			t.AddNote(fmt.Sprintf("Granted by %s", actor.UserID))
			if err := r.Tickets.Add(ctx, t); err != nil {
				return fmt.Errorf("could not add %s: %w", t, err)
			}
			if err := tx.AttachItem(entity.TicketItem(t, false)); err != nil {
				return err
			}
			result.Tickets = append(result.Tickets, t)
		}

		if price == 0 {
			if err := tx.ChargeFree(); err != nil {
				return err
			}
			tx.MarkAsPaid(s.Now)
		}
		if err := r.Transactions.Add(ctx, tx); err != nil {
			return fmt.Errorf("could not add transaction: %w", err)
		}
		result.Transaction = tx

		entry := entity.NewLogEntry(actor, "tickets_granted",
			fmt.Sprintf("Granted %d %s tickets at %s", quantity, ticketType, price), s.Now).
			ForTransaction(tx.ID).
			ForTickets(ticketIDs(result.Tickets)...)
		if err := r.AuditLog.Append(ctx, entry); err != nil {
			return fmt.Errorf("could not write audit log: %w", err)
		}

		return r.Events.Publish(ctx, entity.TicketsReserved{
			Header:        entity.NewEventHeader(),
			OwnerID:       owner.String(),
			TicketIDs:     idStrings(ticketIDs(result.Tickets)),
			TransactionID: tx.ID.String(),
			Source:        "grant",
		})
	})
	if err != nil {
		return Purchase{}, e.failClosed(ctx, err)
	}

	metrics.TicketsReserved.WithLabelValues("grant").Add(float64(quantity))
	return result, nil
}

// LevyAdminFee charges owner a fee, left in an open transaction to be paid.
func (e *Engine) LevyAdminFee(ctx context.Context, actor entity.Actor, owner uuid.UUID, amount entity.Money, reason string) (*entity.Transaction, error) {
	now := e.clock.Now()
	fee, err := entity.NewAdminFee(actor, owner, amount, reason, now)
	if err != nil {
		return nil, err
	}

	tx := entity.Open(owner, nil, now)
	if err := tx.AttachItem(entity.AdminFeeItem(fee)); err != nil {
		return nil, err
	}

	err = e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		if err := r.AdminFees.Add(ctx, fee); err != nil {
			return fmt.Errorf("could not add admin fee: %w", err)
		}
		if err := r.Transactions.Add(ctx, tx); err != nil {
			return fmt.Errorf("could not add transaction: %w", err)
		}
		entry := entity.NewLogEntry(actor, "admin_fee_levied",
			fmt.Sprintf("Levied %s: %s", amount, reason), now).ForTransaction(tx.ID)
		return r.AuditLog.Append(ctx, entry)
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}
	return tx, nil
}

// JoinWaitingList queues the actor for tickets once capacity frees up.
func (e *Engine) JoinWaitingList(ctx context.Context, actor entity.Actor, quantity int, referrer *uuid.UUID) (*entity.WaitingEntry, error) {
	s := e.snapshot()
	if err := s.guardFlags(actor, s.WaitingListOpen, "the waiting list"); err != nil {
		return nil, err
	}
	if s.PerPersonLimit > 0 && quantity > s.PerPersonLimit {
		return nil, entity.ErrLimitExceeded.WithMessage("you may wait for at most %d tickets", s.PerPersonLimit)
	}

	entry, err := entity.NewWaitingEntry(actor.UserID, quantity, referrer, s.Now)
	if err != nil {
		return nil, err
	}

	err = e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		if err := r.Waiting.Add(ctx, entry); err != nil {
			return fmt.Errorf("could not add waiting entry: %w", err)
		}
		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "waiting_list_joined",
			fmt.Sprintf("Joined the waiting list for %d tickets", quantity), s.Now))
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}
	return entry, nil
}
