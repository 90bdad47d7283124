package ticketing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"balltickets/entity"
	"balltickets/metrics"
)

// CancellationBlocker explains why t cannot be cancelled, or returns nil.
// method is how t was paid for (MethodNone when unpaid). The same rules apply
// to admins; only feature flags are bypassable, and those are checked by
// CancelBatch.
func CancellationBlocker(t *entity.Ticket, method entity.PaymentMethod, current entity.Term) error {
	switch {
	case t.Cancelled:
		return entity.ErrTicketCancelled.WithMessage("%s is already cancelled", t)
	case t.Collected():
		return entity.ErrNotCancellable.WithMessage("%s has been collected", t)
	case t.Held():
		return entity.ErrNotCancellable.WithMessage("%s is held by someone", t)
	case !t.Paid:
		return nil
	}

	switch method {
	case entity.MethodCard, entity.MethodFree:
		return nil
	case entity.MethodBattels:
		if entity.RefundsOpen(current) {
			return nil
		}
		return entity.ErrRefundWindowClosed.WithMessage("battels refunds are closed during %q", current)
	case entity.MethodNone:
		// granted at zero price without a transaction
		if t.Price == 0 {
			return nil
		}
	}
	return entity.ErrNotCancellable.WithMessage("%s has no known payment method", t)
}

// CanBeCancelled is the predicate form of CancellationBlocker.
func CanBeCancelled(t *entity.Ticket, method entity.PaymentMethod, current entity.Term) bool {
	return CancellationBlocker(t, method, current) == nil
}

type CancelFailure struct {
	TicketID uuid.UUID
	Err      error
	// Manual is set for tickets that are cancellable but whose money must be
	// returned by hand.
	Manual bool
}

type CancelReport struct {
	Cancelled []uuid.UUID
	Failed    []CancelFailure
	// Refunds lists the reversing transactions created.
	Refunds []uuid.UUID
}

func (r *CancelReport) fail(id uuid.UUID, err error) {
	r.Failed = append(r.Failed, CancelFailure{
		TicketID: id,
		Err:      err,
		Manual:   errors.Is(err, entity.ErrManualRefund),
	})
}

type cancelCandidate struct {
	ticket *entity.Ticket
	origin *entity.Transaction
}

func (c cancelCandidate) method() entity.PaymentMethod {
	if c.origin == nil {
		return entity.MethodNone
	}
	return c.origin.Method
}

// CancelBatch cancels as many of ids as it can and reports exactly which
// succeeded. Unpaid and free tickets are cancelled outright. Battels-paid
// tickets are refunded per originating transaction, each group in its own
// unit of work. Card-paid tickets are left alone and reported as needing a
// manual refund.
func (e *Engine) CancelBatch(ctx context.Context, actor entity.Actor, ids []uuid.UUID) (CancelReport, error) {
	s := e.snapshot()
	if err := s.guardFlags(actor, s.CancellationEnabled, "cancellation"); err != nil {
		return CancelReport{}, err
	}
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return CancelReport{}, entity.ErrNoTickets
	}

	var report CancelReport
	var candidates []cancelCandidate
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		for _, id := range ids {
			c, err := loadCandidate(ctx, r, id)
			if err != nil {
				if entity.KindOf(err) == entity.KindNotFound {
					report.fail(id, err)
					continue
				}
				return err
			}
			candidates = append(candidates, c)
		}
		return nil
	})
	if err != nil {
		return CancelReport{}, e.failClosed(ctx, err)
	}

	var noRefund []cancelCandidate
	battels := map[uuid.UUID][]cancelCandidate{}
	for _, c := range candidates {
		if err := checkOwner(actor, c.ticket.OwnerID, c.ticket.String()); err != nil {
			report.fail(c.ticket.ID, err)
			continue
		}
		if err := CancellationBlocker(c.ticket, c.method(), s.CurrentTerm); err != nil {
			report.fail(c.ticket.ID, err)
			continue
		}

		switch {
		case !c.ticket.Paid, c.ticket.Price == 0, c.method() == entity.MethodFree, c.method() == entity.MethodNone:
			noRefund = append(noRefund, c)
		case c.method() == entity.MethodBattels:
			battels[c.origin.ID] = append(battels[c.origin.ID], c)
		default:
			report.fail(c.ticket.ID, entity.ErrManualRefund.WithMessage("%s was paid by card and must be refunded manually", c.ticket))
		}
	}

	if len(noRefund) > 0 {
		ids := lo.Map(noRefund, func(c cancelCandidate, _ int) uuid.UUID { return c.ticket.ID })
		if err := e.cancelWithoutRefund(ctx, actor, s, ids); err != nil {
			for _, id := range ids {
				report.fail(id, err)
			}
		} else {
			report.Cancelled = append(report.Cancelled, ids...)
		}
	}

	for originID, group := range battels {
		ids := lo.Map(group, func(c cancelCandidate, _ int) uuid.UUID { return c.ticket.ID })
		refundID, err := e.refundBattelsGroup(ctx, actor, s, originID, ids)
		if err != nil {
			err = e.failClosed(ctx, err)
			for _, id := range ids {
				report.fail(id, err)
			}
			continue
		}
		report.Cancelled = append(report.Cancelled, ids...)
		report.Refunds = append(report.Refunds, refundID)
	}

	log.FromContext(ctx).WithFields(logrus.Fields{
		"actor":     actor.UserID,
		"cancelled": len(report.Cancelled),
		"failed":    len(report.Failed),
		"refunds":   len(report.Refunds),
	}).Info("Cancellation batch processed")

	cancelled := lo.Filter(candidates, func(c cancelCandidate, _ int) bool {
		return lo.Contains(report.Cancelled, c.ticket.ID)
	})
	byOwner := lo.GroupBy(cancelled, func(c cancelCandidate) uuid.UUID { return c.ticket.OwnerID })
	for owner, group := range byOwner {
		e.notify(ctx, owner, TemplateTicketsCancelled, map[string]string{
			"count": fmt.Sprint(len(group)),
		})
	}
	return report, nil
}

// loadCandidate finds the ticket and the paid transaction that bought it.
func loadCandidate(ctx context.Context, r Repositories, id uuid.UUID) (cancelCandidate, error) {
	t, err := r.Tickets.Get(ctx, id)
	if err != nil {
		return cancelCandidate{}, err
	}
	txs, err := r.Transactions.ForTicket(ctx, id)
	if err != nil {
		return cancelCandidate{}, fmt.Errorf("could not load transactions of %s: %w", t, err)
	}

	c := cancelCandidate{ticket: t}
	for _, tx := range txs {
		if _, ok := tx.ItemForTicket(id); !ok {
			continue
		}
		if tx.Paid {
			c.origin = tx
		}
	}
	return c, nil
}

func (e *Engine) cancelWithoutRefund(ctx context.Context, actor entity.Actor, s Settings, ids []uuid.UUID) error {
	reason := fmt.Sprintf("Cancelled by %s", actorName(actor))

	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tickets, err := r.Tickets.GetMany(ctx, ids)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			c, err := loadCandidate(ctx, r, t.ID)
			if err != nil {
				return err
			}
			if err := CancellationBlocker(t, c.method(), s.CurrentTerm); err != nil {
				return err
			}
			if t.Paid && t.Price > 0 && c.method() != entity.MethodFree && c.method() != entity.MethodNone {
				return entity.ErrNotCancellable.WithMessage("%s was paid for meanwhile", t)
			}
			if err := ensureNoPendingCard(ctx, r, t); err != nil {
				return err
			}

			t.Cancel(reason)
			if err := r.Tickets.Update(ctx, t); err != nil {
				return fmt.Errorf("could not update %s: %w", t, err)
			}
		}

		if err := r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "tickets_cancelled", reason, s.Now).ForTickets(ids...)); err != nil {
			return fmt.Errorf("could not write audit log: %w", err)
		}
		return r.Events.Publish(ctx, entity.TicketsCancelled{
			Header:    entity.NewEventHeader(),
			ActorID:   actor.UserID.String(),
			TicketIDs: idStrings(ids),
			Reason:    "cancelled",
		})
	})
	if err != nil {
		return err
	}

	metrics.TicketsCancelled.WithLabelValues("user").Add(float64(len(ids)))
	return nil
}

// ensureNoPendingCard refuses to cancel a ticket the payer is paying for right
// now at the gateway.
func ensureNoPendingCard(ctx context.Context, r Repositories, t *entity.Ticket) error {
	txs, err := r.Transactions.ForTicket(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if !tx.Paid && tx.Card != nil && tx.Card.Pending() {
			return entity.ErrTransactionClosed.WithMessage("%s is awaiting card payment", t)
		}
	}
	return nil
}

// refundBattelsGroup reverses the battels charge for ids, all bought in the
// transaction originID, and cancels them. Postage is refunded too once every
// ticket of the original transaction ends up cancelled.
func (e *Engine) refundBattelsGroup(ctx context.Context, actor entity.Actor, s Settings, originID uuid.UUID, ids []uuid.UUID) (uuid.UUID, error) {
	reason := fmt.Sprintf("Cancelled and refunded to battels by %s", actorName(actor))
	var refund *entity.Transaction

	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		origin, err := r.Transactions.Get(ctx, originID)
		if err != nil {
			return err
		}
		if origin.Method != entity.MethodBattels || origin.Battels == nil || !origin.Paid {
			return entity.ErrWrongPaymentMethod.WithMessage("%s is not a paid battels charge", origin)
		}

		tickets, err := r.Tickets.GetMany(ctx, ids)
		if err != nil {
			return err
		}

		refund = entity.OpenRefund(origin, s.Now)
		for _, t := range tickets {
			if err := CancellationBlocker(t, entity.MethodBattels, s.CurrentTerm); err != nil {
				return err
			}
			item, ok := origin.ItemForTicket(t.ID)
			if !ok {
				return entity.ErrInvariantViolated.WithMessage("%s is not part of %s", t, origin)
			}
			item.ID = uuid.New()
			item.IsRefund = true
			if err := refund.AttachItem(item); err != nil {
				return err
			}
		}

		wholeGroup, err := wholeTransactionCancelled(ctx, r, origin, ids)
		if err != nil {
			return err
		}
		if wholeGroup {
			for _, item := range origin.Items {
				if item.Kind != entity.ItemPostage || item.IsRefund {
					continue
				}
				p, err := r.Postage.Get(ctx, *item.PostageID)
				if err != nil {
					return err
				}
				if p.Cancelled {
					continue
				}
				item.ID = uuid.New()
				item.IsRefund = true
				if err := refund.AttachItem(item); err != nil {
					return err
				}
				p.Cancel()
				if err := r.Postage.Update(ctx, p); err != nil {
					return fmt.Errorf("could not update postage: %w", err)
				}
			}
		}

		battels, err := r.Battels.Get(ctx, origin.Battels.BattelsID)
		if err != nil {
			return fmt.Errorf("could not load battels: %w", err)
		}
		refunded, err := refundedSoFar(ctx, r, origin)
		if err != nil {
			return err
		}
		if err := battels.Refund(-refund.Value(), refunded, origin.Battels.Term, s.CurrentTerm); err != nil {
			return err
		}
		battels.UpdatedAt = s.Now
		if err := r.Battels.Update(ctx, battels); err != nil {
			return fmt.Errorf("could not update battels: %w", err)
		}

		if err := refund.ChargeToBattels(battels.ID, origin.Battels.Term); err != nil {
			return err
		}
		refund.MarkAsPaid(s.Now)
		if err := r.Transactions.Add(ctx, refund); err != nil {
			return fmt.Errorf("could not add refund transaction: %w", err)
		}

		for _, t := range tickets {
			t.Cancel(reason)
			if err := r.Tickets.Update(ctx, t); err != nil {
				return fmt.Errorf("could not update %s: %w", t, err)
			}
		}

		entry := entity.NewLogEntry(actor, "tickets_refunded",
			fmt.Sprintf("Refunded %s to battels (%s)", -refund.Value(), origin.Battels.Term), s.Now).
			ForTransaction(refund.ID).
			ForTickets(ids...)
		if err := r.AuditLog.Append(ctx, entry); err != nil {
			return fmt.Errorf("could not write audit log: %w", err)
		}

		if err := r.Events.Publish(ctx, entity.TicketsCancelled{
			Header:    entity.NewEventHeader(),
			ActorID:   actor.UserID.String(),
			TicketIDs: idStrings(ids),
			Reason:    "refunded",
		}); err != nil {
			return err
		}
		return r.Events.Publish(ctx, entity.RefundIssued{
			Header:              entity.NewEventHeaderWithIdempotencyKey(refund.ID.String()),
			RefundTransactionID: refund.ID.String(),
			OriginalID:          origin.ID.String(),
			OwnerID:             origin.OwnerID.String(),
			Method:              string(entity.MethodBattels),
			Amount:              (-refund.Value()).View(),
		})
	})
	if err != nil {
		return uuid.Nil, err
	}

	metrics.TicketsCancelled.WithLabelValues("refunded").Add(float64(len(ids)))
	return refund.ID, nil
}

// refundedSoFar sums the refunds already issued against origin. Every refund
// carries at least one ticket of origin, so they are all found through them.
func refundedSoFar(ctx context.Context, r Repositories, origin *entity.Transaction) (entity.Money, error) {
	seen := map[uuid.UUID]bool{}
	var total entity.Money
	for _, ticketID := range origin.TicketIDs() {
		txs, err := r.Transactions.ForTicket(ctx, ticketID)
		if err != nil {
			return 0, fmt.Errorf("could not load transactions of ticket %s: %w", ticketID, err)
		}
		for _, tx := range txs {
			if seen[tx.ID] || tx.RefundOf == nil || *tx.RefundOf != origin.ID {
				continue
			}
			seen[tx.ID] = true
			total -= tx.Value()
		}
	}
	return total, nil
}

func wholeTransactionCancelled(ctx context.Context, r Repositories, origin *entity.Transaction, cancelling []uuid.UUID) (bool, error) {
	others, _ := lo.Difference(origin.TicketIDs(), cancelling)
	if len(others) == 0 {
		return true, nil
	}
	tickets, err := r.Tickets.GetMany(ctx, others)
	if err != nil {
		return false, err
	}
	return lo.EveryBy(tickets, func(t *entity.Ticket) bool { return t.Cancelled }), nil
}

func actorName(actor entity.Actor) string {
	if actor.IsSystem() {
		return "system"
	}
	if actor.Admin {
		return "admin " + actor.UserID.String()
	}
	return actor.UserID.String()
}
