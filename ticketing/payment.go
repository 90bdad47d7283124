package ticketing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"balltickets/entity"
	"balltickets/metrics"
)

// ChargeToBattels charges the transaction to the owner's battels account.
// The ledger charge and every paid flag commit together or not at all.
func (e *Engine) ChargeToBattels(ctx context.Context, actor entity.Actor, transactionID uuid.UUID, term entity.Term) (*entity.Transaction, error) {
	s := e.snapshot()

	var paid *entity.Transaction
	var tickets []*entity.Ticket
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx, err := r.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := checkOwner(actor, tx.OwnerID, "transaction"); err != nil {
			return err
		}
		if err := ensureTicketsLive(ctx, r, tx); err != nil {
			return err
		}

		battels, err := r.Battels.FindByOwner(ctx, tx.OwnerID)
		if errors.Is(err, entity.ErrNotFound) {
			return entity.ErrWrongPaymentMethod.WithMessage("you do not have a battels account")
		} else if err != nil {
			return fmt.Errorf("could not load battels: %w", err)
		}

		if err := tx.ChargeToBattels(battels.ID, term); err != nil {
			return err
		}
		if err := battels.Charge(tx.Value(), term); err != nil {
			return err
		}
		battels.UpdatedAt = s.Now
		if err := r.Battels.Update(ctx, battels); err != nil {
			return fmt.Errorf("could not update battels: %w", err)
		}

		tickets, err = completePayment(ctx, r, actor, tx, s.Now)
		if err != nil {
			return err
		}
		paid = tx
		return nil
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}

	metrics.TransactionsPaid.WithLabelValues(string(entity.MethodBattels)).Inc()
	log.FromContext(ctx).WithFields(logrus.Fields{
		"transaction_id": paid.ID,
		"term":           term,
	}).Info("Transaction charged to battels")
	e.notifyPaid(ctx, paid, tickets)

	return paid, nil
}

// ChargeFree completes a transaction whose value is zero.
func (e *Engine) ChargeFree(ctx context.Context, actor entity.Actor, transactionID uuid.UUID) (*entity.Transaction, error) {
	now := e.clock.Now()

	var paid *entity.Transaction
	var tickets []*entity.Ticket
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx, err := r.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := checkOwner(actor, tx.OwnerID, "transaction"); err != nil {
			return err
		}
		if err := ensureTicketsLive(ctx, r, tx); err != nil {
			return err
		}
		if err := tx.ChargeFree(); err != nil {
			return err
		}

		tickets, err = completePayment(ctx, r, actor, tx, now)
		if err != nil {
			return err
		}
		paid = tx
		return nil
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}

	metrics.TransactionsPaid.WithLabelValues(string(entity.MethodFree)).Inc()
	e.notifyPaid(ctx, paid, tickets)
	return paid, nil
}

// ChargeToCard starts a card attempt and returns where to send the payer.
// Nothing is marked paid until the gateway calls back.
func (e *Engine) ChargeToCard(ctx context.Context, actor entity.Actor, transactionID uuid.UUID) (entity.PaymentRedirect, error) {
	s := e.snapshot()

	var amount entity.Money
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx, err := r.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := checkOwner(actor, tx.OwnerID, "transaction"); err != nil {
			return err
		}
		if err := ensureTicketsLive(ctx, r, tx); err != nil {
			return err
		}
		// dry run on a copy so a doomed attempt never reaches the gateway
		trial := *tx
		if err := trial.ChargeToCard(entity.NewCardAttempt("", "", s.Now)); err != nil {
			return err
		}
		amount = tx.Value()
		if amount <= 0 {
			return entity.ErrInvalidAmount.WithMessage("nothing to pay by card")
		}
		return nil
	})
	if err != nil {
		return entity.PaymentRedirect{}, e.failClosed(ctx, err)
	}

	orderID := e.newCode()
	gatewayCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	redirect, err := e.gateway.CreatePayment(gatewayCtx, entity.PaymentRequest{
		OrderID:  orderID,
		Amount:   amount,
		Currency: entity.Currency,
		Metadata: map[string]string{
			"transaction_id": transactionID.String(),
			"owner_id":       actor.UserID.String(),
		},
	})
	if err != nil {
		log.FromContext(ctx).WithError(err).WithField("transaction_id", transactionID).Warn("Payment gateway unavailable")
		return entity.PaymentRedirect{}, entity.ErrGatewayUnavailable.WithMessage("could not start card payment: %s", err)
	}
	if redirect.OrderID == "" {
		redirect.OrderID = orderID
	}

	err = e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx, err := r.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Value() != amount {
			return entity.ErrTransactionClosed.WithMessage("transaction %s changed while starting payment", tx.ID)
		}
		if err := tx.ChargeToCard(entity.NewCardAttempt(redirect.OrderID, redirect.AccessCode, s.Now)); err != nil {
			return err
		}
		if err := r.Transactions.Update(ctx, tx); err != nil {
			return fmt.Errorf("could not update transaction: %w", err)
		}

		// keep the reservation alive while the payer is at the gateway
		tickets, err := r.Tickets.GetMany(ctx, tx.TicketIDs())
		if err != nil {
			return fmt.Errorf("could not load tickets: %w", err)
		}
		for _, t := range tickets {
			t.ExtendExpiry(s.Now.Add(s.TicketTTL))
			if err := r.Tickets.Update(ctx, t); err != nil {
				return fmt.Errorf("could not update %s: %w", t, err)
			}
		}

		return r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "card_payment_started",
			fmt.Sprintf("Started card payment %s for %s", redirect.OrderID, amount), s.Now).
			ForTransaction(tx.ID))
	})
	if err != nil {
		return entity.PaymentRedirect{}, e.failClosed(ctx, err)
	}

	return redirect, nil
}

type CallbackOutcome struct {
	TransactionID uuid.UUID
	Outcome       entity.CardOutcome
	// Replayed is set when the attempt had already completed and the
	// callback changed nothing.
	Replayed bool
}

// ProcessGatewayCallback applies a gateway verdict. Replays of a completed
// attempt are no-ops. Signature failures, unknown orders and amount mismatches
// change nothing and are raised to operators.
func (e *Engine) ProcessGatewayCallback(ctx context.Context, payload []byte, signature string) (CallbackOutcome, error) {
	cb, err := e.gateway.VerifyCallback(payload, signature)
	if err != nil {
		metrics.GatewayCallbacks.WithLabelValues("malformed").Inc()
		return CallbackOutcome{}, entity.ErrMalformedCallback.WithMessage("malformed gateway callback: %s", err)
	}
	if !cb.SignatureValid {
		metrics.GatewayCallbacks.WithLabelValues("bad_signature").Inc()
		err := entity.ErrInvalidSignature.WithMessage("callback for order %q failed signature verification", cb.OrderID)
		e.raiseOperatorAlert(ctx, err, cb.OrderID)
		return CallbackOutcome{}, err
	}

	now := e.clock.Now()
	var outcome CallbackOutcome
	var mismatch error
	var paid *entity.Transaction
	var tickets []*entity.Ticket

	err = e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx, err := r.Transactions.FindByOrderID(ctx, cb.OrderID)
		if errors.Is(err, entity.ErrNotFound) {
			return entity.ErrUnknownOrder.WithMessage("no transaction for order %q", cb.OrderID)
		} else if err != nil {
			return fmt.Errorf("could not find transaction: %w", err)
		}
		if tx.Card == nil || tx.Card.OrderID != cb.OrderID {
			// an older attempt that was replaced
			return entity.ErrUnknownOrder.WithMessage("order %q is not the current attempt of %s", cb.OrderID, tx.ID)
		}

		outcome.TransactionID = tx.ID
		if tx.Card.Completed() {
			outcome.Outcome = tx.Card.Outcome()
			outcome.Replayed = true
			return nil
		}

		if !tx.Card.RecordResult(cb.ResultCode, cb.Charged, cb.GatewayID, now) {
			// no verdict yet, the final callback completes the attempt
			outcome.Outcome = entity.CardPending
			return nil
		}
		outcome.Outcome = tx.Card.Outcome()

		if outcome.Outcome == entity.CardSuccess && cb.Charged != tx.Value() {
			mismatch = entity.ErrAmountMismatch.WithMessage(
				"order %s charged %d but transaction %s is worth %d", cb.OrderID, cb.Charged, tx.ID, tx.Value(),
			)
		}

		if outcome.Outcome != entity.CardSuccess || mismatch != nil {
			if err := r.Transactions.Update(ctx, tx); err != nil {
				return fmt.Errorf("could not update transaction: %w", err)
			}
			return r.AuditLog.Append(ctx, entity.NewLogEntry(entity.SystemActor, "card_payment_failed",
				fmt.Sprintf("Card payment %s finished with %s", cb.OrderID, cb.ResultCode), now).
				ForTransaction(tx.ID))
		}

		tickets, err = completePayment(ctx, r, entity.SystemActor, tx, now)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if t.Cancelled {
				// money arrived for a ticket that was cancelled meanwhile
				mismatch = entity.ErrInvariantViolated.WithMessage("order %s paid for cancelled %s", cb.OrderID, t)
			}
		}
		paid = tx
		return nil
	})
	if err != nil {
		metrics.GatewayCallbacks.WithLabelValues("rejected").Inc()
		if errors.Is(err, entity.ErrUnknownOrder) {
			e.raiseOperatorAlert(ctx, err, cb.OrderID)
			return CallbackOutcome{}, err
		}
		return CallbackOutcome{}, e.failClosed(ctx, err)
	}

	switch {
	case outcome.Replayed:
		metrics.GatewayCallbacks.WithLabelValues("replayed").Inc()
	default:
		metrics.GatewayCallbacks.WithLabelValues(string(outcome.Outcome)).Inc()
	}

	if mismatch != nil {
		e.raiseOperatorAlert(ctx, mismatch, cb.OrderID)
		if paid == nil {
			return outcome, mismatch
		}
	}

	if paid != nil {
		metrics.TransactionsPaid.WithLabelValues(string(entity.MethodCard)).Inc()
		e.notifyPaid(ctx, paid, tickets)
	}

	log.FromContext(ctx).WithFields(logrus.Fields{
		"order_id":       cb.OrderID,
		"transaction_id": outcome.TransactionID,
		"outcome":        outcome.Outcome,
		"replayed":       outcome.Replayed,
	}).Info("Gateway callback processed")

	return outcome, nil
}

// RefundCard returns part of a successful card payment through the gateway.
// Cumulative refunds never exceed the charged amount.
func (e *Engine) RefundCard(ctx context.Context, actor entity.Actor, transactionID uuid.UUID, amount entity.Money) (*entity.Transaction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var gatewayID string
	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx, err := r.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Method != entity.MethodCard || tx.Card == nil || !tx.Paid {
			return entity.ErrWrongPaymentMethod.WithMessage("%s is not a completed card payment", tx)
		}
		trial := *tx.Card
		if err := trial.AddRefund(amount); err != nil {
			return err
		}
		gatewayID = tx.Card.GatewayID
		return nil
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	res, err := e.gateway.Refund(gatewayCtx, gatewayID, amount)
	if err != nil {
		return nil, entity.ErrGatewayUnavailable.WithMessage("could not refund %s: %s", gatewayID, err)
	}
	if !res.Success {
		return nil, entity.ErrRefundDeclined.WithMessage("gateway declined refund of %s on %s", amount, gatewayID)
	}

	now := e.clock.Now()
	var refund *entity.Transaction
	err = e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		tx, err := r.Transactions.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := tx.Card.AddRefund(res.Refunded); err != nil {
			// the gateway has moved money we cannot account for
			return entity.ErrInvariantViolated.WithMessage("gateway refunded %d on %s: %s", res.Refunded, gatewayID, err)
		}
		if err := r.Transactions.Update(ctx, tx); err != nil {
			return fmt.Errorf("could not update transaction: %w", err)
		}

		refund = entity.OpenRefund(tx, now)
		item := entity.GenericItem("Card refund", res.Refunded)
		item.IsRefund = true
		if err := refund.AttachItem(item); err != nil {
			return err
		}
		refund.Method = entity.MethodCard
		refund.Card = &entity.CardPayment{
			OrderID:     tx.Card.OrderID,
			Charged:     res.Refunded,
			ResultCode:  tx.Card.ResultCode,
			GatewayID:   res.GatewayID,
			StartedAt:   now,
			CompletedAt: &now,
		}
		refund.MarkAsPaid(now)
		if err := r.Transactions.Add(ctx, refund); err != nil {
			return fmt.Errorf("could not add refund transaction: %w", err)
		}

		if err := r.AuditLog.Append(ctx, entity.NewLogEntry(actor, "card_refunded",
			fmt.Sprintf("Refunded %s to card (gateway %s)", res.Refunded, res.GatewayID), now).
			ForTransaction(refund.ID)); err != nil {
			return fmt.Errorf("could not write audit log: %w", err)
		}

		return r.Events.Publish(ctx, entity.RefundIssued{
			Header:              entity.NewEventHeaderWithIdempotencyKey(refund.ID.String()),
			RefundTransactionID: refund.ID.String(),
			OriginalID:          tx.ID.String(),
			OwnerID:             tx.OwnerID.String(),
			Method:              string(entity.MethodCard),
			Amount:              res.Refunded.View(),
		})
	})
	if err != nil {
		return nil, e.failClosed(ctx, err)
	}

	e.notify(ctx, refund.OwnerID, TemplateRefundIssued, map[string]string{
		"amount": (-refund.Value()).String(),
	})
	return refund, nil
}

func (e *Engine) notifyPaid(ctx context.Context, tx *entity.Transaction, tickets []*entity.Ticket) {
	e.notify(ctx, tx.OwnerID, TemplatePaymentReceived, map[string]string{
		"transaction_id": tx.ID.String(),
		"amount":         tx.Value().String(),
		"method":         string(tx.Method),
		"tickets":        strconv.Itoa(len(tickets)),
	})
}
