package ticketing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"balltickets/entity"
	"balltickets/metrics"
)

const defaultGatewayTimeout = 10 * time.Second

// Engine runs every ledger-mutating operation. Each operation resolves one
// settings snapshot and commits through a single unit of work unless noted.
type Engine struct {
	uow            UnitOfWork
	gateway        PaymentGateway
	notifier       Notifier
	settings       SettingsProvider
	clock          Clock
	gatewayTimeout time.Duration
	newCode        func() string
}

func NewEngine(
	uow UnitOfWork,
	gateway PaymentGateway,
	notifier Notifier,
	settings SettingsProvider,
	clock Clock,
) *Engine {
	if uow == nil {
		panic("missing uow")
	}
	if gateway == nil {
		panic("missing gateway")
	}
	if notifier == nil {
		panic("missing notifier")
	}
	if settings == nil {
		panic("missing settings")
	}
	if clock == nil {
		panic("missing clock")
	}

	return &Engine{
		uow:            uow,
		gateway:        gateway,
		notifier:       notifier,
		settings:       settings,
		clock:          clock,
		gatewayTimeout: defaultGatewayTimeout,
		newCode:        shortuuid.New,
	}
}

// WithGatewayTimeout bounds every call to the payment gateway.
func (e *Engine) WithGatewayTimeout(d time.Duration) *Engine {
	e.gatewayTimeout = d
	return e
}

func (e *Engine) snapshot() Settings {
	return e.settings.Snapshot(e.clock.Now())
}

func (e *Engine) notify(ctx context.Context, recipient uuid.UUID, template string, data map[string]string) {
	if err := e.notifier.Send(ctx, recipient, template, data); err != nil {
		log.FromContext(ctx).WithError(err).WithFields(logrus.Fields{
			"recipient": recipient,
			"template":  template,
		}).Warn("Could not send notification")
	}
}

// raiseOperatorAlert reports a security or integrity failure on the operator
// channel. The alert is best effort; the original error is what callers get.
func (e *Engine) raiseOperatorAlert(ctx context.Context, cause error, orderID string) {
	kind := entity.KindOf(cause)
	code := "unclassified"
	var classified *entity.Error
	if errors.As(cause, &classified) {
		code = classified.Code
	}

	metrics.OperatorAlerts.WithLabelValues(string(kind)).Inc()
	log.FromContext(ctx).WithError(cause).WithFields(logrus.Fields{
		"channel":  "operators",
		"kind":     kind,
		"code":     code,
		"order_id": orderID,
	}).Error("Operator attention required")

	err := e.uow.Do(ctx, func(ctx context.Context, r Repositories) error {
		return r.Events.Publish(ctx, entity.OperatorAlertRaised{
			Header:  entity.NewEventHeader(),
			Kind:    string(kind),
			Code:    code,
			Detail:  cause.Error(),
			OrderID: orderID,
		})
	})
	if err != nil {
		log.FromContext(ctx).WithError(err).Error("Could not publish operator alert")
	}
}

// failClosed routes operator concerns to the alert channel and returns err.
func (e *Engine) failClosed(ctx context.Context, err error) error {
	if err != nil && entity.IsOperatorConcern(err) {
		e.raiseOperatorAlert(ctx, err, "")
	}
	return err
}

func checkOwner(actor entity.Actor, owner uuid.UUID, what string) error {
	if actor.Admin || actor.UserID == owner {
		return nil
	}
	return entity.ErrNotPermitted.WithMessage("%s belongs to someone else", what)
}

func requireAdmin(actor entity.Actor) error {
	if !actor.Admin {
		return entity.ErrNotPermitted.WithMessage("only admins may do this")
	}
	return nil
}

// completePayment marks tx paid together with every ticket, postage and fee
// it references. It runs inside the caller's unit of work.
func completePayment(ctx context.Context, r Repositories, actor entity.Actor, tx *entity.Transaction, now time.Time) ([]*entity.Ticket, error) {
	tx.MarkAsPaid(now)
	if err := r.Transactions.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("could not update transaction: %w", err)
	}

	tickets, err := r.Tickets.GetMany(ctx, tx.TicketIDs())
	if err != nil {
		return nil, fmt.Errorf("could not load tickets: %w", err)
	}
	for _, t := range tickets {
		t.MarkPaid()
		if err := r.Tickets.Update(ctx, t); err != nil {
			return nil, fmt.Errorf("could not update %s: %w", t, err)
		}
	}

	for _, id := range tx.PostageIDs() {
		p, err := r.Postage.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("could not load postage %s: %w", id, err)
		}
		p.MarkPaid()
		if err := r.Postage.Update(ctx, p); err != nil {
			return nil, fmt.Errorf("could not update postage %s: %w", id, err)
		}
	}

	for _, id := range tx.AdminFeeIDs() {
		f, err := r.AdminFees.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("could not load admin fee %s: %w", id, err)
		}
		f.MarkPaid()
		if err := r.AdminFees.Update(ctx, f); err != nil {
			return nil, fmt.Errorf("could not update admin fee %s: %w", id, err)
		}
	}

	entry := entity.NewLogEntry(actor, "transaction_paid",
		fmt.Sprintf("Paid %s via %s", tx.Value(), tx.Method), now).
		ForTransaction(tx.ID).
		ForTickets(tx.TicketIDs()...)
	if err := r.AuditLog.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("could not write audit log: %w", err)
	}

	err = r.Events.Publish(ctx, entity.TransactionPaid{
		Header:        entity.NewEventHeaderWithIdempotencyKey(tx.ID.String()),
		TransactionID: tx.ID.String(),
		OwnerID:       tx.OwnerID.String(),
		Method:        string(tx.Method),
		Value:         tx.Value().View(),
		TicketIDs:     idStrings(tx.TicketIDs()),
	})
	if err != nil {
		return nil, fmt.Errorf("could not publish TransactionPaid: %w", err)
	}

	return tickets, nil
}

// ensureTicketsLive rejects charging a transaction whose tickets were
// cancelled in the meantime, for example by the expiry sweep.
func ensureTicketsLive(ctx context.Context, r Repositories, tx *entity.Transaction) error {
	tickets, err := r.Tickets.GetMany(ctx, tx.TicketIDs())
	if err != nil {
		return fmt.Errorf("could not load tickets: %w", err)
	}
	for _, t := range tickets {
		if t.Cancelled {
			return entity.ErrTicketCancelled.WithMessage("%s was cancelled before payment", t)
		}
	}
	return nil
}

func idStrings(ids []uuid.UUID) []string {
	return lo.Map(ids, func(id uuid.UUID, _ int) string {
		return id.String()
	})
}

func ticketIDs(tickets []*entity.Ticket) []uuid.UUID {
	return lo.Map(tickets, func(t *entity.Ticket, _ int) uuid.UUID {
		return t.ID
	})
}
