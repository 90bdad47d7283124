package ticketing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balltickets/entity"
	"balltickets/ticketing"
)

func TestChargeToBattels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	battelsID := h.battelsFor(buyer)

	p := h.purchase(t, buyer, 2)

	paid, err := h.engine.ChargeToBattels(ctx, buyer, p.Transaction.ID, entity.BothTerms)
	require.NoError(t, err)
	assert.True(t, paid.Paid)
	assert.Equal(t, entity.MethodBattels, paid.Method)

	b := h.store.Battels(battelsID)
	assert.Equal(t, standardPrice, b.Michaelmas)
	assert.Equal(t, standardPrice, b.Hilary)

	for _, ticket := range p.Tickets {
		assert.Equal(t, entity.TicketPaid, h.ticketStatus(ticket.ID))
	}
	assert.Len(t, eventsOf[entity.TransactionPaid](h), 1)
	assert.Len(t, h.notifier.byTemplate(ticketing.TemplatePaymentReceived), 1)

	_, err = h.engine.ChargeToBattels(ctx, buyer, p.Transaction.ID, entity.Michaelmas)
	assert.ErrorIs(t, err, entity.ErrAlreadyPaid)
	assert.Equal(t, b, h.store.Battels(battelsID))
}

func TestChargeToBattels_is_atomic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	battelsID := h.battelsFor(buyer)
	p := h.purchase(t, buyer, 1)
	events := len(h.store.Events())

	h.store.FailNextCommit(errors.New("connection reset"))

	_, err := h.engine.ChargeToBattels(ctx, buyer, p.Transaction.ID, entity.Michaelmas)
	require.Error(t, err)

	assert.Equal(t, entity.Money(0), h.store.Battels(battelsID).Michaelmas)
	assert.False(t, h.store.Transaction(p.Transaction.ID).Paid)
	assert.Equal(t, entity.TicketReserved, h.ticketStatus(p.Tickets[0].ID))
	assert.Len(t, h.store.Events(), events+1, "only the operator alert is published")
	assert.Len(t, eventsOf[entity.OperatorAlertRaised](h), 1)
}

func TestChargeToBattels_rejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()

	p := h.purchase(t, buyer, 1)

	_, err := h.engine.ChargeToBattels(ctx, buyer, p.Transaction.ID, entity.Michaelmas)
	assert.ErrorIs(t, err, entity.ErrWrongPaymentMethod, "no battels account")

	h.battelsFor(buyer)

	_, err = h.engine.ChargeToBattels(ctx, user(), p.Transaction.ID, entity.Michaelmas)
	assert.ErrorIs(t, err, entity.ErrNotPermitted)

	_, err = h.engine.ChargeToBattels(ctx, buyer, p.Transaction.ID, entity.Trinity)
	assert.ErrorIs(t, err, entity.ErrInvalidTerm)

	assert.False(t, h.store.Transaction(p.Transaction.ID).Paid)
}

func TestChargeToBattels_after_expiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	battelsID := h.battelsFor(buyer)
	p := h.purchase(t, buyer, 1)

	h.clock.Advance(2 * time.Hour)
	report, err := h.sweeper.Run(ctx, ticketing.TierExpiry)
	require.NoError(t, err)
	require.Len(t, report.Cancelled, 1)

	_, err = h.engine.ChargeToBattels(ctx, buyer, p.Transaction.ID, entity.Michaelmas)
	assert.ErrorIs(t, err, entity.ErrTicketCancelled)
	assert.Equal(t, entity.Money(0), h.store.Battels(battelsID).Michaelmas)
}

func TestChargeFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()

	voucher, err := entity.NewVoucher("COMP", entity.FixedPrice, 0, entity.ScopeTicket, true, nil)
	require.NoError(t, err)
	require.NoError(t, h.engine.CreateVoucher(ctx, admin(), voucher))

	p, err := h.engine.Purchase(ctx, buyer, ticketing.PurchaseRequest{TicketType: "standard", Quantity: 1, VoucherCode: "COMP"})
	require.NoError(t, err)
	assert.Equal(t, entity.Money(0), p.Transaction.Value())

	paid, err := h.engine.ChargeFree(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.MethodFree, paid.Method)

	priced := h.purchase(t, buyer, 1)
	_, err = h.engine.ChargeFree(ctx, buyer, priced.Transaction.ID)
	assert.ErrorIs(t, err, entity.ErrNotFree)
}

func TestChargeToCard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 2)

	h.clock.Advance(50 * time.Minute)

	redirect, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, redirect.OrderID)
	assert.NotEmpty(t, redirect.URL)

	request, ok := h.gateway.Payments[redirect.OrderID]
	require.True(t, ok)
	assert.Equal(t, 2*standardPrice, request.Amount)
	assert.Equal(t, entity.Currency, request.Currency)

	tx := h.store.Transaction(p.Transaction.ID)
	require.NotNil(t, tx.Card)
	assert.True(t, tx.Card.Pending())
	assert.False(t, tx.Paid, "nothing is paid before the callback")

	for _, ticket := range p.Tickets {
		stored := h.store.Ticket(ticket.ID)
		assert.Equal(t, entity.TicketReserved, stored.Status())
		require.NotNil(t, stored.ExpiresAt)
		assert.Equal(t, h.clock.Now().Add(time.Hour), *stored.ExpiresAt, "reservation is kept alive at the gateway")
	}

	_, err = h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	assert.ErrorIs(t, err, entity.ErrTransactionClosed, "one pending attempt at a time")
}

func TestChargeToCard_gateway_unavailable(t *testing.T) {
	h := newHarness(t)
	buyer := user()
	p := h.purchase(t, buyer, 1)

	h.gateway.CreateErr = context.DeadlineExceeded

	_, err := h.engine.ChargeToCard(context.Background(), buyer, p.Transaction.ID)
	assert.ErrorIs(t, err, entity.ErrGatewayUnavailable)
	assert.Equal(t, entity.KindExternalUnavailable, entity.KindOf(err))

	tx := h.store.Transaction(p.Transaction.ID)
	assert.Nil(t, tx.Card)
	assert.False(t, tx.Paid)
}

func TestProcessGatewayCallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 1)

	redirect, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)

	payload, sig := h.gateway.Callback(redirect.OrderID, "A2000", standardPrice, "gw-1")

	outcome, err := h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.CardSuccess, outcome.Outcome)
	assert.False(t, outcome.Replayed)
	assert.Equal(t, p.Transaction.ID, outcome.TransactionID)

	tx := h.store.Transaction(p.Transaction.ID)
	assert.True(t, tx.Paid)
	assert.Equal(t, standardPrice, tx.Card.Charged)
	assert.Equal(t, "gw-1", tx.Card.GatewayID)
	assert.Equal(t, entity.TicketPaid, h.ticketStatus(p.Tickets[0].ID))

	events := len(h.store.Events())
	audit := len(h.store.AuditLog())

	// at-least-once delivery
	outcome, err = h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, outcome.Replayed)
	assert.Equal(t, entity.CardSuccess, outcome.Outcome)

	assert.Len(t, h.store.Events(), events)
	assert.Len(t, h.store.AuditLog(), audit)
	assert.Len(t, eventsOf[entity.TransactionPaid](h), 1)
	assert.Len(t, h.notifier.byTemplate(ticketing.TemplatePaymentReceived), 1)
}

func TestProcessGatewayCallback_failure_allows_retry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 1)

	first, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)

	payload, sig := h.gateway.Callback(first.OrderID, "D4405", 0, "gw-1")
	outcome, err := h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.CardFailure, outcome.Outcome)
	assert.False(t, h.store.Transaction(p.Transaction.ID).Paid)

	second, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, second.OrderID)

	// the replaced attempt can no longer complete the transaction
	payload, sig = h.gateway.Callback(first.OrderID, "A2000", standardPrice, "gw-1")
	_, err = h.engine.ProcessGatewayCallback(ctx, payload, sig)
	assert.ErrorIs(t, err, entity.ErrUnknownOrder)

	payload, sig = h.gateway.Callback(second.OrderID, "A2000", standardPrice, "gw-2")
	_, err = h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	assert.True(t, h.store.Transaction(p.Transaction.ID).Paid)
}

func TestProcessGatewayCallback_rejected(t *testing.T) {
	testCases := []struct {
		Name     string
		Callback func(h *harness, orderID string) ([]byte, string)
		Err      error
		Alert    bool
	}{
		{
			Name: "bad signature",
			Callback: func(h *harness, orderID string) ([]byte, string) {
				payload, _ := h.gateway.Callback(orderID, "A2000", standardPrice, "gw-1")
				return payload, "deadbeef"
			},
			Err:   entity.ErrInvalidSignature,
			Alert: true,
		},
		{
			Name: "unknown order",
			Callback: func(h *harness, _ string) ([]byte, string) {
				return h.gateway.Callback("no-such-order", "A2000", standardPrice, "gw-1")
			},
			Err:   entity.ErrUnknownOrder,
			Alert: true,
		},
		{
			Name: "amount mismatch",
			Callback: func(h *harness, orderID string) ([]byte, string) {
				return h.gateway.Callback(orderID, "A2000", standardPrice-1, "gw-1")
			},
			Err:   entity.ErrAmountMismatch,
			Alert: true,
		},
		{
			Name: "malformed",
			Callback: func(h *harness, _ string) ([]byte, string) {
				return []byte(`{"order_id":`), "deadbeef"
			},
			Err: entity.ErrMalformedCallback,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			buyer := user()
			p := h.purchase(t, buyer, 1)

			redirect, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
			require.NoError(t, err)

			payload, sig := tc.Callback(h, redirect.OrderID)
			_, err = h.engine.ProcessGatewayCallback(ctx, payload, sig)
			assert.ErrorIs(t, err, tc.Err)

			assert.False(t, h.store.Transaction(p.Transaction.ID).Paid)
			assert.Equal(t, entity.TicketReserved, h.ticketStatus(p.Tickets[0].ID))
			assert.Empty(t, eventsOf[entity.TransactionPaid](h))

			alerts := eventsOf[entity.OperatorAlertRaised](h)
			if tc.Alert {
				require.Len(t, alerts, 1)
				assert.Equal(t, string(entity.KindOf(tc.Err)), alerts[0].Kind)
			} else {
				assert.Empty(t, alerts)
			}
		})
	}
}

func TestProcessGatewayCallback_after_cancellation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 1)

	redirect, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)

	// an admin cancels by hand while the payer is at the gateway
	require.NoError(t, h.store.Do(ctx, func(ctx context.Context, r ticketing.Repositories) error {
		ticket, err := r.Tickets.Get(ctx, p.Tickets[0].ID)
		if err != nil {
			return err
		}
		ticket.Cancel("Cancelled by hand")
		return r.Tickets.Update(ctx, ticket)
	}))

	payload, sig := h.gateway.Callback(redirect.OrderID, "A2000", standardPrice, "gw-1")
	_, err = h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)

	assert.True(t, h.store.Transaction(p.Transaction.ID).Paid, "the money arrived")
	assert.Equal(t, entity.TicketCancelled, h.ticketStatus(p.Tickets[0].ID))

	alerts := eventsOf[entity.OperatorAlertRaised](h)
	require.Len(t, alerts, 1)
	assert.Equal(t, "invariant_violated", alerts[0].Code)
}

func TestProcessGatewayCallback_without_verdict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 1)

	redirect, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)

	payload, sig := h.gateway.Callback(redirect.OrderID, "", standardPrice, "gw-1")
	outcome, err := h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.CardPending, outcome.Outcome)
	assert.False(t, outcome.Replayed)

	tx := h.store.Transaction(p.Transaction.ID)
	require.NotNil(t, tx.Card)
	assert.False(t, tx.Card.Completed())
	assert.False(t, tx.Paid)

	payload, sig = h.gateway.Callback(redirect.OrderID, "A2000", standardPrice, "gw-1")
	outcome, err = h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.CardSuccess, outcome.Outcome)
	assert.False(t, outcome.Replayed)

	assert.True(t, h.store.Transaction(p.Transaction.ID).Paid)
	assert.Equal(t, entity.TicketPaid, h.ticketStatus(p.Tickets[0].ID))
}

func TestProcessGatewayCallback_after_expiry_sweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 1)

	redirect, err := h.engine.ChargeToCard(ctx, buyer, p.Transaction.ID)
	require.NoError(t, err)

	// the payer lingers at the gateway past the reservation
	h.clock.Advance(2 * time.Hour)
	report, err := h.sweeper.Run(ctx, ticketing.TierExpiry)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{p.Tickets[0].ID}, report.Cancelled)

	payload, sig := h.gateway.Callback(redirect.OrderID, "A2000", standardPrice, "gw-1")
	outcome, err := h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, entity.CardSuccess, outcome.Outcome)

	assert.True(t, h.store.Transaction(p.Transaction.ID).Paid, "the money arrived")
	assert.Equal(t, entity.TicketCancelled, h.ticketStatus(p.Tickets[0].ID))

	alerts := eventsOf[entity.OperatorAlertRaised](h)
	require.Len(t, alerts, 1)
	assert.Equal(t, "invariant_violated", alerts[0].Code)
}

func TestRefundCard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 1)
	h.payByCard(t, buyer, p.Transaction.ID)

	_, err := h.engine.RefundCard(ctx, buyer, p.Transaction.ID, 1000)
	assert.ErrorIs(t, err, entity.ErrNotPermitted)

	refund, err := h.engine.RefundCard(ctx, admin(), p.Transaction.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, entity.Money(-1000), refund.Value())
	assert.True(t, refund.Paid)
	require.NotNil(t, refund.RefundOf)
	assert.Equal(t, p.Transaction.ID, *refund.RefundOf)

	assert.Equal(t, entity.Money(1000), h.store.Transaction(p.Transaction.ID).Card.Refunded)

	_, err = h.engine.RefundCard(ctx, admin(), p.Transaction.ID, standardPrice)
	assert.ErrorIs(t, err, entity.ErrRefundExceeds)
	assert.Len(t, h.gateway.Refunds, 1, "a refund that would exceed the charge never reaches the gateway")

	_, err = h.engine.RefundCard(ctx, admin(), p.Transaction.ID, standardPrice-1000)
	require.NoError(t, err)
	assert.Equal(t, entity.Money(0), h.store.Transaction(p.Transaction.ID).Card.Refundable())

	assert.Len(t, eventsOf[entity.RefundIssued](h), 2)
	assert.Len(t, h.notifier.byTemplate(ticketing.TemplateRefundIssued), 2)
}

func TestRefundCard_gateway_failures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	p := h.purchase(t, buyer, 1)
	h.payByCard(t, buyer, p.Transaction.ID)

	h.gateway.DeclineRefunds = true
	_, err := h.engine.RefundCard(ctx, admin(), p.Transaction.ID, 1000)
	assert.ErrorIs(t, err, entity.ErrRefundDeclined)

	h.gateway.DeclineRefunds = false
	h.gateway.RefundErr = errors.New("connection refused")
	_, err = h.engine.RefundCard(ctx, admin(), p.Transaction.ID, 1000)
	assert.ErrorIs(t, err, entity.ErrGatewayUnavailable)

	assert.Equal(t, entity.Money(0), h.store.Transaction(p.Transaction.ID).Card.Refunded)
}

func TestRefundCard_not_a_card_payment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := user()
	h.battelsFor(buyer)
	p := h.purchase(t, buyer, 1)

	_, err := h.engine.ChargeToBattels(ctx, buyer, p.Transaction.ID, entity.Michaelmas)
	require.NoError(t, err)

	_, err = h.engine.RefundCard(ctx, admin(), p.Transaction.ID, 1000)
	assert.ErrorIs(t, err, entity.ErrWrongPaymentMethod)
}
