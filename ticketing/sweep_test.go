package ticketing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balltickets/entity"
	"balltickets/ticketing"
)

func (h *harness) joinWaiting(t *testing.T, quantity int) *entity.WaitingEntry {
	t.Helper()
	entry, err := h.engine.JoinWaitingList(context.Background(), user(), quantity, nil)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	return entry
}

func waitingIDs(h *harness) []uuid.UUID {
	return lo.Map(h.store.Waiting(), func(e entity.WaitingEntry, _ int) uuid.UUID { return e.ID })
}

func TestSweep_waiting_list_is_strictly_fifo(t *testing.T) {
	h := newHarness(t)
	h.settings.update(func(s *ticketing.Settings) {
		s.Capacity = 4
	})

	a := h.joinWaiting(t, 5)
	b := h.joinWaiting(t, 2)
	c := h.joinWaiting(t, 3)

	report, err := h.sweeper.Run(context.Background(), ticketing.TierAllocation)
	require.NoError(t, err)

	assert.Empty(t, report.Allocations, "smaller entries never jump the queue")
	require.NotNil(t, report.HaltedAt)
	assert.Equal(t, a.ID, *report.HaltedAt)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, waitingIDs(h))
	assert.Empty(t, h.store.Tickets())
	assert.Empty(t, h.notifier.byTemplate(ticketing.TemplateWaitingAllocated))
}

func TestSweep_zero_capacity_is_unlimited(t *testing.T) {
	h := newHarness(t)
	h.settings.update(func(s *ticketing.Settings) {
		s.Capacity = 0
	})

	h.purchase(t, user(), 3)
	h.joinWaiting(t, 2)
	h.joinWaiting(t, 4)

	report, err := h.sweeper.Run(context.Background(), ticketing.TierAllocation)
	require.NoError(t, err)

	assert.Len(t, report.Allocations, 2)
	assert.Nil(t, report.HaltedAt)
	assert.Empty(t, waitingIDs(h))
}

func TestSweep_allocates_oldest_first(t *testing.T) {
	h := newHarness(t)
	h.settings.update(func(s *ticketing.Settings) {
		s.Capacity = 6
	})

	a := h.joinWaiting(t, 2)
	b := h.joinWaiting(t, 3)
	c := h.joinWaiting(t, 2)

	report, err := h.sweeper.Run(context.Background(), ticketing.TierAllocation)
	require.NoError(t, err)

	require.Len(t, report.Allocations, 2)
	assert.Equal(t, a.ID, report.Allocations[0].EntryID)
	assert.Equal(t, b.ID, report.Allocations[1].EntryID)
	require.NotNil(t, report.HaltedAt)
	assert.Equal(t, c.ID, *report.HaltedAt)
	assert.Equal(t, []uuid.UUID{c.ID}, waitingIDs(h))

	for _, allocation := range report.Allocations {
		tx := h.store.Transaction(allocation.TransactionID)
		assert.Equal(t, allocation.OwnerID, tx.OwnerID)
		assert.False(t, tx.Paid)
		assert.Equal(t, standardPrice*entity.Money(len(allocation.TicketIDs)), tx.Value())

		for _, id := range allocation.TicketIDs {
			ticket := h.store.Ticket(id)
			assert.Equal(t, entity.TicketReserved, ticket.Status())
			assert.Equal(t, allocation.OwnerID, ticket.OwnerID)
		}
	}

	assert.Len(t, eventsOf[entity.WaitingListAllocated](h), 2)
	notified := h.notifier.byTemplate(ticketing.TemplateWaitingAllocated)
	require.Len(t, notified, 2)
	assert.Equal(t, a.OwnerID, notified[0].Recipient)
	assert.Equal(t, "2", notified[0].Data["quantity"])

	// capacity is now used up; the next tick changes nothing
	report, err = h.sweeper.Run(context.Background(), ticketing.TierAllocation)
	require.NoError(t, err)
	assert.Empty(t, report.Allocations)
	assert.Equal(t, []uuid.UUID{c.ID}, waitingIDs(h))
}

func TestSweep_expiry_tier_does_not_allocate(t *testing.T) {
	h := newHarness(t)
	h.joinWaiting(t, 1)

	report, err := h.sweeper.Run(context.Background(), ticketing.TierExpiry)
	require.NoError(t, err)

	assert.Empty(t, report.Allocations)
	assert.Nil(t, report.HaltedAt)
	assert.Len(t, h.store.Waiting(), 1)
}

func TestSweep_cancels_expired_reservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	expiring := h.purchase(t, user(), 2)

	// paid tickets are never cancelled by the sweep, even with a stale expiry
	var stale *entity.Ticket
	require.NoError(t, h.store.Do(ctx, func(ctx context.Context, r ticketing.Repositories) error {
		var err error
		stale, err = entity.Reserve(uuid.New(), "standard", standardPrice, testNow, time.Minute)
		if err != nil {
			return err
		}
		stale.Paid = true
		return r.Tickets.Add(ctx, stale)
	}))

	h.clock.Advance(30 * time.Minute)
	fresh := h.purchase(t, user(), 1)

	h.clock.Advance(40 * time.Minute)

	report, err := h.sweeper.Run(ctx, ticketing.TierExpiry)
	require.NoError(t, err)

	assert.ElementsMatch(t, ticketIDsOf(expiring.Tickets), report.Cancelled)
	for _, ticket := range expiring.Tickets {
		stored := h.store.Ticket(ticket.ID)
		assert.Equal(t, entity.TicketCancelled, stored.Status())
		assert.Nil(t, stored.ExpiresAt)
		assert.Contains(t, stored.Note, "expired")
	}
	assert.Equal(t, entity.TicketPaid, h.ticketStatus(stale.ID))
	assert.Equal(t, entity.TicketReserved, h.ticketStatus(fresh.Tickets[0].ID))

	cancelled := eventsOf[entity.TicketsCancelled](h)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "expired", cancelled[0].Reason)
	assert.Contains(t, auditActions(h), "tickets_expired")

	// nothing left to expire
	report, err = h.sweeper.Run(ctx, ticketing.TierExpiry)
	require.NoError(t, err)
	assert.Empty(t, report.Cancelled)
	assert.Len(t, eventsOf[entity.TicketsCancelled](h), 1)
}

func TestSweep_frees_capacity_for_waiting_list(t *testing.T) {
	h := newHarness(t)
	h.settings.update(func(s *ticketing.Settings) {
		s.Capacity = 2
	})

	h.purchase(t, user(), 2)
	entry := h.joinWaiting(t, 2)

	report, err := h.sweeper.Run(context.Background(), ticketing.TierAllocation)
	require.NoError(t, err)
	assert.Empty(t, report.Allocations)

	h.clock.Advance(2 * time.Hour)

	report, err = h.sweeper.Run(context.Background(), ticketing.TierAllocation)
	require.NoError(t, err)
	assert.Len(t, report.Cancelled, 2)
	require.Len(t, report.Allocations, 1)
	assert.Equal(t, entry.ID, report.Allocations[0].EntryID)
	assert.Empty(t, h.store.Waiting())
}

func TestSweep_skips_while_another_sweep_runs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.purchase(t, user(), 1)
	h.clock.Advance(2 * time.Hour)

	release, ok, err := h.locker.TryLock(ctx, "balltickets:sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := h.sweeper.Run(ctx, ticketing.TierAllocation)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, entity.TicketReserved, h.ticketStatus(p.Tickets[0].ID))

	require.NoError(t, release(ctx))

	report, err = h.sweeper.Run(ctx, ticketing.TierAllocation)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Len(t, report.Cancelled, 1)

	// the lock is released after each run
	_, ok, err = h.locker.TryLock(ctx, "balltickets:sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseTier(t *testing.T) {
	tier, err := ticketing.ParseTier("allocation")
	require.NoError(t, err)
	assert.Equal(t, ticketing.TierAllocation, tier)

	_, err = ticketing.ParseTier("hourly")
	assert.Error(t, err)
}

func ticketIDsOf(tickets []*entity.Ticket) []uuid.UUID {
	return lo.Map(tickets, func(t *entity.Ticket, _ int) uuid.UUID { return t.ID })
}
