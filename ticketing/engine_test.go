package ticketing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"balltickets/db/memory"
	"balltickets/entity"
	"balltickets/gateway"
	"balltickets/pkg/clock"
	"balltickets/pkg/lock"
	"balltickets/ticketing"
)

var testNow = time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

const standardPrice entity.Money = 4500

type staticSettings struct {
	mu sync.Mutex
	s  ticketing.Settings
}

func (p *staticSettings) Snapshot(now time.Time) ticketing.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.s
	s.Now = now
	return s
}

func (p *staticSettings) update(fn func(s *ticketing.Settings)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.s)
}

type notification struct {
	Recipient uuid.UUID
	Template  string
	Data      map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Send(_ context.Context, recipient uuid.UUID, template string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{Recipient: recipient, Template: template, Data: data})
	return nil
}

func (n *recordingNotifier) byTemplate(template string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return lo.Filter(n.sent, func(s notification, _ int) bool { return s.Template == template })
}

type harness struct {
	store    *memory.Store
	clock    *clock.Fake
	gateway  *gateway.PaymentMock
	notifier *recordingNotifier
	settings *staticSettings
	locker   *lock.InMemory
	engine   *ticketing.Engine
	sweeper  *ticketing.Sweeper
}

func defaultSettings() ticketing.Settings {
	return ticketing.Settings{
		TicketTTL:           time.Hour,
		CurrentTerm:         entity.Hilary,
		SalesOpen:           true,
		CancellationEnabled: true,
		WaitingListOpen:     true,
		Capacity:            100,
		PerPersonLimit:      10,
		WaitingListType:     "standard",
		TicketTypes: map[string]ticketing.TicketType{
			"standard": {Slug: "standard", Name: "Standard", Price: standardPrice},
			"staff":    {Slug: "staff", Name: "Staff", Price: 0, AdminOnly: true},
		},
		Postage: map[string]ticketing.PostageOption{
			"first": {Slug: "first", Name: "First class", Price: 300, NeedsAddress: true},
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    memory.NewStore(),
		clock:    clock.NewFake(testNow),
		gateway:  &gateway.PaymentMock{},
		notifier: &recordingNotifier{},
		settings: &staticSettings{s: defaultSettings()},
		locker:   lock.NewInMemory(),
	}
	h.engine = ticketing.NewEngine(h.store, h.gateway, h.notifier, h.settings, h.clock).
		WithGatewayTimeout(time.Second)
	h.sweeper = ticketing.NewSweeper(h.engine, h.locker)

	return h
}

func user() entity.Actor {
	return entity.Actor{UserID: uuid.New()}
}

func admin() entity.Actor {
	return entity.Actor{UserID: uuid.New(), Admin: true}
}

func (h *harness) purchase(t *testing.T, actor entity.Actor, quantity int) ticketing.Purchase {
	t.Helper()
	p, err := h.engine.Purchase(context.Background(), actor, ticketing.PurchaseRequest{
		TicketType: "standard",
		Quantity:   quantity,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) battelsFor(actor entity.Actor) uuid.UUID {
	id := uuid.New()
	h.store.AddBattels(entity.Battels{ID: id, OwnerID: actor.UserID})
	return id
}

// payByCard runs a card attempt to a successful callback.
func (h *harness) payByCard(t *testing.T, actor entity.Actor, txID uuid.UUID) string {
	t.Helper()
	ctx := context.Background()

	redirect, err := h.engine.ChargeToCard(ctx, actor, txID)
	require.NoError(t, err)

	tx := h.store.Transaction(txID)
	payload, sig := h.gateway.Callback(redirect.OrderID, "A2000", tx.Value(), "gw-"+redirect.OrderID)
	outcome, err := h.engine.ProcessGatewayCallback(ctx, payload, sig)
	require.NoError(t, err)
	require.Equal(t, entity.CardSuccess, outcome.Outcome)

	return redirect.OrderID
}

func eventsOf[T entity.Event](h *harness) []T {
	var out []T
	for _, e := range h.store.Events() {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func auditActions(h *harness) []string {
	return lo.Map(h.store.AuditLog(), func(e entity.LogEntry, _ int) string { return e.Action })
}

func (h *harness) ticketStatus(id uuid.UUID) entity.TicketStatus {
	ticket := h.store.Ticket(id)
	return ticket.Status()
}

func (h *harness) transactionValue(id uuid.UUID) entity.Money {
	tx := h.store.Transaction(id)
	return tx.Value()
}
