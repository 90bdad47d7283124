// Package memory is an in-process implementation of the ticketing unit of
// work. Each Do works on a private copy of the state which replaces the shared
// state only when fn succeeds, so a failed unit leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"balltickets/entity"
	"balltickets/ticketing"
)

type state struct {
	tickets      map[uuid.UUID]entity.Ticket
	transactions map[uuid.UUID]entity.Transaction
	battels      map[uuid.UUID]entity.Battels
	vouchers     map[string]entity.Voucher
	waiting      map[uuid.UUID]entity.WaitingEntry
	postage      map[uuid.UUID]entity.Postage
	adminFees    map[uuid.UUID]entity.AdminFee
	auditLog     []entity.LogEntry
	events       []entity.Event
}

func newState() *state {
	return &state{
		tickets:      map[uuid.UUID]entity.Ticket{},
		transactions: map[uuid.UUID]entity.Transaction{},
		battels:      map[uuid.UUID]entity.Battels{},
		vouchers:     map[string]entity.Voucher{},
		waiting:      map[uuid.UUID]entity.WaitingEntry{},
		postage:      map[uuid.UUID]entity.Postage{},
		adminFees:    map[uuid.UUID]entity.AdminFee{},
	}
}

func (s *state) clone() *state {
	return &state{
		tickets:      cloneMap(s.tickets),
		transactions: cloneMap(s.transactions),
		battels:      cloneMap(s.battels),
		vouchers:     cloneMap(s.vouchers),
		waiting:      cloneMap(s.waiting),
		postage:      cloneMap(s.postage),
		adminFees:    cloneMap(s.adminFees),
		auditLog:     append([]entity.LogEntry(nil), s.auditLog...),
		events:       append([]entity.Event(nil), s.events...),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store serialises units of work, which gives the same guarantees as a
// serializable database transaction.
type Store struct {
	mu       sync.Mutex
	state    *state
	failNext error
}

func NewStore() *Store {
	return &Store{state: newState()}
}

var _ ticketing.UnitOfWork = (*Store)(nil)

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos ticketing.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, repositories(work)); err != nil {
		return err
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	s.state = work
	return nil
}

// FailNextCommit makes the next Do return err instead of committing.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func repositories(st *state) ticketing.Repositories {
	return ticketing.Repositories{
		Tickets:      tickets{st},
		Transactions: transactions{st},
		Battels:      battels{st},
		Vouchers:     vouchers{st},
		Waiting:      waiting{st},
		Postage:      postage{st},
		AdminFees:    adminFees{st},
		AuditLog:     auditLog{st},
		Events:       events{st},
	}
}

// Seed helpers and inspection, for tests and local runs.

func (s *Store) AddBattels(b entity.Battels) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.battels[b.ID] = b
}

func (s *Store) Battels(id uuid.UUID) entity.Battels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.battels[id]
}

func (s *Store) Ticket(id uuid.UUID) entity.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.tickets[id]
}

func (s *Store) Transaction(id uuid.UUID) entity.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTransaction(s.state.transactions[id])
}

func (s *Store) Transactions() []entity.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Map(lo.Values(s.state.transactions), func(tx entity.Transaction, _ int) entity.Transaction {
		return cloneTransaction(tx)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) Tickets() []entity.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Values(s.state.tickets)
}

func (s *Store) Waiting() []entity.WaitingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedWaiting(s.state)
}

func (s *Store) AuditLog() []entity.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.LogEntry(nil), s.state.auditLog...)
}

func (s *Store) Events() []entity.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Event(nil), s.state.events...)
}

func sortedWaiting(st *state) []entity.WaitingEntry {
	out := lo.Values(st.waiting)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func cloneTransaction(tx entity.Transaction) entity.Transaction {
	tx.Items = append([]entity.TransactionItem(nil), tx.Items...)
	if tx.Card != nil {
		card := *tx.Card
		tx.Card = &card
	}
	if tx.Battels != nil {
		b := *tx.Battels
		tx.Battels = &b
	}
	return tx
}

func notFound(what string, id any) error {
	return entity.ErrNotFound.WithMessage("%s %v not found", what, id)
}

type tickets struct{ st *state }

func (r tickets) Get(_ context.Context, id uuid.UUID) (*entity.Ticket, error) {
	t, ok := r.st.tickets[id]
	if !ok {
		return nil, notFound("ticket", id)
	}
	return &t, nil
}

func (r tickets) GetMany(ctx context.Context, ids []uuid.UUID) ([]*entity.Ticket, error) {
	out := make([]*entity.Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r tickets) Add(_ context.Context, t *entity.Ticket) error {
	if _, ok := r.st.tickets[t.ID]; ok {
		return nil
	}
	r.st.tickets[t.ID] = *t
	return nil
}

func (r tickets) Update(_ context.Context, t *entity.Ticket) error {
	if _, ok := r.st.tickets[t.ID]; !ok {
		return notFound("ticket", t.ID)
	}
	if t.Barcode != nil {
		for id, other := range r.st.tickets {
			if id != t.ID && other.Barcode != nil && *other.Barcode == *t.Barcode {
				return entity.ErrDuplicateBarcode.WithMessage("barcode %s is already in use", *t.Barcode)
			}
		}
	}
	r.st.tickets[t.ID] = *t
	return nil
}

func (r tickets) find(match func(entity.Ticket) bool, what string) (*entity.Ticket, error) {
	for _, t := range r.st.tickets {
		if match(t) {
			t := t
			return &t, nil
		}
	}
	return nil, notFound("ticket with", what)
}

func (r tickets) FindByBarcode(_ context.Context, barcode string) (*entity.Ticket, error) {
	return r.find(func(t entity.Ticket) bool {
		return t.Barcode != nil && *t.Barcode == barcode
	}, "barcode")
}

func (r tickets) FindByClaimCode(_ context.Context, code string) (*entity.Ticket, error) {
	return r.find(func(t entity.Ticket) bool {
		return t.ClaimCode != nil && *t.ClaimCode == code
	}, "claim code")
}

// FindExpired only looks at the expiry field. Status is left to the caller.
func (r tickets) FindExpired(_ context.Context, now time.Time) ([]*entity.Ticket, error) {
	var out []*entity.Ticket
	for _, t := range r.st.tickets {
		if t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r tickets) CountLive(_ context.Context) (int, error) {
	return lo.CountBy(lo.Values(r.st.tickets), func(t entity.Ticket) bool { return !t.Cancelled }), nil
}

func (r tickets) CountLiveByOwner(_ context.Context, owner uuid.UUID) (int, error) {
	return lo.CountBy(lo.Values(r.st.tickets), func(t entity.Ticket) bool {
		return !t.Cancelled && t.OwnerID == owner
	}), nil
}

type transactions struct{ st *state }

func (r transactions) Get(_ context.Context, id uuid.UUID) (*entity.Transaction, error) {
	tx, ok := r.st.transactions[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	tx = cloneTransaction(tx)
	return &tx, nil
}

func (r transactions) Add(_ context.Context, tx *entity.Transaction) error {
	r.st.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (r transactions) Update(_ context.Context, tx *entity.Transaction) error {
	if _, ok := r.st.transactions[tx.ID]; !ok {
		return notFound("transaction", tx.ID)
	}
	r.st.transactions[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (r transactions) FindByOrderID(_ context.Context, orderID string) (*entity.Transaction, error) {
	for _, tx := range r.st.transactions {
		if tx.RefundOf == nil && tx.Card != nil && tx.Card.OrderID == orderID {
			tx = cloneTransaction(tx)
			return &tx, nil
		}
	}
	return nil, notFound("transaction for order", orderID)
}

func (r transactions) ForTicket(_ context.Context, ticketID uuid.UUID) ([]*entity.Transaction, error) {
	var out []*entity.Transaction
	for _, tx := range r.st.transactions {
		for _, item := range tx.Items {
			if item.TicketID != nil && *item.TicketID == ticketID {
				tx := cloneTransaction(tx)
				out = append(out, &tx)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type battels struct{ st *state }

func (r battels) Get(_ context.Context, id uuid.UUID) (*entity.Battels, error) {
	b, ok := r.st.battels[id]
	if !ok {
		return nil, notFound("battels", id)
	}
	return &b, nil
}

func (r battels) FindByOwner(_ context.Context, owner uuid.UUID) (*entity.Battels, error) {
	for _, b := range r.st.battels {
		if b.OwnerID == owner {
			b := b
			return &b, nil
		}
	}
	return nil, notFound("battels of", owner)
}

func (r battels) Add(_ context.Context, b *entity.Battels) error {
	for _, existing := range r.st.battels {
		if existing.OwnerID == b.OwnerID {
			return entity.ErrBattelsExists.WithMessage("%s already has battels %s", b.OwnerID, existing.ID)
		}
	}
	r.st.battels[b.ID] = *b
	return nil
}

func (r battels) Update(_ context.Context, b *entity.Battels) error {
	r.st.battels[b.ID] = *b
	return nil
}

type vouchers struct{ st *state }

func (r vouchers) FindByCode(_ context.Context, code string) (*entity.Voucher, error) {
	v, ok := r.st.vouchers[code]
	if !ok {
		return nil, notFound("voucher", code)
	}
	return &v, nil
}

func (r vouchers) Add(_ context.Context, v *entity.Voucher) error {
	if _, ok := r.st.vouchers[v.Code]; ok {
		return entity.ErrInvalidVoucher.WithMessage("voucher %s already exists", v.Code)
	}
	r.st.vouchers[v.Code] = *v
	return nil
}

func (r vouchers) Update(_ context.Context, v *entity.Voucher) error {
	r.st.vouchers[v.Code] = *v
	return nil
}

type waiting struct{ st *state }

func (r waiting) Add(_ context.Context, e *entity.WaitingEntry) error {
	r.st.waiting[e.ID] = *e
	return nil
}

func (r waiting) Get(_ context.Context, id uuid.UUID) (*entity.WaitingEntry, error) {
	e, ok := r.st.waiting[id]
	if !ok {
		return nil, notFound("waiting entry", id)
	}
	return &e, nil
}

func (r waiting) OldestFirst(_ context.Context) ([]*entity.WaitingEntry, error) {
	sorted := sortedWaiting(r.st)
	return lo.Map(sorted, func(e entity.WaitingEntry, _ int) *entity.WaitingEntry {
		return &e
	}), nil
}

func (r waiting) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.st.waiting[id]; !ok {
		return notFound("waiting entry", id)
	}
	delete(r.st.waiting, id)
	return nil
}

type postage struct{ st *state }

func (r postage) Get(_ context.Context, id uuid.UUID) (*entity.Postage, error) {
	p, ok := r.st.postage[id]
	if !ok {
		return nil, notFound("postage", id)
	}
	return &p, nil
}

func (r postage) Add(_ context.Context, p *entity.Postage) error {
	r.st.postage[p.ID] = *p
	return nil
}

func (r postage) Update(_ context.Context, p *entity.Postage) error {
	r.st.postage[p.ID] = *p
	return nil
}

type adminFees struct{ st *state }

func (r adminFees) Get(_ context.Context, id uuid.UUID) (*entity.AdminFee, error) {
	f, ok := r.st.adminFees[id]
	if !ok {
		return nil, notFound("admin fee", id)
	}
	return &f, nil
}

func (r adminFees) Add(_ context.Context, f *entity.AdminFee) error {
	r.st.adminFees[f.ID] = *f
	return nil
}

func (r adminFees) Update(_ context.Context, f *entity.AdminFee) error {
	r.st.adminFees[f.ID] = *f
	return nil
}

type auditLog struct{ st *state }

func (r auditLog) Append(_ context.Context, entry entity.LogEntry) error {
	r.st.auditLog = append(r.st.auditLog, entry)
	return nil
}

type events struct{ st *state }

func (r events) Publish(_ context.Context, event entity.Event) error {
	r.st.events = append(r.st.events, event)
	return nil
}
