package ticketing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"balltickets/entity"
)

type TicketRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Ticket, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*entity.Ticket, error)
	Add(ctx context.Context, ticket *entity.Ticket) error
	Update(ctx context.Context, ticket *entity.Ticket) error
	// FindByBarcode and FindByClaimCode return entity.ErrNotFound when no
	// ticket matches.
	FindByBarcode(ctx context.Context, barcode string) (*entity.Ticket, error)
	FindByClaimCode(ctx context.Context, code string) (*entity.Ticket, error)
	// FindExpired returns reserved tickets whose expiry is before now.
	FindExpired(ctx context.Context, now time.Time) ([]*entity.Ticket, error)
	CountLive(ctx context.Context) (int, error)
	CountLiveByOwner(ctx context.Context, owner uuid.UUID) (int, error)
}

type TransactionRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Transaction, error)
	Add(ctx context.Context, tx *entity.Transaction) error
	Update(ctx context.Context, tx *entity.Transaction) error
	FindByOrderID(ctx context.Context, orderID string) (*entity.Transaction, error)
	// ForTicket returns every transaction with an item for ticketID, oldest
	// first.
	ForTicket(ctx context.Context, ticketID uuid.UUID) ([]*entity.Transaction, error)
}

type BattelsRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Battels, error)
	FindByOwner(ctx context.Context, owner uuid.UUID) (*entity.Battels, error)
	// Add returns entity.ErrBattelsExists when owner already has an account.
	Add(ctx context.Context, battels *entity.Battels) error
	Update(ctx context.Context, battels *entity.Battels) error
}

type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (*entity.Voucher, error)
	Add(ctx context.Context, voucher *entity.Voucher) error
	Update(ctx context.Context, voucher *entity.Voucher) error
}

type WaitingRepository interface {
	Add(ctx context.Context, entry *entity.WaitingEntry) error
	Get(ctx context.Context, id uuid.UUID) (*entity.WaitingEntry, error)
	// OldestFirst lists entries by join time, ties broken by id.
	OldestFirst(ctx context.Context) ([]*entity.WaitingEntry, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type PostageRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Postage, error)
	Add(ctx context.Context, postage *entity.Postage) error
	Update(ctx context.Context, postage *entity.Postage) error
}

type AdminFeeRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.AdminFee, error)
	Add(ctx context.Context, fee *entity.AdminFee) error
	Update(ctx context.Context, fee *entity.AdminFee) error
}

type AuditLog interface {
	Append(ctx context.Context, entry entity.LogEntry) error
}

// EventPublisher publishes events as part of the unit of work, so they are
// only delivered when it commits.
type EventPublisher interface {
	Publish(ctx context.Context, event entity.Event) error
}

// Repositories are scoped to a single unit of work.
type Repositories struct {
	Tickets      TicketRepository
	Transactions TransactionRepository
	Battels      BattelsRepository
	Vouchers     VoucherRepository
	Waiting      WaitingRepository
	Postage      PostageRepository
	AdminFees    AdminFeeRepository
	AuditLog     AuditLog
	Events       EventPublisher
}

// UnitOfWork runs fn atomically. Nothing fn writes is visible to others
// unless fn returns nil.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type PaymentGateway interface {
	CreatePayment(ctx context.Context, request entity.PaymentRequest) (entity.PaymentRedirect, error)
	VerifyCallback(payload []byte, signature string) (entity.GatewayCallback, error)
	Refund(ctx context.Context, gatewayID string, amount entity.Money) (entity.GatewayRefund, error)
}

// Notifier is fire-and-forget. Errors are logged by callers and never abort
// the ledger path.
type Notifier interface {
	Send(ctx context.Context, recipient uuid.UUID, template string, data map[string]string) error
}

type SettingsProvider interface {
	Snapshot(now time.Time) Settings
}

type Clock interface {
	Now() time.Time
}

const (
	TemplateWaitingAllocated = "waiting_list_allocated"
	TemplatePaymentReceived  = "payment_received"
	TemplateTicketsCancelled = "tickets_cancelled"
	TemplateRefundIssued     = "refund_issued"
)
