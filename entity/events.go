package entity

import (
	"time"

	"github.com/google/uuid"
)

type EventHeader struct {
	ID             string    `json:"id"`
	PublishedAt    time.Time `json:"published_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func NewEventHeader() EventHeader {
	return EventHeader{
		ID:          uuid.NewString(),
		PublishedAt: time.Now().UTC(),
	}
}

func NewEventHeaderWithIdempotencyKey(idempotencyKey string) EventHeader {
	return EventHeader{
		ID:             uuid.NewString(),
		PublishedAt:    time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}
}

// Event is implemented by everything published on the event bus. Internal
// events skip the data lake and go straight to their own topic.
type Event interface {
	IsInternal() bool
}

// DataLakeEvent is an external event as stored in the events table.
type DataLakeEvent struct {
	ID          string    `db:"event_id"`
	PublishedAt time.Time `db:"published_at"`
	Name        string    `db:"event_name"`
	Payload     []byte    `db:"event_payload"`
}

type TicketsReserved struct {
	Header        EventHeader `json:"header"`
	OwnerID       string      `json:"owner_id"`
	TicketIDs     []string    `json:"ticket_ids"`
	TransactionID string      `json:"transaction_id"`
	Source        string      `json:"source"`
}

func (e TicketsReserved) IsInternal() bool { return false }

type TransactionPaid struct {
	Header        EventHeader `json:"header"`
	TransactionID string      `json:"transaction_id"`
	OwnerID       string      `json:"owner_id"`
	Method        string      `json:"method"`
	Value         MoneyView   `json:"value"`
	TicketIDs     []string    `json:"ticket_ids"`
}

func (e TransactionPaid) IsInternal() bool { return false }

type TicketsCancelled struct {
	Header    EventHeader `json:"header"`
	ActorID   string      `json:"actor_id"`
	TicketIDs []string    `json:"ticket_ids"`
	Reason    string      `json:"reason"`
}

func (e TicketsCancelled) IsInternal() bool { return false }

type RefundIssued struct {
	Header              EventHeader `json:"header"`
	RefundTransactionID string      `json:"refund_transaction_id"`
	OriginalID          string      `json:"original_transaction_id"`
	OwnerID             string      `json:"owner_id"`
	Method              string      `json:"method"`
	Amount              MoneyView   `json:"amount"`
}

func (e RefundIssued) IsInternal() bool { return false }

type WaitingListAllocated struct {
	Header        EventHeader `json:"header"`
	OwnerID       string      `json:"owner_id"`
	Quantity      int         `json:"quantity"`
	TransactionID string      `json:"transaction_id"`
}

func (e WaitingListAllocated) IsInternal() bool { return false }

// OperatorAlertRaised carries security and integrity failures to operators.
// Detail here is never shown to users.
type OperatorAlertRaised struct {
	Header  EventHeader `json:"header"`
	Kind    string      `json:"kind"`
	Code    string      `json:"code"`
	Detail  string      `json:"detail"`
	OrderID string      `json:"order_id,omitempty"`
}

func (e OperatorAlertRaised) IsInternal() bool { return false }
