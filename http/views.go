package http

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"balltickets/entity"
	"balltickets/ticketing"
)

type ticketView struct {
	TicketID   uuid.UUID        `json:"ticket_id"`
	OwnerID    uuid.UUID        `json:"owner_id"`
	HolderID   *uuid.UUID       `json:"holder_id,omitempty"`
	Type       string           `json:"type"`
	Price      entity.MoneyView `json:"price"`
	Status     string           `json:"status"`
	Collected  bool             `json:"collected"`
	Entered    bool             `json:"entered"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	ClaimsMade int              `json:"claims_made"`
}

func toTicketView(t *entity.Ticket) ticketView {
	return ticketView{
		TicketID:   t.ID,
		OwnerID:    t.OwnerID,
		HolderID:   t.HolderID,
		Type:       t.Type,
		Price:      t.Price.View(),
		Status:     string(t.Status()),
		Collected:  t.Collected(),
		Entered:    t.Entered,
		ExpiresAt:  t.ExpiresAt,
		ClaimsMade: t.ClaimsMade,
	}
}

func toTicketViews(tickets []*entity.Ticket) []ticketView {
	return lo.Map(tickets, func(t *entity.Ticket, _ int) ticketView { return toTicketView(t) })
}

type itemView struct {
	Kind        string           `json:"kind"`
	Description string           `json:"description"`
	Value       entity.MoneyView `json:"value"`
}

type transactionView struct {
	TransactionID uuid.UUID        `json:"transaction_id"`
	OwnerID       uuid.UUID        `json:"owner_id"`
	Paid          bool             `json:"paid"`
	Method        string           `json:"method,omitempty"`
	Value         entity.MoneyView `json:"value"`
	RefundOf      *uuid.UUID       `json:"refund_of,omitempty"`
	Items         []itemView       `json:"items"`
}

func toTransactionView(tx *entity.Transaction) transactionView {
	return transactionView{
		TransactionID: tx.ID,
		OwnerID:       tx.OwnerID,
		Paid:          tx.Paid,
		Method:        string(tx.Method),
		Value:         tx.Value().View(),
		RefundOf:      tx.RefundOf,
		Items: lo.Map(tx.Items, func(item entity.TransactionItem, _ int) itemView {
			return itemView{
				Kind:        string(item.Kind),
				Description: item.Description,
				Value:       item.Value().View(),
			}
		}),
	}
}

type purchaseView struct {
	Transaction transactionView `json:"transaction"`
	Tickets     []ticketView    `json:"tickets"`
}

func toPurchaseView(p ticketing.Purchase) purchaseView {
	return purchaseView{
		Transaction: toTransactionView(p.Transaction),
		Tickets:     toTicketViews(p.Tickets),
	}
}

type cancelFailureView struct {
	TicketID uuid.UUID `json:"ticket_id"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Manual   bool      `json:"manual_refund"`
}

type cancelReportView struct {
	Cancelled []uuid.UUID         `json:"cancelled"`
	Refunds   []uuid.UUID         `json:"refunds"`
	Failed    []cancelFailureView `json:"failed"`
}

func toCancelReportView(r ticketing.CancelReport) cancelReportView {
	return cancelReportView{
		Cancelled: r.Cancelled,
		Refunds:   r.Refunds,
		Failed: lo.Map(r.Failed, func(f ticketing.CancelFailure, _ int) cancelFailureView {
			view := cancelFailureView{
				TicketID: f.TicketID,
				Code:     "internal",
				Message:  entity.UserMessage(f.Err),
				Manual:   f.Manual,
			}
			var classified *entity.Error
			if errors.As(f.Err, &classified) {
				view.Code = classified.Code
			}
			return view
		}),
	}
}

type sweepReportView struct {
	Tier      string      `json:"tier"`
	Skipped   bool        `json:"skipped"`
	Cancelled []uuid.UUID `json:"cancelled"`
	Allocated []uuid.UUID `json:"allocated_transactions"`
	HaltedAt  *uuid.UUID  `json:"halted_at,omitempty"`
}

func toSweepReportView(r ticketing.SweepReport) sweepReportView {
	return sweepReportView{
		Tier:      string(r.Tier),
		Skipped:   r.Skipped,
		Cancelled: r.Cancelled,
		Allocated: lo.Map(r.Allocations, func(a ticketing.Allocation, _ int) uuid.UUID {
			return a.TransactionID
		}),
		HaltedAt: r.HaltedAt,
	}
}
