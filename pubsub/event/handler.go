package event

import (
	"context"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/sirupsen/logrus"

	"balltickets/entity"
)

type Handler struct{}

func NewHandler() Handler {
	return Handler{}
}

// OperatorAlertHandler writes alerts to the operators log channel, which is
// what on-call watches.
func (h Handler) OperatorAlertHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"OperatorAlertHandler",
		func(ctx context.Context, event *entity.OperatorAlertRaised) error {
			log.FromContext(ctx).WithFields(logrus.Fields{
				"channel":  "operators",
				"kind":     event.Kind,
				"code":     event.Code,
				"order_id": event.OrderID,
				"alert_id": event.Header.ID,
			}).Error(event.Detail)

			return nil
		},
	)
}

// RefundIssuedHandler records refunds for the bursary's reconciliation.
func (h Handler) RefundIssuedHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"RefundIssuedHandler",
		func(ctx context.Context, event *entity.RefundIssued) error {
			log.FromContext(ctx).WithFields(logrus.Fields{
				"channel":                 "bursary",
				"refund_transaction_id":   event.RefundTransactionID,
				"original_transaction_id": event.OriginalID,
				"method":                  event.Method,
				"amount":                  event.Amount.Amount,
			}).Info("Refund issued")

			return nil
		},
	)
}
