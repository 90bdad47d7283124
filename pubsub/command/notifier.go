package command

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/google/uuid"

	"balltickets/entity"
)

// Notifier queues notifications on the command bus. Delivery happens in
// SendNotificationHandler, outside the caller's request.
type Notifier struct {
	commandBus *cqrs.CommandBus
}

func NewNotifier(commandBus *cqrs.CommandBus) Notifier {
	if commandBus == nil {
		panic("missing commandBus")
	}

	return Notifier{commandBus: commandBus}
}

func (n Notifier) Send(ctx context.Context, recipient uuid.UUID, template string, data map[string]string) error {
	return n.commandBus.Send(ctx, entity.SendNotification{
		Header:    entity.NewEventHeaderWithIdempotencyKey(uuid.NewString()),
		Recipient: recipient.String(),
		Template:  template,
		Context:   data,
	})
}
