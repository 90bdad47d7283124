package command

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"

	"balltickets/entity"
)

func (h Handler) SendNotificationHandler() cqrs.CommandHandler {
	return cqrs.NewCommandHandler(
		"SendNotificationHandler",
		func(ctx context.Context, command *entity.SendNotification) error {
			log.FromContext(ctx).
				WithField("template", command.Template).
				WithField("recipient", command.Recipient).
				Info("Sending notification")

			if err := h.notifications.SendNotification(ctx, *command); err != nil {
				return fmt.Errorf("could not send %s notification: %w", command.Template, err)
			}

			return nil
		},
	)
}
