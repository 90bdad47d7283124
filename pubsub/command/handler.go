package command

import (
	"context"

	"balltickets/entity"
)

type NotificationsService interface {
	SendNotification(ctx context.Context, command entity.SendNotification) error
}

type Handler struct {
	notifications NotificationsService
}

func NewHandler(notifications NotificationsService) Handler {
	if notifications == nil {
		panic("missing notifications")
	}

	return Handler{
		notifications: notifications,
	}
}
