package gateway

import (
	"context"
	"sync"

	"balltickets/entity"
)

type NotificationsMock struct {
	mock sync.Mutex

	Sent map[string]entity.SendNotification
}

func (c *NotificationsMock) SendNotification(ctx context.Context, command entity.SendNotification) error {
	c.mock.Lock()
	defer c.mock.Unlock()

	if c.Sent == nil {
		c.Sent = make(map[string]entity.SendNotification)
	}

	c.Sent[command.Header.IdempotencyKey] = command

	return nil
}

func (c *NotificationsMock) Count() int {
	c.mock.Lock()
	defer c.mock.Unlock()
	return len(c.Sent)
}

// Templates lists the templates sent to recipient, in no particular order.
func (c *NotificationsMock) Templates(recipient string) []string {
	c.mock.Lock()
	defer c.mock.Unlock()

	var templates []string
	for _, sent := range c.Sent {
		if sent.Recipient == recipient {
			templates = append(templates, sent.Template)
		}
	}
	return templates
}
