package bus

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"

	"balltickets/entity"
)

const (
	// EventsTopic receives every external event. The router splits it into
	// per-event topics and copies it to the data lake.
	EventsTopic         = "events"
	internalTopicPrefix = "internal-events.balltickets."
	eventTopicPrefix    = "events."
)

func NewEventBus(pub message.Publisher) (*cqrs.EventBus, error) {
	return cqrs.NewEventBusWithConfig(pub, cqrs.EventBusConfig{
		GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
			event, ok := params.Event.(entity.Event)
			if !ok {
				return "", fmt.Errorf("invalid event type: %T doesn't implement entity.Event", params.Event)
			}

			if event.IsInternal() {
				return internalTopicPrefix + params.EventName, nil
			}
			return EventsTopic, nil
		},
		Marshaler: Marshaler,
	})
}

// SubscribeTopic is where handlers of event listen.
func SubscribeTopic(event any, eventName string) (string, error) {
	e, ok := event.(entity.Event)
	if !ok {
		return "", fmt.Errorf("invalid event type: %T doesn't implement entity.Event", event)
	}
	if e.IsInternal() {
		return internalTopicPrefix + eventName, nil
	}
	return eventTopicPrefix + eventName, nil
}

// SplitTopic is the per-event topic an external event is forwarded to.
func SplitTopic(eventName string) string {
	return eventTopicPrefix + eventName
}

var Marshaler = cqrs.JSONMarshaler{
	GenerateName: cqrs.StructName,
}
