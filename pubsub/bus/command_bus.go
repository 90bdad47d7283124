package bus

import (
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
)

const commandTopicPrefix = "commands."

func NewCommandBus(pub message.Publisher) (*cqrs.CommandBus, error) {
	return cqrs.NewCommandBusWithConfig(pub, cqrs.CommandBusConfig{
		GeneratePublishTopic: func(params cqrs.CommandBusGeneratePublishTopicParams) (string, error) {
			return CommandTopic(params.CommandName), nil
		},
		Marshaler: Marshaler,
	})
}

func CommandTopic(commandName string) string {
	return commandTopicPrefix + commandName
}
