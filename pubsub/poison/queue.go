package poison

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"

	"balltickets/pubsub"
)

const consumerGroup = "ticketsctl-poison-queue"

var ErrMessageNotFound = errors.New("message not found in poison queue")

type Message struct {
	ID      string
	Reason  string
	Topic   string
	Handler string
}

// Queue walks the poison queue by consuming every message and publishing
// the ones it keeps back to the end. A pass stops at the first message it
// has already seen, so each pass rotates the queue.
type Queue struct {
	subscriber message.Subscriber
	publisher  message.Publisher

	idleTimeout time.Duration
}

func NewQueue(subscriber message.Subscriber, publisher message.Publisher, idleTimeout time.Duration) *Queue {
	if subscriber == nil {
		panic("missing subscriber")
	}
	if publisher == nil {
		panic("missing publisher")
	}

	return &Queue{
		subscriber:  subscriber,
		publisher:   publisher,
		idleTimeout: idleTimeout,
	}
}

func NewRedisQueue(rdb *redis.Client, logger watermill.LoggerAdapter) (*Queue, error) {
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        rdb,
		ConsumerGroup: consumerGroup,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create poison queue subscriber: %w", err)
	}

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create poison queue publisher: %w", err)
	}

	return NewQueue(sub, pub, 2*time.Second), nil
}

func (q *Queue) Close() error {
	return errors.Join(q.subscriber.Close(), q.publisher.Close())
}

func (q *Queue) Preview(ctx context.Context) ([]Message, error) {
	var result []Message

	err := q.pass(ctx, func(msg *message.Message) (bool, bool, error) {
		result = append(result, toMessage(msg))
		return true, false, nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (q *Queue) Remove(ctx context.Context, messageID string) error {
	found := false

	err := q.pass(ctx, func(msg *message.Message) (bool, bool, error) {
		if msg.UUID != messageID {
			return true, false, nil
		}
		found = true
		return false, true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	return nil
}

// Requeue sends the message back to the topic it failed on. Every consumer
// group of that topic sees it again.
func (q *Queue) Requeue(ctx context.Context, messageID string) error {
	found := false

	err := q.pass(ctx, func(msg *message.Message) (bool, bool, error) {
		if msg.UUID != messageID {
			return true, false, nil
		}
		found = true

		topic := msg.Metadata.Get(middleware.PoisonedTopicKey)
		if topic == "" {
			return true, true, fmt.Errorf("message %s has no source topic", msg.UUID)
		}

		requeued := msg.Copy()
		for _, key := range []string{
			middleware.ReasonForPoisonedKey,
			middleware.PoisonedTopicKey,
			middleware.PoisonedHandlerKey,
			middleware.PoisonedSubscriberKey,
		} {
			delete(requeued.Metadata, key)
		}

		if err := q.publisher.Publish(topic, requeued); err != nil {
			return true, true, fmt.Errorf("could not requeue message %s: %w", msg.UUID, err)
		}
		return false, true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	return nil
}

// visit reports whether the message stays in the queue and whether the pass
// is done.
type visit func(msg *message.Message) (keep bool, done bool, err error)

func (q *Queue) pass(ctx context.Context, fn visit) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages, err := q.subscriber.Subscribe(ctx, pubsub.PoisonQueueTopic)
	if err != nil {
		return fmt.Errorf("could not subscribe to poison queue: %w", err)
	}

	firstID := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.idleTimeout):
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			if msg.UUID == firstID {
				// went all the way round
				return q.keep(msg)
			}
			if firstID == "" {
				firstID = msg.UUID
			}

			keep, done, err := fn(msg)
			if keep {
				if err := q.keep(msg); err != nil {
					return err
				}
			} else {
				msg.Ack()
			}
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (q *Queue) keep(msg *message.Message) error {
	if err := q.publisher.Publish(pubsub.PoisonQueueTopic, msg); err != nil {
		msg.Nack()
		return fmt.Errorf("could not put message %s back: %w", msg.UUID, err)
	}
	msg.Ack()
	return nil
}

func toMessage(msg *message.Message) Message {
	return Message{
		ID:      msg.UUID,
		Reason:  msg.Metadata.Get(middleware.ReasonForPoisonedKey),
		Topic:   msg.Metadata.Get(middleware.PoisonedTopicKey),
		Handler: msg.Metadata.Get(middleware.PoisonedHandlerKey),
	}
}
