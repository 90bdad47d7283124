// Package outbox stores events in Postgres inside the caller's transaction
// and forwards them to Redis once it commits.
package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	watermillSQL "github.com/ThreeDotsLabs/watermill-sql/v2/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/components/forwarder"
	"github.com/ThreeDotsLabs/watermill/message"

	"balltickets/tracing"
)

const Topic = "events_to_forward"

// NewPublisherForDb returns a publisher writing to the outbox table through
// tx. Messages become visible to the forwarder only after tx commits.
func NewPublisherForDb(ctx context.Context, tx *sql.Tx) (message.Publisher, error) {
	var publisher message.Publisher

	logger := log.NewWatermill(log.FromContext(ctx))

	publisher, err := watermillSQL.NewPublisher(
		tx,
		watermillSQL.PublisherConfig{
			SchemaAdapter: watermillSQL.DefaultPostgreSQLSchema{},
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create outbox publisher: %w", err)
	}

	publisher = log.CorrelationPublisherDecorator{Publisher: publisher}
	publisher = tracing.PublisherDecorator{Publisher: publisher}

	return forwarder.NewPublisher(publisher, forwarder.PublisherConfig{
		ForwarderTopic: Topic,
	}), nil
}

func NewPostgresSubscriber(db *sql.DB, logger watermill.LoggerAdapter) message.Subscriber {
	sub, err := watermillSQL.NewSubscriber(db, watermillSQL.SubscriberConfig{
		SchemaAdapter:    watermillSQL.DefaultPostgreSQLSchema{},
		OffsetsAdapter:   watermillSQL.DefaultPostgreSQLOffsetsAdapter{},
		InitializeSchema: true,
	}, logger)
	if err != nil {
		panic(fmt.Errorf("could not create outbox subscriber: %w", err))
	}

	return sub
}

// AddForwarderHandler moves outbox messages to publisher on router.
func AddForwarderHandler(
	postgresSubscriber message.Subscriber,
	publisher message.Publisher,
	router *message.Router,
	logger watermill.LoggerAdapter,
) {
	_, err := forwarder.NewForwarder(
		postgresSubscriber,
		publisher,
		logger,
		forwarder.Config{
			ForwarderTopic: Topic,
			Router:         router,
		},
	)
	if err != nil {
		panic(fmt.Errorf("could not create outbox forwarder: %w", err))
	}
}

// InitializeSchema creates the outbox tables up front, so units of work can
// publish before the forwarder has subscribed.
func InitializeSchema(db *sql.DB) error {
	sub := NewPostgresSubscriber(db, watermill.NopLogger{})
	initializer, ok := sub.(message.SubscribeInitializer)
	if !ok {
		return fmt.Errorf("outbox subscriber %T cannot initialize its schema", sub)
	}
	if err := initializer.SubscribeInitialize(Topic); err != nil {
		return fmt.Errorf("could not initialize outbox schema: %w", err)
	}
	return sub.Close()
}
