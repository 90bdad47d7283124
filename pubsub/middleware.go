package pubsub

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/lithammer/shortuuid/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"balltickets/entity"
	"balltickets/metrics"
)

// PoisonQueueTopic holds messages that failed with an error retrying cannot
// fix. They are inspected and dropped with ticketsctl.
const PoisonQueueTopic = "poison_queue"

const correlationIDKey = "correlation_id"

func useMiddlewares(router *message.Router, poisonPublisher message.Publisher, watermillLogger watermill.LoggerAdapter) error {
	router.AddMiddleware(middleware.Recoverer)

	poisonQueue, err := middleware.PoisonQueueWithFilter(poisonPublisher, PoisonQueueTopic, isPermanent)
	if err != nil {
		return fmt.Errorf("could not create poison queue middleware: %w", err)
	}
	router.AddMiddleware(poisonQueue)

	router.AddMiddleware(middleware.Retry{
		MaxRetries:      10,
		InitialInterval: time.Millisecond * 100,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          watermillLogger,
	}.Middleware)

	router.AddMiddleware(correlationIDMiddleware, tracingMiddleware, loggingMiddleware, metricsMiddleware)

	return nil
}

// correlationIDMiddleware restores the id set by log.CorrelationPublisherDecorator.
// Messages from the outbox may predate it, so a fresh one is minted.
func correlationIDMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		correlationID := msg.Metadata.Get(correlationIDKey)
		if correlationID == "" {
			correlationID = "gen_" + shortuuid.New()
		}

		ctx := log.ContextWithCorrelationID(msg.Context(), correlationID)
		ctx = log.ToContext(ctx, logrus.WithField("correlation_id", correlationID))
		msg.SetContext(ctx)

		return next(msg)
	}
}

func tracingMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))
		topic := message.SubscribeTopicFromCtx(msg.Context())
		handler := message.HandlerNameFromCtx(msg.Context())

		ctx, span := otel.Tracer("").Start(ctx, "handle "+handler)
		span.SetAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("balltickets.handler", handler),
			attribute.String("balltickets.message_name", msg.Metadata.Get("name")),
		)
		defer span.End()
		msg.SetContext(ctx)

		messages, err := next(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return messages, err
	}
}

// loggingMiddleware leaves payloads out of the log; notifications and
// ledger events carry personal data.
func loggingMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		logger := log.FromContext(msg.Context()).WithFields(logrus.Fields{
			"message_id":   msg.UUID,
			"message_name": msg.Metadata.Get("name"),
			"handler":      message.HandlerNameFromCtx(msg.Context()),
			"trace_id":     trace.SpanFromContext(msg.Context()).SpanContext().TraceID().String(),
		})

		logger.Debug("Handling message")

		messages, err := next(msg)
		if err != nil {
			var classified *entity.Error
			if errors.As(err, &classified) {
				logger = logger.WithField("error_code", classified.Code)
			}
			logger.WithError(err).WithField("permanent", isPermanent(err)).Error("Message handling failed")
		}

		return messages, err
	}
}

func metricsMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) (messages []*message.Message, err error) {
		start := time.Now()
		labels := prometheus.Labels{
			"topic":   message.SubscribeTopicFromCtx(msg.Context()),
			"handler": message.HandlerNameFromCtx(msg.Context()),
		}

		defer func() {
			if err != nil {
				metrics.MessagesProcessingFailed.With(labels).Inc()
			}
			metrics.MessagesProcessed.With(labels).Inc()
			metrics.MessagesProcessingDuration.With(labels).Observe(time.Since(start).Seconds())
		}()

		return next(msg)
	}
}

// isPermanent reports errors that fail the same way on every redelivery.
// Unclassified and gateway errors stay on the stream.
func isPermanent(err error) bool {
	var classified *entity.Error
	if !errors.As(err, &classified) {
		return false
	}
	return classified.Kind != entity.KindExternalUnavailable
}
