package poison_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"balltickets/pubsub"
	"balltickets/pubsub/poison"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := redisContainer.RunContainer(ctx, testcontainers.WithImage("docker.io/redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return rdb
}

func poisonMessages(t *testing.T, rdb *redis.Client, n int) []string {
	t.Helper()

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: rdb}, watermill.NopLogger{})
	require.NoError(t, err)
	defer pub.Close()

	var ids []string
	for i := 0; i < n; i++ {
		msg := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
		msg.Metadata.Set(middleware.ReasonForPoisonedKey, "ticket does not exist")
		msg.Metadata.Set(middleware.PoisonedTopicKey, "events.RefundIssued")
		msg.Metadata.Set(middleware.PoisonedHandlerKey, "refund_issued")
		require.NoError(t, pub.Publish(pubsub.PoisonQueueTopic, msg))
		ids = append(ids, msg.UUID)
	}
	return ids
}

func previewIDs(t *testing.T, q *poison.Queue) []string {
	t.Helper()

	messages, err := q.Preview(context.Background())
	require.NoError(t, err)
	return lo.Map(messages, func(m poison.Message, _ int) string { return m.ID })
}

func TestQueue(t *testing.T) {
	rdb := newRedis(t)
	ids := poisonMessages(t, rdb, 5)

	q, err := poison.NewRedisQueue(rdb, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Close()
	})

	messages, err := q.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 5)
	assert.Equal(t, ids, lo.Map(messages, func(m poison.Message, _ int) string { return m.ID }))
	assert.Equal(t, "ticket does not exist", messages[0].Reason)
	assert.Equal(t, "events.RefundIssued", messages[0].Topic)
	assert.Equal(t, "refund_issued", messages[0].Handler)

	// previewing leaves the queue intact
	assert.ElementsMatch(t, ids, previewIDs(t, q))

	require.NoError(t, q.Remove(context.Background(), ids[2]))
	assert.ElementsMatch(t, []string{ids[0], ids[1], ids[3], ids[4]}, previewIDs(t, q))

	err = q.Remove(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, poison.ErrMessageNotFound)
	assert.Len(t, previewIDs(t, q), 4)
}

func TestQueue_Requeue(t *testing.T) {
	rdb := newRedis(t)
	ids := poisonMessages(t, rdb, 2)

	q, err := poison.NewRedisQueue(rdb, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Close()
	})

	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        rdb,
		ConsumerGroup: "requeue-test",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sub.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requeued, err := sub.Subscribe(ctx, "events.RefundIssued")
	require.NoError(t, err)

	require.NoError(t, q.Requeue(context.Background(), ids[1]))

	select {
	case msg := <-requeued:
		assert.Equal(t, ids[1], msg.UUID)
		assert.Empty(t, msg.Metadata.Get(middleware.ReasonForPoisonedKey))
		msg.Ack()
	case <-time.After(10 * time.Second):
		t.Fatal("requeued message was not delivered")
	}

	assert.Equal(t, []string{ids[0]}, previewIDs(t, q))
}
