package pubsub

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"

	"balltickets/entity"
)

func TestIsPermanent(t *testing.T) {
	testCases := []struct {
		Name      string
		Err       error
		Permanent bool
	}{
		{Name: "unclassified", Err: errors.New("connection reset"), Permanent: false},
		{Name: "gateway_unavailable", Err: entity.ErrGatewayUnavailable, Permanent: false},
		{Name: "state_conflict", Err: entity.ErrAlreadyPaid.WithMessage("paid"), Permanent: true},
		{Name: "wrapped_integrity", Err: fmt.Errorf("handling: %w", entity.ErrAmountMismatch), Permanent: true},
		{Name: "not_found", Err: entity.ErrNotFound, Permanent: true},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			assert.Equal(t, tc.Permanent, isPermanent(tc.Err))
		})
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	var seen string
	handler := correlationIDMiddleware(func(msg *message.Message) ([]*message.Message, error) {
		seen = log.CorrelationIDFromContext(msg.Context())
		return nil, nil
	})

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	msg.Metadata.Set(correlationIDKey, "req-42")
	_, err := handler(msg)
	assert.NoError(t, err)
	assert.Equal(t, "req-42", seen)

	_, err = handler(message.NewMessage(watermill.NewUUID(), []byte(`{}`)))
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(seen, "gen_"), seen)
}
