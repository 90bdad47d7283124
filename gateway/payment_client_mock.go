package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lithammer/shortuuid/v3"

	"balltickets/entity"
)

var mockSecret = []byte("mock-gateway-secret")

type PaymentMock struct {
	mock sync.Mutex

	Payments map[string]entity.PaymentRequest
	Refunds  []entity.Money

	// CreateErr and RefundErr simulate an outage.
	CreateErr error
	RefundErr error
	// DeclineRefunds makes the gateway refuse every refund.
	DeclineRefunds bool
}

func (c *PaymentMock) CreatePayment(ctx context.Context, request entity.PaymentRequest) (entity.PaymentRedirect, error) {
	c.mock.Lock()
	defer c.mock.Unlock()

	if c.CreateErr != nil {
		return entity.PaymentRedirect{}, c.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return entity.PaymentRedirect{}, err
	}
	if c.Payments == nil {
		c.Payments = make(map[string]entity.PaymentRequest)
	}
	c.Payments[request.OrderID] = request

	return entity.PaymentRedirect{
		OrderID:    request.OrderID,
		AccessCode: shortuuid.New(),
		URL:        "https://gateway.invalid/pay/" + request.OrderID,
	}, nil
}

func (c *PaymentMock) VerifyCallback(payload []byte, signature string) (entity.GatewayCallback, error) {
	return verifyCallback(mockSecret, payload, signature)
}

func (c *PaymentMock) Refund(ctx context.Context, gatewayID string, amount entity.Money) (entity.GatewayRefund, error) {
	c.mock.Lock()
	defer c.mock.Unlock()

	if c.RefundErr != nil {
		return entity.GatewayRefund{}, c.RefundErr
	}
	if c.DeclineRefunds {
		return entity.GatewayRefund{}, nil
	}
	c.Refunds = append(c.Refunds, amount)

	return entity.GatewayRefund{
		Success:   true,
		Refunded:  amount,
		GatewayID: fmt.Sprintf("%s-refund-%d", gatewayID, len(c.Refunds)),
	}, nil
}

// Callback builds a callback body signed the way the mock verifies it.
func (c *PaymentMock) Callback(orderID, resultCode string, charged entity.Money, gatewayID string) ([]byte, string) {
	payload, err := json.Marshal(callbackPayload{
		OrderID:    orderID,
		ResultCode: resultCode,
		Charged:    int64(charged),
		GatewayID:  gatewayID,
	})
	if err != nil {
		panic(err)
	}
	return payload, Sign(mockSecret, payload)
}
