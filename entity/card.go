package entity

import (
	"time"
)

type CardOutcome string

const (
	CardPending CardOutcome = "pending"
	CardSuccess CardOutcome = "success"
	CardFailure CardOutcome = "failure"
)

// cardResultCodes maps gateway response codes to outcomes. Codes not listed
// here count as failures once a result has been recorded.
var cardResultCodes = map[string]CardOutcome{
	"A2000": CardSuccess, // transaction approved
	"A2008": CardSuccess, // honour with identification
	"A2010": CardSuccess, // approved for partial amount
	"A2011": CardSuccess, // approved, VIP
	"A2016": CardSuccess, // approved, update track 3

	"D4401": CardFailure, // refer to issuer
	"D4402": CardFailure, // refer to issuer, special
	"D4405": CardFailure, // do not honour
	"D4406": CardFailure, // error
	"D4451": CardFailure, // insufficient funds
	"D4454": CardFailure, // expired card
	"D4457": CardFailure, // function not permitted to cardholder
	"D4482": CardFailure, // CVV validation error
	"S5010": CardFailure, // unknown error returned by gateway
	"S5099": CardFailure, // incomplete (access code in progress/incomplete)
	"F7000": CardFailure, // undefined fraud error
	"F7001": CardFailure, // challenged fraud
	"F7002": CardFailure, // country match fraud
	"F9023": CardFailure, // card type not supported
}

// OutcomeOf maps a result code to its outcome. An empty code is pending.
func OutcomeOf(code string) CardOutcome {
	if code == "" {
		return CardPending
	}
	if outcome, ok := cardResultCodes[code]; ok {
		return outcome
	}
	return CardFailure
}

// CardPayment is one attempt to pay a transaction by card through the gateway.
type CardPayment struct {
	// OrderID is embedded in the gateway redirect and echoed by the callback.
	OrderID     string     `json:"order_id"`
	AccessCode  string     `json:"access_code"`
	Charged     Money      `json:"charged"`
	Refunded    Money      `json:"refunded"`
	ResultCode  string     `json:"result_code"`
	GatewayID   string     `json:"gateway_id"`
	CompletedAt *time.Time `json:"completed_at"`
	StartedAt   time.Time  `json:"started_at"`
}

func NewCardAttempt(orderID, accessCode string, now time.Time) CardPayment {
	return CardPayment{
		OrderID:    orderID,
		AccessCode: accessCode,
		StartedAt:  now,
	}
}

func (c *CardPayment) Completed() bool {
	return c.CompletedAt != nil
}

func (c *CardPayment) Outcome() CardOutcome {
	if !c.Completed() {
		return CardPending
	}
	return OutcomeOf(c.ResultCode)
}

func (c *CardPayment) Pending() bool {
	return c.Outcome() == CardPending
}

// RecordResult stores the gateway's verdict. It is a no-op on a completed
// attempt so replays never overwrite the first result, and for a code that
// carries no verdict, which leaves the attempt open.
func (c *CardPayment) RecordResult(code string, charged Money, gatewayID string, now time.Time) bool {
	if c.Completed() || OutcomeOf(code) == CardPending {
		return false
	}

	c.ResultCode = code
	c.Charged = charged
	c.GatewayID = gatewayID
	c.CompletedAt = &now
	return true
}

func (c *CardPayment) Refundable() Money {
	return c.Charged - c.Refunded
}

// AddRefund records money returned by the gateway.
func (c *CardPayment) AddRefund(amount Money) error {
	if amount <= 0 {
		return ErrInvalidAmount.WithMessage("refund amount %d must be positive", amount)
	}
	if c.Outcome() != CardSuccess {
		return ErrWrongPaymentMethod.WithMessage("card attempt %s was not successful", c.OrderID)
	}
	if c.Refunded+amount > c.Charged {
		return ErrRefundExceeds.WithMessage(
			"refunding %d would exceed charged %d (already refunded %d)",
			amount, c.Charged, c.Refunded,
		)
	}

	c.Refunded += amount
	return nil
}
