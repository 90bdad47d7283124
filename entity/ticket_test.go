package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func reserveTicket(t *testing.T, price Money) *Ticket {
	t.Helper()
	ticket, err := Reserve(uuid.New(), "standard", price, testNow, time.Hour)
	require.NoError(t, err)
	return ticket
}

func TestReserve(t *testing.T) {
	ticket := reserveTicket(t, 8500)

	assert.Equal(t, TicketReserved, ticket.Status())
	require.NotNil(t, ticket.ExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *ticket.ExpiresAt)
	assert.NoError(t, ticket.CheckInvariants())

	_, err := Reserve(uuid.New(), "standard", -1, testNow, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = Reserve(uuid.New(), "", 100, testNow, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestReserve_free_ticket_is_paid(t *testing.T) {
	ticket := reserveTicket(t, 0)

	assert.True(t, ticket.Paid)
	assert.Nil(t, ticket.ExpiresAt)
	assert.NoError(t, ticket.CheckInvariants())
}

func TestTicket_SetPrice(t *testing.T) {
	ticket := reserveTicket(t, 8500)

	require.NoError(t, ticket.SetPrice(4000))
	assert.False(t, ticket.Paid)

	require.NoError(t, ticket.SetPrice(0))
	assert.True(t, ticket.Paid)
	assert.Nil(t, ticket.ExpiresAt)

	err := ticket.SetPrice(100)
	assert.ErrorIs(t, err, ErrPriceLocked)
	assert.Equal(t, Money(0), ticket.Price)
}

func TestTicket_Cancel(t *testing.T) {
	ticket := reserveTicket(t, 8500)
	ticket.MarkPaid()

	ticket.Cancel("Cancelled by owner")

	assert.Equal(t, TicketCancelled, ticket.Status())
	assert.True(t, ticket.Paid, "cancel never unsets paid")
	assert.Nil(t, ticket.ExpiresAt)
	assert.Equal(t, "Cancelled by owner", ticket.Note)
	assert.NoError(t, ticket.CheckInvariants())

	ticket.MarkPaid()
	assert.Equal(t, TicketCancelled, ticket.Status())
}

func TestTicket_Expired(t *testing.T) {
	ticket := reserveTicket(t, 8500)

	assert.False(t, ticket.Expired(testNow))
	assert.True(t, ticket.Expired(testNow.Add(2*time.Hour)))

	ticket.MarkPaid()
	assert.False(t, ticket.Expired(testNow.Add(2*time.Hour)))
}

func TestTicket_AssignBarcode(t *testing.T) {
	ticket := reserveTicket(t, 8500)

	assert.ErrorIs(t, ticket.AssignBarcode("   "), ErrEmptyBarcode)
	assert.False(t, ticket.Collected())

	require.NoError(t, ticket.AssignBarcode("BALL-0001"))
	assert.True(t, ticket.Collected())

	err := ticket.AssignBarcode("BALL-0002")
	assert.ErrorIs(t, err, ErrAlreadyCollected)
	assert.Equal(t, "BALL-0001", *ticket.Barcode)
}

func TestTicket_claim_relinquish_reclaim(t *testing.T) {
	ticket := reserveTicket(t, 8500)
	owner := Actor{UserID: ticket.OwnerID}
	holder := Actor{UserID: uuid.New()}
	stranger := Actor{UserID: uuid.New()}

	require.NoError(t, ticket.Claim(holder.UserID))
	assert.Equal(t, 1, ticket.ClaimsMade)
	assert.ErrorIs(t, ticket.Claim(stranger.UserID), ErrAlreadyClaimed)

	assert.ErrorIs(t, ticket.Relinquish(owner), ErrNotPermitted)
	require.NoError(t, ticket.Relinquish(holder))
	assert.False(t, ticket.Held())
	assert.ErrorIs(t, ticket.Relinquish(holder), ErrNotHeld)

	require.NoError(t, ticket.Claim(holder.UserID))
	assert.Equal(t, 2, ticket.ClaimsMade)
	assert.ErrorIs(t, ticket.Reclaim(stranger), ErrNotPermitted)
	require.NoError(t, ticket.Reclaim(owner))

	require.NoError(t, ticket.Claim(holder.UserID))
	require.NoError(t, ticket.Reclaim(Actor{UserID: uuid.New(), Admin: true}))
	assert.False(t, ticket.Held())
}

func TestTicket_MarkEntered(t *testing.T) {
	ticket := reserveTicket(t, 8500)
	assert.ErrorIs(t, ticket.MarkEntered(), ErrTicketNotPaid)

	ticket.MarkPaid()
	require.NoError(t, ticket.MarkEntered())
	assert.ErrorIs(t, ticket.MarkEntered(), ErrAlreadyEntered)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "barcode must not be blank", UserMessage(ErrEmptyBarcode))
	assert.Equal(t, supportMessage, UserMessage(ErrInvalidSignature.WithMessage("secret detail")))
	assert.Equal(t, supportMessage, UserMessage(ErrNegativeBalance.WithMessage("secret detail")))
	assert.Equal(t, supportMessage, UserMessage(assert.AnError))
	assert.Contains(t, UserMessage(ErrGatewayUnavailable), "try again")
}
