package entity

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindStateConflict       ErrorKind = "state_conflict"
	KindSecurity            ErrorKind = "security"
	KindExternalUnavailable ErrorKind = "external_unavailable"
	KindIntegrity           ErrorKind = "integrity"
	KindNotFound            ErrorKind = "not_found"
)

// Error is a classified engine error. Two errors match with errors.Is when
// their codes are equal, so sentinels below can carry no detail while the
// returned error carries a specific message.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e carrying a specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidTerm       = newError(KindValidation, "invalid_term", "unknown battels term")
	ErrEmptyBarcode      = newError(KindValidation, "empty_barcode", "barcode must not be blank")
	ErrInvalidPrice      = newError(KindValidation, "invalid_price", "price must not be negative")
	ErrInvalidType       = newError(KindValidation, "invalid_ticket_type", "unknown ticket type")
	ErrInvalidVoucher    = newError(KindValidation, "invalid_voucher", "voucher is malformed")
	ErrInvalidQuantity   = newError(KindValidation, "invalid_quantity", "quantity must be positive")
	ErrInvalidAmount     = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrNoTickets         = newError(KindValidation, "no_tickets", "no tickets given")
	ErrMalformedCallback = newError(KindValidation, "malformed_callback", "gateway callback could not be decoded")

	ErrAlreadyCollected   = newError(KindStateConflict, "already_collected", "ticket has already been collected")
	ErrDuplicateBarcode   = newError(KindStateConflict, "duplicate_barcode", "barcode is already assigned to another ticket")
	ErrAlreadyClaimed     = newError(KindStateConflict, "already_claimed", "ticket has already been claimed")
	ErrNotHeld            = newError(KindStateConflict, "not_held", "ticket has no holder")
	ErrNotPermitted       = newError(KindStateConflict, "not_permitted", "actor may not perform this action")
	ErrTicketCancelled    = newError(KindStateConflict, "ticket_cancelled", "ticket has been cancelled")
	ErrTicketNotPaid      = newError(KindStateConflict, "ticket_not_paid", "ticket has not been paid for")
	ErrAlreadyEntered     = newError(KindStateConflict, "already_entered", "ticket has already been used for entry")
	ErrPriceLocked        = newError(KindStateConflict, "price_locked", "ticket price can no longer change")
	ErrTransactionClosed  = newError(KindStateConflict, "transaction_closed", "transaction no longer accepts changes")
	ErrAlreadyPaid        = newError(KindStateConflict, "already_paid", "transaction has already been paid")
	ErrRefundWindowClosed = newError(KindStateConflict, "refund_window_closed", "battels refunds are closed this term")
	ErrAlreadyUsed        = newError(KindStateConflict, "voucher_already_used", "voucher has already been used")
	ErrExpired            = newError(KindStateConflict, "voucher_expired", "voucher has expired")
	ErrSoldOut            = newError(KindStateConflict, "sold_out", "not enough tickets available")
	ErrLimitExceeded      = newError(KindStateConflict, "limit_exceeded", "ticket limit exceeded")
	ErrLockdown           = newError(KindStateConflict, "lockdown", "this action is currently disabled")
	ErrNotCancellable     = newError(KindStateConflict, "not_cancellable", "ticket cannot be cancelled")
	ErrWrongPaymentMethod = newError(KindStateConflict, "wrong_payment_method", "operation not valid for this payment method")
	ErrRefundExceeds      = newError(KindStateConflict, "refund_exceeds_charge", "refund would exceed the charged amount")
	ErrNotFree            = newError(KindStateConflict, "not_free", "transaction has a non-zero value")
	ErrManualRefund       = newError(KindStateConflict, "manual_refund_required", "ticket must be refunded manually")
	ErrBattelsExists      = newError(KindStateConflict, "battels_exists", "battels account already exists")

	ErrInvalidSignature = newError(KindSecurity, "invalid_signature", "gateway callback signature mismatch")

	ErrGatewayUnavailable = newError(KindExternalUnavailable, "gateway_unavailable", "payment gateway unavailable")
	ErrRefundDeclined     = newError(KindExternalUnavailable, "refund_declined", "payment gateway declined the refund")

	ErrNegativeBalance   = newError(KindIntegrity, "negative_balance", "balance would become negative")
	ErrAmountMismatch    = newError(KindIntegrity, "amount_mismatch", "gateway charged amount does not match transaction value")
	ErrInvariantViolated = newError(KindIntegrity, "invariant_violated", "entity invariant violated")

	ErrNotFound     = newError(KindNotFound, "not_found", "not found")
	ErrUnknownOrder = newError(KindNotFound, "unknown_order", "gateway order id does not match any transaction")
)

// KindOf classifies err. Unclassified errors count as integrity failures, so
// they never leak detail to users.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIntegrity
}

const supportMessage = "Something went wrong. Please contact support."

// UserMessage is the text safe to show the person who triggered err.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return supportMessage
	}

	switch e.Kind {
	case KindValidation, KindStateConflict, KindNotFound:
		return e.Message
	case KindExternalUnavailable:
		return "The payment provider is unavailable. Please try again shortly."
	default:
		return supportMessage
	}
}

// IsOperatorConcern reports errors that must reach the operator channel.
func IsOperatorConcern(err error) bool {
	k := KindOf(err)
	return k == KindSecurity || k == KindIntegrity
}
