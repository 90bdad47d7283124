package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"balltickets/entity"
	"balltickets/gateway"
	"balltickets/ticketing"
)

type postPurchaseRequest struct {
	TicketType    string  `json:"ticket_type" validate:"required"`
	Quantity      int     `json:"quantity" validate:"gte=1"`
	VoucherCode   string  `json:"voucher_code"`
	PostageOption string  `json:"postage_option"`
	PostalAddress *string `json:"postal_address"`
	Donation      int64   `json:"donation" validate:"gte=0"`
}

type postWaitingListRequest struct {
	Quantity   int        `json:"quantity" validate:"gte=1"`
	ReferrerID *uuid.UUID `json:"referrer_id"`
}

type waitingEntryResponse struct {
	WaitingID uuid.UUID `json:"waiting_id"`
	Quantity  int       `json:"quantity"`
}

type postChargeToBattelsRequest struct {
	Term string `json:"term" validate:"required"`
}

type gatewayCallbackResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Outcome       string    `json:"outcome"`
	Replayed      bool      `json:"replayed"`
}

func (s Server) PostPurchase(c echo.Context) error {
	var request postPurchaseRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	purchase, err := s.tickets.Purchase(c.Request().Context(), actorFrom(c), ticketing.PurchaseRequest{
		TicketType:    request.TicketType,
		Quantity:      request.Quantity,
		VoucherCode:   request.VoucherCode,
		PostageOption: request.PostageOption,
		PostalAddress: request.PostalAddress,
		Donation:      entity.Money(request.Donation),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toPurchaseView(purchase))
}

func (s Server) PostWaitingList(c echo.Context) error {
	var request postWaitingListRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	entry, err := s.tickets.JoinWaitingList(c.Request().Context(), actorFrom(c), request.Quantity, request.ReferrerID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, waitingEntryResponse{
		WaitingID: entry.ID,
		Quantity:  entry.Quantity,
	})
}

func (s Server) PostChargeToBattels(c echo.Context) error {
	transactionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	var request postChargeToBattelsRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	term, err := entity.ParseTerm(request.Term)
	if err != nil {
		return err
	}

	tx, err := s.tickets.ChargeToBattels(c.Request().Context(), actorFrom(c), transactionID, term)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTransactionView(tx))
}

func (s Server) PostChargeToCard(c echo.Context) error {
	transactionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	redirect, err := s.tickets.ChargeToCard(c.Request().Context(), actorFrom(c), transactionID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, redirect)
}

func (s Server) PostChargeFree(c echo.Context) error {
	transactionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	tx, err := s.tickets.ChargeFree(c.Request().Context(), actorFrom(c), transactionID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTransactionView(tx))
}

// PostGatewayCallback must see the body exactly as signed, so it is read raw
// instead of bound.
func (s Server) PostGatewayCallback(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	} else if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read body")
	}

	outcome, err := s.tickets.ProcessGatewayCallback(
		c.Request().Context(),
		payload,
		c.Request().Header.Get(gateway.SignatureHeader),
	)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, gatewayCallbackResponse{
		TransactionID: outcome.TransactionID,
		Outcome:       string(outcome.Outcome),
		Replayed:      outcome.Replayed,
	})
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
