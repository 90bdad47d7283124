package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"balltickets/entity"
)

type ticketIDsRequest struct {
	TicketIDs []uuid.UUID `json:"ticket_ids" validate:"required,min=1"`
}

type postApplyVoucherRequest struct {
	Code      string      `json:"code" validate:"required"`
	TicketIDs []uuid.UUID `json:"ticket_ids" validate:"required,min=1"`
}

type postClaimRequest struct {
	Code string `json:"code" validate:"required"`
}

type claimCodeResponse struct {
	ClaimCode string `json:"claim_code"`
}

func (s Server) PostApplyVoucher(c echo.Context) error {
	var request postApplyVoucherRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	tickets, err := s.tickets.ApplyVoucher(c.Request().Context(), actorFrom(c), request.Code, request.TicketIDs)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTicketViews(tickets))
}

// PostCancelTickets reports per ticket. A batch where some tickets could not be
// cancelled still answers 200.
func (s Server) PostCancelTickets(c echo.Context) error {
	var request ticketIDsRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	report, err := s.tickets.CancelBatch(c.Request().Context(), actorFrom(c), request.TicketIDs)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toCancelReportView(report))
}

func (s Server) PostIssueClaimCode(c echo.Context) error {
	ticketID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	code, err := s.tickets.IssueClaimCode(c.Request().Context(), actorFrom(c), ticketID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, claimCodeResponse{ClaimCode: code})
}

func (s Server) PostClaim(c echo.Context) error {
	var request postClaimRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	ticket, err := s.tickets.Claim(c.Request().Context(), actorFrom(c), request.Code)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTicketView(ticket))
}

func (s Server) PostRelinquish(c echo.Context) error {
	return s.ticketAction(c, s.tickets.Relinquish)
}

func (s Server) PostReclaim(c echo.Context) error {
	return s.ticketAction(c, s.tickets.Reclaim)
}

func (s Server) ticketAction(
	c echo.Context,
	action func(ctx context.Context, actor entity.Actor, ticketID uuid.UUID) (*entity.Ticket, error),
) error {
	ticketID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	ticket, err := action(c.Request().Context(), actorFrom(c), ticketID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTicketView(ticket))
}
