package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"balltickets/entity"
	"balltickets/ticketing"
)

type postGrantTicketsRequest struct {
	OwnerID    uuid.UUID `json:"owner_id" validate:"required"`
	TicketType string    `json:"ticket_type" validate:"required"`
	Quantity   int       `json:"quantity" validate:"gte=1"`
	Price      int64     `json:"price" validate:"gte=0"`
}

type putPriceRequest struct {
	Price int64 `json:"price" validate:"gte=0"`
}

type barcodeRequest struct {
	Barcode string `json:"barcode" validate:"required"`
}

type postVoucherRequest struct {
	Code      string     `json:"code" validate:"required"`
	Kind      string     `json:"kind" validate:"oneof=fixed_price fixed_discount percentage"`
	Value     int64      `json:"value" validate:"gte=0"`
	Scope     string     `json:"scope" validate:"oneof=ticket transaction"`
	SingleUse bool       `json:"single_use"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type voucherResponse struct {
	VoucherID uuid.UUID `json:"voucher_id"`
	Code      string    `json:"code"`
}

type postCardRefundRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

type postAdminFeeRequest struct {
	OwnerID uuid.UUID `json:"owner_id" validate:"required"`
	Amount  int64     `json:"amount" validate:"gt=0"`
	Reason  string    `json:"reason" validate:"required"`
}

type postBattelsRequest struct {
	OwnerID    uuid.UUID `json:"owner_id" validate:"required"`
	ExternalID *string   `json:"external_id"`
}

type battelsResponse struct {
	BattelsID  uuid.UUID        `json:"battels_id"`
	OwnerID    uuid.UUID        `json:"owner_id"`
	ExternalID *string          `json:"external_id,omitempty"`
	Michaelmas entity.MoneyView `json:"michaelmas"`
	Hilary     entity.MoneyView `json:"hilary"`
}

type putLockdownRequest struct {
	On bool `json:"on"`
}

func (s Server) PostGrantTickets(c echo.Context) error {
	var request postGrantTicketsRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	purchase, err := s.tickets.GrantTickets(
		c.Request().Context(),
		actorFrom(c),
		request.OwnerID,
		request.TicketType,
		request.Quantity,
		entity.Money(request.Price),
	)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toPurchaseView(purchase))
}

func (s Server) PutTicketPrice(c echo.Context) error {
	ticketID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	var request putPriceRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	ticket, err := s.tickets.SetPrice(c.Request().Context(), actorFrom(c), ticketID, entity.Money(request.Price))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTicketView(ticket))
}

func (s Server) PutTicketBarcode(c echo.Context) error {
	ticketID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	var request barcodeRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	ticket, err := s.tickets.AssignBarcode(c.Request().Context(), actorFrom(c), ticketID, request.Barcode)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTicketView(ticket))
}

func (s Server) PostEntry(c echo.Context) error {
	var request barcodeRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	ticket, err := s.tickets.MarkEntered(c.Request().Context(), actorFrom(c), request.Barcode)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toTicketView(ticket))
}

func (s Server) PostVoucher(c echo.Context) error {
	var request postVoucherRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	voucher, err := entity.NewVoucher(
		request.Code,
		entity.DiscountKind(request.Kind),
		request.Value,
		entity.VoucherScope(request.Scope),
		request.SingleUse,
		request.ExpiresAt,
	)
	if err != nil {
		return err
	}

	if err := s.tickets.CreateVoucher(c.Request().Context(), actorFrom(c), voucher); err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, voucherResponse{
		VoucherID: voucher.ID,
		Code:      voucher.Code,
	})
}

func (s Server) PostCardRefund(c echo.Context) error {
	transactionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	var request postCardRefundRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	refund, err := s.tickets.RefundCard(c.Request().Context(), actorFrom(c), transactionID, entity.Money(request.Amount))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toTransactionView(refund))
}

func (s Server) PostAdminFee(c echo.Context) error {
	var request postAdminFeeRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	tx, err := s.tickets.LevyAdminFee(
		c.Request().Context(),
		actorFrom(c),
		request.OwnerID,
		entity.Money(request.Amount),
		request.Reason,
	)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toTransactionView(tx))
}

func (s Server) PostBattels(c echo.Context) error {
	var request postBattelsRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	battels, err := s.tickets.RegisterBattels(c.Request().Context(), actorFrom(c), request.OwnerID, request.ExternalID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, battelsResponse{
		BattelsID:  battels.ID,
		OwnerID:    battels.OwnerID,
		ExternalID: battels.ExternalID,
		Michaelmas: battels.Michaelmas.View(),
		Hilary:     battels.Hilary.View(),
	})
}

func (s Server) PutLockdown(c echo.Context) error {
	var request putLockdownRequest
	if err := bind(c, &request); err != nil {
		return err
	}

	s.lockdown.SetLockdown(request.On)

	return c.NoContent(http.StatusNoContent)
}

func (s Server) PostSweep(c echo.Context) error {
	tier, err := ticketing.ParseTier(c.Param("tier"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	report, err := s.sweeper.Run(c.Request().Context(), tier)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toSweepReportView(report))
}
