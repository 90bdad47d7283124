package http

import (
	"context"
	"errors"
	"net/http"

	echoHTTP "github.com/ThreeDotsLabs/go-event-driven/common/http"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"balltickets/entity"
	"balltickets/ticketing"
	"balltickets/tracing"
)

// callbacks are small JSON documents, anything bigger is not from the gateway
const callbackBodyLimit = "64K"

type TicketingService interface {
	Purchase(ctx context.Context, actor entity.Actor, req ticketing.PurchaseRequest) (ticketing.Purchase, error)
	GrantTickets(ctx context.Context, actor entity.Actor, owner uuid.UUID, ticketType string, quantity int, price entity.Money) (ticketing.Purchase, error)
	LevyAdminFee(ctx context.Context, actor entity.Actor, owner uuid.UUID, amount entity.Money, reason string) (*entity.Transaction, error)
	JoinWaitingList(ctx context.Context, actor entity.Actor, quantity int, referrer *uuid.UUID) (*entity.WaitingEntry, error)
	RegisterBattels(ctx context.Context, actor entity.Actor, owner uuid.UUID, externalID *string) (*entity.Battels, error)

	ChargeToBattels(ctx context.Context, actor entity.Actor, transactionID uuid.UUID, term entity.Term) (*entity.Transaction, error)
	ChargeFree(ctx context.Context, actor entity.Actor, transactionID uuid.UUID) (*entity.Transaction, error)
	ChargeToCard(ctx context.Context, actor entity.Actor, transactionID uuid.UUID) (entity.PaymentRedirect, error)
	ProcessGatewayCallback(ctx context.Context, payload []byte, signature string) (ticketing.CallbackOutcome, error)
	RefundCard(ctx context.Context, actor entity.Actor, transactionID uuid.UUID, amount entity.Money) (*entity.Transaction, error)

	CreateVoucher(ctx context.Context, actor entity.Actor, voucher *entity.Voucher) error
	ApplyVoucher(ctx context.Context, actor entity.Actor, code string, ids []uuid.UUID) ([]*entity.Ticket, error)
	SetPrice(ctx context.Context, actor entity.Actor, ticketID uuid.UUID, price entity.Money) (*entity.Ticket, error)
	AssignBarcode(ctx context.Context, actor entity.Actor, ticketID uuid.UUID, barcode string) (*entity.Ticket, error)
	MarkEntered(ctx context.Context, actor entity.Actor, barcode string) (*entity.Ticket, error)
	IssueClaimCode(ctx context.Context, actor entity.Actor, ticketID uuid.UUID) (string, error)
	Claim(ctx context.Context, actor entity.Actor, code string) (*entity.Ticket, error)
	Relinquish(ctx context.Context, actor entity.Actor, ticketID uuid.UUID) (*entity.Ticket, error)
	Reclaim(ctx context.Context, actor entity.Actor, ticketID uuid.UUID) (*entity.Ticket, error)

	CancelBatch(ctx context.Context, actor entity.Actor, ids []uuid.UUID) (ticketing.CancelReport, error)
}

type Sweeper interface {
	Run(ctx context.Context, tier ticketing.Tier) (ticketing.SweepReport, error)
}

type LockdownSwitch interface {
	SetLockdown(on bool)
}

type Server struct {
	addr       string
	e          *echo.Echo
	tickets    TicketingService
	sweeper    Sweeper
	lockdown   LockdownSwitch
	proxyToken string
}

func NewServer(
	addr string,
	tickets TicketingService,
	sweeper Sweeper,
	lockdown LockdownSwitch,
	proxyToken string,
) *Server {
	if tickets == nil {
		panic("missing tickets")
	}
	if sweeper == nil {
		panic("missing sweeper")
	}
	if lockdown == nil {
		panic("missing lockdown")
	}

	e := echoHTTP.NewEcho()
	e.Use(otelecho.Middleware(tracing.ServiceName))
	e.Validator = requestValidator{validate: validator.New()}
	e.HTTPErrorHandler = handleError

	server := &Server{
		addr:       addr,
		e:          e,
		tickets:    tickets,
		sweeper:    sweeper,
		lockdown:   lockdown,
		proxyToken: proxyToken,
	}

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// signed by the gateway, there is no actor
	e.POST("/gateway/callback", server.PostGatewayCallback, middleware.BodyLimit(callbackBodyLimit))

	api := e.Group("", server.requireActor)

	api.POST("/purchases", server.PostPurchase)
	api.POST("/waiting-list", server.PostWaitingList)

	api.POST("/transactions/:id/battels", server.PostChargeToBattels)
	api.POST("/transactions/:id/card", server.PostChargeToCard)
	api.POST("/transactions/:id/free", server.PostChargeFree)

	api.POST("/vouchers/apply", server.PostApplyVoucher)
	api.POST("/tickets/cancel", server.PostCancelTickets)
	api.POST("/tickets/:id/claim-code", server.PostIssueClaimCode)
	api.POST("/tickets/:id/relinquish", server.PostRelinquish)
	api.POST("/tickets/:id/reclaim", server.PostReclaim)
	api.POST("/claims", server.PostClaim)

	admin := api.Group("/admin", requireAdmin)

	admin.POST("/tickets/grant", server.PostGrantTickets)
	admin.PUT("/tickets/:id/price", server.PutTicketPrice)
	admin.PUT("/tickets/:id/barcode", server.PutTicketBarcode)
	admin.POST("/entry", server.PostEntry)
	admin.POST("/vouchers", server.PostVoucher)
	admin.POST("/transactions/:id/refund", server.PostCardRefund)
	admin.POST("/admin-fees", server.PostAdminFee)
	admin.POST("/battels", server.PostBattels)
	admin.PUT("/lockdown", server.PutLockdown)
	admin.POST("/sweep/:tier", server.PostSweep)

	return server
}

func (s Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		err := s.e.Shutdown(context.WithoutCancel(ctx))
		if err != nil {
			log.FromContext(ctx).WithError(err).Error("failed to shutdown HTTP server")
		}
	}()
	log.FromContext(ctx).WithField("addr", s.addr).Info("[HTTP] server listening")
	if err := s.e.Start(s.addr); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP lets tests drive the server without a listener.
func (s Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}
