package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balltickets/config"
	"balltickets/db/memory"
	"balltickets/gateway"
	ballhttp "balltickets/http"
	"balltickets/pkg/clock"
	"balltickets/pkg/lock"
	"balltickets/ticketing"
)

const testSettings = `
ticket_ttl: 1h
capacity: 100
per_person_limit: 4
sales_open: true
cancellation_enabled: true
waiting_list_open: true
waiting_list_type: standard
terms:
  - term: MT
    until: 2026-12-05T00:00:00Z
  - term: HT
    until: 2027-03-13T00:00:00Z
ticket_types:
  - slug: standard
    name: Standard
    price: 9500
`

type testServer struct {
	server  *ballhttp.Server
	gateway *gateway.PaymentMock
	store   *memory.Store
	admin   uuid.UUID
}

type discardNotifier struct{}

func (discardNotifier) Send(_ context.Context, _ uuid.UUID, _ string, _ map[string]string) error {
	return nil
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	file, err := config.Parse([]byte(testSettings))
	require.NoError(t, err)
	settings := config.NewSettings(file)

	store := memory.NewStore()
	payments := &gateway.PaymentMock{}
	engine := ticketing.NewEngine(
		store,
		payments,
		discardNotifier{},
		settings,
		clock.NewFake(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)),
	)

	return testServer{
		server:  ballhttp.NewServer(":0", engine, ticketing.NewSweeper(engine, lock.NewInMemory()), settings, ""),
		gateway: payments,
		store:   store,
		admin:   uuid.New(),
	}
}

func (s testServer) do(t *testing.T, method, path string, user *uuid.UUID, admin bool, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set(ballhttp.UserIDHeader, user.String())
	}
	if admin {
		req.Header.Set(ballhttp.UserAdminHeader, "true")
	}

	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type purchaseResponse struct {
	Transaction struct {
		TransactionID uuid.UUID `json:"transaction_id"`
		Paid          bool      `json:"paid"`
		Method        string    `json:"method"`
		Value         struct {
			Amount string `json:"amount"`
		} `json:"value"`
	} `json:"transaction"`
	Tickets []struct {
		TicketID uuid.UUID `json:"ticket_id"`
		Status   string    `json:"status"`
	} `json:"tickets"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func TestPurchaseAndChargeToBattels(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()

	rec := s.do(t, http.MethodPost, "/admin/battels", &s.admin, true, map[string]any{"owner_id": buyer})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/purchases", &buyer, false, map[string]any{
		"ticket_type": "standard",
		"quantity":    2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	purchase := decode[purchaseResponse](t, rec)
	require.Len(t, purchase.Tickets, 2)
	assert.Equal(t, "reserved", purchase.Tickets[0].Status)
	assert.Equal(t, "190.00", purchase.Transaction.Value.Amount)

	path := "/transactions/" + purchase.Transaction.TransactionID.String() + "/battels"
	rec = s.do(t, http.MethodPost, path, &buyer, false, map[string]any{"term": "MT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored := s.store.Transaction(purchase.Transaction.TransactionID)
	assert.True(t, stored.Paid)

	rec = s.do(t, http.MethodPost, path, &buyer, false, map[string]any{"term": "MT"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_paid", decode[errorBody](t, rec).Code)
}

func TestCardPaymentViaGatewayCallback(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()

	rec := s.do(t, http.MethodPost, "/purchases", &buyer, false, map[string]any{
		"ticket_type": "standard",
		"quantity":    1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	purchase := decode[purchaseResponse](t, rec)

	rec = s.do(t, http.MethodPost, "/transactions/"+purchase.Transaction.TransactionID.String()+"/card", &buyer, false, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	redirect := decode[struct {
		OrderID string `json:"order_id"`
		URL     string `json:"url"`
	}](t, rec)
	require.NotEmpty(t, redirect.OrderID)

	payload, signature := s.gateway.Callback(redirect.OrderID, "A2000", 9500, "gw-1")

	callback := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/gateway/callback", bytes.NewReader(payload))
		req.Header.Set(gateway.SignatureHeader, signature)
		rec := httptest.NewRecorder()
		s.server.ServeHTTP(rec, req)
		return rec
	}

	rec = callback("sha256=00")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, s.store.Transaction(purchase.Transaction.TransactionID).Paid)

	rec = callback(signature)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decode[struct {
		Outcome  string `json:"outcome"`
		Replayed bool   `json:"replayed"`
	}](t, rec)
	assert.Equal(t, "success", outcome.Outcome)
	assert.False(t, outcome.Replayed)
	assert.True(t, s.store.Transaction(purchase.Transaction.TransactionID).Paid)

	rec = callback(signature)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[struct {
		Replayed bool `json:"replayed"`
	}](t, rec).Replayed)
}

func TestGatewayCallback_body_limit(t *testing.T) {
	s := newTestServer(t)

	payload := append([]byte(`{"order_id":"`), bytes.Repeat([]byte("x"), 128*1024)...)
	payload = append(payload, []byte(`"}`)...)

	req := httptest.NewRequest(http.MethodPost, "/gateway/callback", bytes.NewReader(payload))
	req.Header.Set(gateway.SignatureHeader, gateway.Sign([]byte("secret"), payload))
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestErrors(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()

	testCases := []struct {
		Name   string
		Method string
		Path   string
		User   *uuid.UUID
		Admin  bool
		Body   any
		Status int
		Code   string
	}{
		{
			Name:   "no_actor",
			Method: http.MethodPost,
			Path:   "/purchases",
			Body:   map[string]any{"ticket_type": "standard", "quantity": 1},
			Status: http.StatusUnauthorized,
		},
		{
			Name:   "not_admin",
			Method: http.MethodPost,
			Path:   "/admin/tickets/grant",
			User:   &buyer,
			Body:   map[string]any{"owner_id": buyer, "ticket_type": "standard", "quantity": 1},
			Status: http.StatusForbidden,
		},
		{
			Name:   "failed_validation",
			Method: http.MethodPost,
			Path:   "/purchases",
			User:   &buyer,
			Body:   map[string]any{"ticket_type": "standard", "quantity": 0},
			Status: http.StatusBadRequest,
		},
		{
			Name:   "unknown_ticket_type",
			Method: http.MethodPost,
			Path:   "/purchases",
			User:   &buyer,
			Body:   map[string]any{"ticket_type": "vip", "quantity": 1},
			Status: http.StatusBadRequest,
			Code:   "invalid_ticket_type",
		},
		{
			Name:   "over_limit",
			Method: http.MethodPost,
			Path:   "/purchases",
			User:   &buyer,
			Body:   map[string]any{"ticket_type": "standard", "quantity": 5},
			Status: http.StatusConflict,
			Code:   "limit_exceeded",
		},
		{
			Name:   "unknown_transaction",
			Method: http.MethodPost,
			Path:   "/transactions/" + uuid.NewString() + "/free",
			User:   &buyer,
			Status: http.StatusNotFound,
			Code:   "not_found",
		},
		{
			Name:   "bad_term",
			Method: http.MethodPost,
			Path:   "/transactions/" + uuid.NewString() + "/battels",
			User:   &buyer,
			Body:   map[string]any{"term": "TT"},
			Status: http.StatusBadRequest,
			Code:   "invalid_term",
		},
		{
			Name:   "bad_sweep_tier",
			Method: http.MethodPost,
			Path:   "/admin/sweep/hourly",
			User:   &s.admin,
			Admin:  true,
			Status: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			rec := s.do(t, tc.Method, tc.Path, tc.User, tc.Admin, tc.Body)
			assert.Equal(t, tc.Status, rec.Code, rec.Body.String())
			if tc.Code != "" {
				body := decode[errorBody](t, rec)
				assert.Equal(t, tc.Code, body.Code)
				assert.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestLockdown(t *testing.T) {
	s := newTestServer(t)
	buyer := uuid.New()
	purchase := map[string]any{"ticket_type": "standard", "quantity": 1}

	rec := s.do(t, http.MethodPut, "/admin/lockdown", &s.admin, true, map[string]any{"on": true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/purchases", &buyer, false, purchase)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "lockdown", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/admin/lockdown", &s.admin, true, map[string]any{"on": false})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/purchases", &buyer, false, purchase)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestClaimAndCancel(t *testing.T) {
	s := newTestServer(t)
	owner := uuid.New()
	friend := uuid.New()

	rec := s.do(t, http.MethodPost, "/admin/tickets/grant", &s.admin, true, map[string]any{
		"owner_id":    owner,
		"ticket_type": "standard",
		"quantity":    2,
		"price":       0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	granted := decode[purchaseResponse](t, rec)
	require.Len(t, granted.Tickets, 2)
	first := granted.Tickets[0].TicketID

	rec = s.do(t, http.MethodPost, "/tickets/"+first.String()+"/claim-code", &owner, false, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	code := decode[struct {
		ClaimCode string `json:"claim_code"`
	}](t, rec).ClaimCode

	rec = s.do(t, http.MethodPost, "/claims", &friend, false, map[string]any{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, &friend, s.store.Ticket(first).HolderID)

	rec = s.do(t, http.MethodPost, "/tickets/cancel", &owner, false, map[string]any{
		"ticket_ids": []uuid.UUID{first, granted.Tickets[1].TicketID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[struct {
		Cancelled []uuid.UUID `json:"cancelled"`
		Failed    []struct {
			TicketID uuid.UUID `json:"ticket_id"`
			Code     string    `json:"code"`
		} `json:"failed"`
	}](t, rec)

	assert.Equal(t, []uuid.UUID{granted.Tickets[1].TicketID}, report.Cancelled)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, first, report.Failed[0].TicketID)
	assert.Equal(t, "not_cancellable", report.Failed[0].Code)
}
