package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/gateway/bank"
	"github.com/vladislavdragonenkov/tms/internal/notify"
	"github.com/vladislavdragonenkov/tms/internal/service/issuer"
	"github.com/vladislavdragonenkov/tms/internal/service/payment"
	"github.com/vladislavdragonenkov/tms/internal/service/reservation"
	"github.com/vladislavdragonenkov/tms/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server *Server
	store  *memory.Store
	hub    *notify.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	hub := notify.NewHub()

	engine := reservation.NewEngine(store, outbox, timeline)
	tickets := issuer.NewIssuer(store, store, outbox, nil, nil)
	sm := payment.NewStateMachine(store, store, timeline, outbox,
		payment.WithIssuer(tickets),
		payment.WithNotifier(hub),
	)

	server := NewServer(engine, sm, store, store, store,
		WithGateway(bank.NewMockGateway()),
		WithHub(hub),
		WithIdempotency(memory.NewIdempotencyRepository()),
	)
	return &testEnv{server: server, store: store, hub: hub}
}

func (e *testEnv) seedClass(t *testing.T, id string, capacity int32, price int64) {
	t.Helper()

	now := time.Now().UTC()
	if err := e.store.CreateTicketClass(domain.TicketClass{
		ID:         id,
		ShowID:     "show-1",
		Name:       "Category " + id,
		PriceMinor: price,
		Capacity:   capacity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("create ticket class: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func reservationBody(qty int32) map[string]interface{} {
	return map[string]interface{}{
		"show_id":  "show-1",
		"buyer_id": "buyer-1",
		"tickets": []map[string]interface{}{
			{"ticket_class_id": "class-a", "quantity": qty},
		},
	}
}

func TestCreateReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 10, 2500)

	rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(2), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp reservationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(domain.InvoiceStatusWaitingPayment) {
		t.Fatalf("expected waiting_payment, got %s", resp.Status)
	}
	if resp.AmountMinor != 5000 {
		t.Fatalf("unexpected amount: %d", resp.AmountMinor)
	}
	if resp.AccountNumber == "" || resp.BankName == "" {
		t.Fatal("response must carry bank transfer details")
	}
	if resp.Details["class-a"] != 2 {
		t.Fatalf("unexpected details: %+v", resp.Details)
	}
}

func TestCreateReservationSoldOut(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 1, 2500)

	if rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(1), nil); rec.Code != http.StatusCreated {
		t.Fatalf("first reservation: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(1), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateReservationValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 10, 2500)

	rec := env.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{
		"show_id": "show-1",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{
		"show_id": "show-1",
		"tickets": []map[string]interface{}{
			{"ticket_class_id": "ghost", "quantity": 1},
		},
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown class, got %d", rec.Code)
	}
}

func TestCreateReservationIdempotencyReplay(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 10, 2500)
	headers := map[string]string{"Idempotency-Key": "key-1"}

	first := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(2), headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first request: %d", first.Code)
	}

	second := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(2), headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay must return stored status, got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay must return identical body:\nfirst:  %s\nsecond: %s", first.Body.String(), second.Body.String())
	}

	// Резерв захвачен ровно один раз.
	tc, err := env.store.GetTicketClass("class-a")
	if err != nil {
		t.Fatalf("get class: %v", err)
	}
	if tc.Locked != 2 {
		t.Fatalf("replay must not lock twice: locked=%d", tc.Locked)
	}
}

func TestCreateReservationIdempotencyHashMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 10, 2500)
	headers := map[string]string{"Idempotency-Key": "key-2"}

	if rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(2), headers); rec.Code != http.StatusCreated {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(3), headers)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key, got %d", rec.Code)
	}
}

func TestGetPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 10, 2500)

	rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(1), nil)
	var created reservationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/payments/"+created.PaymentID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if got.Status != string(domain.InvoiceStatusWaitingPayment) || got.Reference != created.PaymentReference {
		t.Fatalf("unexpected payment payload: %+v", got)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/payments/ghost", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown payment, got %d", rec.Code)
	}
}

func TestCancelPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 10, 2500)

	rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(2), nil)
	var created reservationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/payments/"+created.PaymentID+"/cancel", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	tc, err := env.store.GetTicketClass("class-a")
	if err != nil {
		t.Fatalf("get class: %v", err)
	}
	if tc.Locked != 0 {
		t.Fatalf("cancel must release the hold: locked=%d", tc.Locked)
	}

	// Повторная отмена: платёж уже в терминальном статусе.
	rec = env.do(t, http.MethodPost, "/api/v1/payments/"+created.PaymentID+"/cancel", nil, nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410 on repeated cancel, got %d", rec.Code)
	}
}

func TestShowAvailability(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedClass(t, "class-a", 10, 2500)
	env.seedClass(t, "class-b", 5, 1000)

	if rec := env.do(t, http.MethodPost, "/api/v1/reservations", reservationBody(3), nil); rec.Code != http.StatusCreated {
		t.Fatalf("reserve: %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/shows/show-1/availability", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		ShowID  string `json:"show_id"`
		Classes []struct {
			TicketClassID string `json:"ticket_class_id"`
			Capacity      int32  `json:"capacity"`
			Available     int32  `json:"available"`
		} `json:"classes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if len(resp.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(resp.Classes))
	}
	// Заблокированные единицы вычитаются из отображаемого остатка.
	if resp.Classes[0].TicketClassID != "class-a" || resp.Classes[0].Available != 7 {
		t.Fatalf("unexpected availability: %+v", resp.Classes[0])
	}
	if resp.Classes[1].Available != 5 {
		t.Fatalf("unexpected availability: %+v", resp.Classes[1])
	}
}

func TestCreateTicketClass(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	body := map[string]interface{}{
		"id":          "class-new",
		"show_id":     "show-9",
		"name":        "Balcony",
		"price_minor": 1500,
		"capacity":    50,
	}
	rec := env.do(t, http.MethodPost, "/api/v1/ticket-classes", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/ticket-classes", body, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", rec.Code)
	}

	tc, err := env.store.GetTicketClass("class-new")
	if err != nil {
		t.Fatalf("get created class: %v", err)
	}
	if tc.Capacity != 50 || tc.PriceMinor != 1500 {
		t.Fatalf("unexpected stored class: %+v", tc)
	}
}
