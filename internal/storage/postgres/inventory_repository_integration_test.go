package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

func TestInventoryRepository_PostgresCreateGetList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	vip := sampleTicketClass("class-vip", "show-1", 10, now)
	standard := sampleTicketClass("class-standard", "show-1", 100, now)

	if err := repo.CreateTicketClass(vip); err != nil {
		t.Fatalf("create vip: %v", err)
	}
	if err := repo.CreateTicketClass(standard); err != nil {
		t.Fatalf("create standard: %v", err)
	}
	if err := repo.CreateTicketClass(vip); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict on duplicate create, got %v", err)
	}

	got, err := repo.GetTicketClass(vip.ID)
	if err != nil {
		t.Fatalf("get vip: %v", err)
	}
	if got.ShowID != vip.ShowID || got.Capacity != vip.Capacity || got.PriceMinor != vip.PriceMinor {
		t.Fatalf("unexpected ticket class payload: %+v", got)
	}

	if _, err := repo.GetTicketClass("missing"); !errors.Is(err, domain.ErrTicketClassNotFound) {
		t.Fatalf("expected ErrTicketClassNotFound, got %v", err)
	}

	listed, err := repo.ListByShow("show-1")
	if err != nil {
		t.Fatalf("list by show: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != standard.ID || listed[1].ID != vip.ID {
		t.Fatalf("unexpected list order: %+v", listed)
	}
}

func TestInventoryRepository_PostgresReserveReleaseIssue(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	invoices := NewInvoiceRepository(store)
	ticketRepo := NewTicketRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	tc := sampleTicketClass("class-res", "show-2", 5, now)
	if err := repo.CreateTicketClass(tc); err != nil {
		t.Fatalf("create class: %v", err)
	}

	items := []domain.ReservationItem{{TicketClassID: tc.ID, Quantity: 3}}
	invoice := sampleInvoice("invoice-1", "show-2", map[string]int32{tc.ID: 3}, now)

	if err := repo.Reserve(items, invoice); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	locked, err := repo.GetTicketClass(tc.ID)
	if err != nil {
		t.Fatalf("get after reserve: %v", err)
	}
	if locked.Locked != 3 || locked.Sold != 0 {
		t.Fatalf("unexpected counters after reserve: locked=%d sold=%d", locked.Locked, locked.Sold)
	}
	if locked.Version != tc.Version+1 {
		t.Fatalf("version must advance on reserve: got=%d", locked.Version)
	}

	stored, err := invoices.Get(invoice.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if stored.Status != domain.InvoiceStatusWaitingPayment || stored.Details[tc.ID] != 3 {
		t.Fatalf("unexpected invoice payload: %+v", stored)
	}

	// Остаток 2, запрос на 3 должен отклоняться без изменения счётчиков.
	over := sampleInvoice("invoice-over", "show-2", map[string]int32{tc.ID: 3}, now)
	err = repo.Reserve([]domain.ReservationItem{{TicketClassID: tc.ID, Quantity: 3}}, over)
	if !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	after, err := repo.GetTicketClass(tc.ID)
	if err != nil {
		t.Fatalf("get after failed reserve: %v", err)
	}
	if after.Locked != 3 {
		t.Fatalf("failed reserve must not change locked: %d", after.Locked)
	}

	tickets := []domain.Ticket{
		{ID: "ticket-1", TicketClassID: tc.ID, InvoiceID: invoice.ID, CreatedAt: now},
		{ID: "ticket-2", TicketClassID: tc.ID, InvoiceID: invoice.ID, CreatedAt: now},
		{ID: "ticket-3", TicketClassID: tc.ID, InvoiceID: invoice.ID, CreatedAt: now},
	}
	inserted, err := repo.IssueTickets(invoice, tickets)
	if err != nil {
		t.Fatalf("issue tickets: %v", err)
	}
	if !inserted {
		t.Fatal("first issue must report inserted tickets")
	}
	// Повторный выпуск по тому же счёту обязан быть no-op.
	inserted, err = repo.IssueTickets(invoice, tickets)
	if err != nil {
		t.Fatalf("repeat issue tickets: %v", err)
	}
	if inserted {
		t.Fatal("repeat issue must report no-op")
	}

	issued, err := ticketRepo.ListByInvoice(invoice.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(issued) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(issued))
	}

	final, err := repo.GetTicketClass(tc.ID)
	if err != nil {
		t.Fatalf("get after issue: %v", err)
	}
	if final.Locked != 0 || final.Sold != 3 {
		t.Fatalf("unexpected counters after issue: locked=%d sold=%d", final.Locked, final.Sold)
	}

	// Release после выпуска не уводит locked в минус.
	if err := repo.Release(invoice.Details); err != nil {
		t.Fatalf("release after issue: %v", err)
	}
	released, err := repo.GetTicketClass(tc.ID)
	if err != nil {
		t.Fatalf("get after release: %v", err)
	}
	if released.Locked != 0 || released.Sold != 3 {
		t.Fatalf("release must not go below zero: locked=%d sold=%d", released.Locked, released.Sold)
	}
}

func TestInventoryRepository_PostgresReserveUnknownClass(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	invoice := sampleInvoice("invoice-unknown", "show-3", map[string]int32{"ghost": 1}, now)

	err := repo.Reserve([]domain.ReservationItem{{TicketClassID: "ghost", Quantity: 1}}, invoice)
	if !errors.Is(err, domain.ErrTicketClassNotFound) {
		t.Fatalf("expected ErrTicketClassNotFound, got %v", err)
	}
}

func TestPgErrorHelpers(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
	if !isCheckViolation(&pgconn.PgError{Code: "23514"}) {
		t.Fatal("expected check violation for code 23514")
	}
	if !isTransient(&pgconn.PgError{Code: "40001"}) {
		t.Fatal("expected transient for serialization failure")
	}
	if !isTransient(&pgconn.PgError{Code: "40P01"}) {
		t.Fatal("expected transient for deadlock")
	}
	if isTransient(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violation is not transient")
	}
}

func sampleTicketClass(id, showID string, capacity int32, createdAt time.Time) domain.TicketClass {
	return domain.TicketClass{
		ID:         id,
		ShowID:     showID,
		Name:       "Category " + id,
		PriceMinor: 2500,
		Capacity:   capacity,
		Version:    0,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func sampleInvoice(id, showID string, details map[string]int32, createdAt time.Time) domain.Invoice {
	var total int32
	for _, qty := range details {
		total += qty
	}

	return domain.Invoice{
		ID:          id,
		ShowID:      showID,
		BuyerID:     "buyer-1",
		AmountMinor: int64(total) * 2500,
		Reference:   "REF-" + id,
		Status:      domain.InvoiceStatusWaitingPayment,
		Details:     details,
		ExpiresAt:   createdAt.Add(15 * time.Minute),
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}
