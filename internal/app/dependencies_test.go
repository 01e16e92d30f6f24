package app

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/service/reservation"
)

func TestNewDependencies(t *testing.T) {
	logger := log.WithField("test", "dependencies")
	deps := NewDependencies(logger)

	if deps == nil {
		t.Fatal("NewDependencies should not return nil")
	}

	if deps.Repo == nil {
		t.Error("Repo should not be nil")
	}

	if deps.OutboxRepo == nil {
		t.Error("OutboxRepo should not be nil")
	}

	if deps.TimelineRepo == nil {
		t.Error("TimelineRepo should not be nil")
	}

	if deps.IdempotencyRepo == nil {
		t.Error("IdempotencyRepo should not be nil")
	}

	if deps.Engine == nil {
		t.Error("Engine should not be nil")
	}

	if deps.StateMachine == nil {
		t.Error("StateMachine should not be nil")
	}

	if deps.Hub == nil {
		t.Error("Hub should not be nil")
	}

	if deps.Logger == nil {
		t.Error("Logger should not be nil")
	}
}

func TestNewDependencies_WithNilLogger(t *testing.T) {
	deps := NewDependencies(nil)

	if deps == nil {
		t.Fatal("NewDependencies should not return nil")
	}

	if deps.Logger == nil {
		t.Error("Logger should be initialized even when nil is passed")
	}
}

func TestNewDependencies_BookingFlow(t *testing.T) {
	deps := NewDependencies(log.WithField("test", "booking-flow"))

	now := time.Now().UTC()
	if err := deps.Repo.CreateTicketClass(domain.TicketClass{
		ID:         "tc-flow",
		ShowID:     "show-flow",
		Name:       "Партер",
		PriceMinor: 150_00,
		Capacity:   10,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("CreateTicketClass failed: %v", err)
	}

	invoice, err := deps.Engine.Reserve(reservation.Request{
		ShowID:  "show-flow",
		BuyerID: "buyer-1",
		Items:   []domain.ReservationItem{{TicketClassID: "tc-flow", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if invoice.Status != domain.InvoiceStatusWaitingPayment {
		t.Fatalf("expected waiting_payment, got %s", invoice.Status)
	}

	applied, err := deps.StateMachine.MarkSuccess(invoice.ID, "оплата подтверждена")
	if err != nil {
		t.Fatalf("MarkSuccess failed: %v", err)
	}
	if !applied {
		t.Fatal("expected success transition to be applied")
	}

	tickets, err := deps.Repo.ListByInvoice(invoice.ID)
	if err != nil {
		t.Fatalf("ListByInvoice failed: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected 2 issued tickets, got %d", len(tickets))
	}
}

func TestNewDependencies_IndependentInstances(t *testing.T) {
	deps1 := NewDependencies(nil)
	deps2 := NewDependencies(nil)

	// Каждый вызов должен создавать новые экземпляры
	if deps1 == deps2 {
		t.Error("NewDependencies should create independent instances")
	}

	// Хранилища должны быть разными
	if deps1.Repo == deps2.Repo {
		t.Error("Repo instances should be independent")
	}
}
