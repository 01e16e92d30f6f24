package issuer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/tms/internal/storage/memory"
)

func TestEventHandler_PaymentSuccessIssuesTickets(t *testing.T) {
	t.Parallel()

	store, invoice := seedReservedInvoice(t, 10, 3)
	markSuccess(t, store, invoice.ID)
	outbox := memory.NewOutboxRepository()
	handler := NewEventHandler(store, NewIssuer(store, store, outbox, nil, nil), nil)

	if err := handler.HandlePaymentEvent(context.Background(), paymentMessage(t, kafka.EventTypePaymentSuccess, invoice.ID)); err != nil {
		t.Fatalf("handle payment event: %v", err)
	}

	issued, err := store.ListByInvoice(invoice.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(issued) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(issued))
	}

	tc, err := store.GetTicketClass("class-a")
	if err != nil {
		t.Fatalf("get ticket class: %v", err)
	}
	if tc.Locked != 0 || tc.Sold != 3 {
		t.Fatalf("unexpected counters: locked=%d sold=%d", tc.Locked, tc.Sold)
	}
}

func TestEventHandler_DuplicateDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	store, invoice := seedReservedInvoice(t, 10, 2)
	markSuccess(t, store, invoice.ID)
	outbox := memory.NewOutboxRepository()
	handler := NewEventHandler(store, NewIssuer(store, store, outbox, nil, nil), nil)

	message := paymentMessage(t, kafka.EventTypePaymentSuccess, invoice.ID)
	if err := handler.HandlePaymentEvent(context.Background(), message); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := handler.HandlePaymentEvent(context.Background(), message); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	issued, err := store.ListByInvoice(invoice.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(issued) != 2 {
		t.Fatalf("duplicate delivery must not add tickets: %d", len(issued))
	}

	tc, err := store.GetTicketClass("class-a")
	if err != nil {
		t.Fatalf("get ticket class: %v", err)
	}
	if tc.Sold != 2 {
		t.Fatalf("sold must not double count: %d", tc.Sold)
	}

	pending, err := outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected single ticket_issued event, got %d", len(pending))
	}
}

func TestEventHandler_SkipsNonSuccessEvents(t *testing.T) {
	t.Parallel()

	store, invoice := seedReservedInvoice(t, 10, 1)
	handler := NewEventHandler(store, NewIssuer(store, store, memory.NewOutboxRepository(), nil, nil), nil)

	for _, eventType := range []kafka.EventType{
		kafka.EventTypePaymentCreated,
		kafka.EventTypePaymentExpired,
		kafka.EventTypePaymentCancelled,
	} {
		if err := handler.HandlePaymentEvent(context.Background(), paymentMessage(t, eventType, invoice.ID)); err != nil {
			t.Fatalf("handle %s: %v", eventType, err)
		}
	}

	issued, err := store.ListByInvoice(invoice.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(issued) != 0 {
		t.Fatalf("non-success events must not issue tickets: %d", len(issued))
	}
}

func TestEventHandler_SkipsWhenTransitionNotApplied(t *testing.T) {
	t.Parallel()

	// Счёт всё ещё waiting_payment: событие опередило переход в хранилище.
	store, invoice := seedReservedInvoice(t, 10, 2)
	handler := NewEventHandler(store, NewIssuer(store, store, memory.NewOutboxRepository(), nil, nil), nil)

	if err := handler.HandlePaymentEvent(context.Background(), paymentMessage(t, kafka.EventTypePaymentSuccess, invoice.ID)); err != nil {
		t.Fatalf("handle payment event: %v", err)
	}

	issued, err := store.ListByInvoice(invoice.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(issued) != 0 {
		t.Fatalf("issue must wait for applied transition: %d tickets", len(issued))
	}

	tc, err := store.GetTicketClass("class-a")
	if err != nil {
		t.Fatalf("get ticket class: %v", err)
	}
	if tc.Locked != 2 {
		t.Fatalf("reserve must stay locked: %d", tc.Locked)
	}
}

func TestEventHandler_UnknownPaymentIsNotAnError(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	handler := NewEventHandler(store, NewIssuer(store, store, memory.NewOutboxRepository(), nil, nil), nil)

	if err := handler.HandlePaymentEvent(context.Background(), paymentMessage(t, kafka.EventTypePaymentSuccess, "ghost")); err != nil {
		t.Fatalf("handle unknown payment: %v", err)
	}
}

func TestEventHandler_MalformedPayload(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	handler := NewEventHandler(store, NewIssuer(store, store, memory.NewOutboxRepository(), nil, nil), nil)

	message := &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Value: []byte("{not-json")}
	if err := handler.HandlePaymentEvent(context.Background(), message); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func markSuccess(t *testing.T, store *memory.Store, paymentID string) {
	t.Helper()

	applied, err := store.TransitionStatus(paymentID, domain.InvoiceStatusPaymentSuccess)
	if err != nil {
		t.Fatalf("transition to success: %v", err)
	}
	if !applied {
		t.Fatal("success transition must apply")
	}
}

func paymentMessage(t *testing.T, eventType kafka.EventType, paymentID string) *sarama.ConsumerMessage {
	t.Helper()

	event := kafka.NewPaymentEvent(eventType, paymentID, "show-1", string(domain.InvoiceStatusPaymentSuccess), 1800, nil)
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal payment event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Value: value}
}
