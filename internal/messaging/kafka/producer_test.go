package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидания
	mockProducer.ExpectSendMessageAndSucceed()

	// Создаем тестовое событие
	event := NewPaymentEvent(
		EventTypePaymentCreated,
		"invoice-123",
		"show-1",
		"waiting_payment",
		5000,
		map[string]interface{}{
			"buyer_id": "buyer-1",
		},
	)

	// Публикуем событие
	err := producer.PublishEvent(TopicPaymentEvents, "invoice-123", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	// Создаем mock producer с ошибкой
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидание ошибки
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewPaymentEvent(
		EventTypePaymentCreated,
		"invoice-123",
		"show-1",
		"waiting_payment",
		5000,
		nil,
	)

	// Публикуем событие
	err := producer.PublishEvent(TopicPaymentEvents, "invoice-123", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewPaymentEvent(t *testing.T) {
	paymentID := "invoice-123"
	metadata := map[string]interface{}{
		"buyer_id": "buyer-1",
		"amount":   1000,
	}

	event := NewPaymentEvent(EventTypePaymentSuccess, paymentID, "show-1", "payment_success", 1000, metadata)

	if event.EventType != EventTypePaymentSuccess {
		t.Errorf("expected event type %s, got %s", EventTypePaymentSuccess, event.EventType)
	}

	if event.PaymentID != paymentID {
		t.Errorf("expected payment id %s, got %s", paymentID, event.PaymentID)
	}

	if event.Status != "payment_success" {
		t.Errorf("unexpected status %s", event.Status)
	}

	if event.Metadata["buyer_id"] != "buyer-1" {
		t.Error("metadata not set correctly")
	}

	// Проверяем, что timestamp установлен
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}

	// Проверяем, что timestamp близок к текущему времени
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestNewLockEvent(t *testing.T) {
	details := map[string]int32{"class-a": 2, "class-b": 1}
	expiresAt := time.Now().UTC().Add(15 * time.Minute)

	event := NewLockEvent(EventTypeLockExpired, "invoice-123", details, expiresAt)

	if event.EventType != EventTypeLockExpired {
		t.Errorf("expected event type %s, got %s", EventTypeLockExpired, event.EventType)
	}

	if event.PaymentID != "invoice-123" {
		t.Errorf("expected payment id invoice-123, got %s", event.PaymentID)
	}

	if event.Details["class-a"] != 2 {
		t.Error("details not set correctly")
	}

	if !event.ExpiresAt.Equal(expiresAt) {
		t.Errorf("unexpected expires_at: %s", event.ExpiresAt)
	}

	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}
