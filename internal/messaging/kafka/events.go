package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Payment события
	EventTypePaymentCreated   EventType = "payment.created"
	EventTypePaymentSuccess   EventType = "payment.success"
	EventTypePaymentFailed    EventType = "payment.failed"
	EventTypePaymentExpired   EventType = "payment.expired"
	EventTypePaymentCancelled EventType = "payment.cancelled"
	EventTypeTicketIssued     EventType = "payment.ticket_issued"

	// Lock события
	EventTypeLockCreated EventType = "lock.created"
	EventTypeLockExpired EventType = "lock.expired"
)

// Topics для Kafka
const (
	TopicPaymentEvents   = "tms.payment.events"
	TopicLockEvents      = "tms.lock.events"
	TopicDeadLetterQueue = "tms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// PaymentEvent представляет событие жизненного цикла платежа
type PaymentEvent struct {
	EventType   EventType              `json:"event_type"`
	PaymentID   string                 `json:"payment_id"`
	ShowID      string                 `json:"show_id"`
	Status      string                 `json:"status"`
	AmountMinor int64                  `json:"amount_minor"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// LockEvent представляет событие по резерву инвентаря
type LockEvent struct {
	EventType EventType        `json:"event_type"`
	PaymentID string           `json:"payment_id"`
	Details   map[string]int32 `json:"details"`
	ExpiresAt time.Time        `json:"expires_at"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewPaymentEvent создает новое событие платежа
func NewPaymentEvent(eventType EventType, paymentID, showID, status string, amountMinor int64, metadata map[string]interface{}) *PaymentEvent {
	return &PaymentEvent{
		EventType:   eventType,
		PaymentID:   paymentID,
		ShowID:      showID,
		Status:      status,
		AmountMinor: amountMinor,
		Timestamp:   time.Now(),
		Metadata:    metadata,
	}
}

// NewLockEvent создает новое событие по резерву
func NewLockEvent(eventType EventType, paymentID string, details map[string]int32, expiresAt time.Time) *LockEvent {
	return &LockEvent{
		EventType: eventType,
		PaymentID: paymentID,
		Details:   details,
		ExpiresAt: expiresAt,
		Timestamp: time.Now(),
	}
}
