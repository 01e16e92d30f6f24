package domain

import (
	"context"
	"time"
)

// Notifier доставляет уведомления о переходах статуса платежа подключённым
// наблюдателям. Доставка at-most-once и без истории: клиент, подключившийся
// после перехода, обязан отдельно запросить текущий статус счёта.
type Notifier interface {
	// Notify публикует уведомление в логический канал платежа.
	// Если наблюдателей нет, уведомление отбрасывается.
	Notify(paymentID string, n PaymentNotification)
}

// GatewayTransaction — транзакция из выписки внешнего платёжного шлюза.
type GatewayTransaction struct {
	Reference   string
	AmountMinor int64
	ExternalID  string
	PaidAt      time.Time
}

// BankAccount — реквизиты для приёма банковского перевода.
type BankAccount struct {
	AccountNumber string
	BankName      string
}

// SettlementGateway описывает взаимодействие с внешним платёжным шлюзом.
type SettlementGateway interface {
	// FindTransaction ищет в ленте транзакций шлюза платёж с совпадающими
	// референсом и суммой. Второй результат — признак совпадения.
	// Временная недоступность шлюза — ErrGatewayUnavailable.
	FindTransaction(ctx context.Context, reference string, amountMinor int64) (GatewayTransaction, bool, error)
	// AccountDetails возвращает реквизиты, которые показываются покупателю.
	AccountDetails() BankAccount
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
