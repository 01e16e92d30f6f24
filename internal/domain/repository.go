package domain

import "time"

// InventoryRepository описывает требования к хранилищу категорий билетов.
// Все мутации Locked/Sold сериализуются блокировкой строки категории;
// категории всегда блокируются в каноническом порядке (по возрастанию ID).
type InventoryRepository interface {
	// CreateTicketClass сохраняет новую категорию. Возвращает ошибку, если ID уже занят.
	CreateTicketClass(tc TicketClass) error
	// GetTicketClass возвращает категорию или ErrTicketClassNotFound.
	GetTicketClass(id string) (TicketClass, error)
	// ListByShow возвращает категории шоу, отсортированные по ID.
	ListByShow(showID string) ([]TicketClass, error)
	// Reserve атомарно проверяет доступность всех позиций, увеличивает Locked
	// и сохраняет счёт в одном действии. Нехватка хотя бы по одной позиции —
	// ErrInsufficientInventory, и ни одна категория не изменяется.
	Reserve(items []ReservationItem, invoice Invoice) error
	// Release уменьшает Locked на указанные количества, не опускаясь ниже нуля
	// (защита от двойного снятия резерва).
	Release(details map[string]int32) error
	// IssueTickets атомарно создаёт строки билетов и переводит единицы Locked -> Sold.
	// Повторный вызов для счёта с уже выпущенными билетами — безопасный no-op;
	// возвращаемый флаг сообщает, были ли билеты действительно вставлены.
	IssueTickets(invoice Invoice, tickets []Ticket) (bool, error)
}

// InvoiceRepository описывает требования к хранилищу счетов.
// Счета создаются внутри InventoryRepository.Reserve и никогда не удаляются.
type InvoiceRepository interface {
	// Get возвращает счёт по идентификатору или ErrInvoiceNotFound.
	Get(id string) (Invoice, error)
	// ListExpired возвращает счета в waiting_payment с истёкшим expires_at.
	ListExpired(before time.Time, limit int) ([]Invoice, error)
	// ListWaiting возвращает счета, всё ещё ожидающие оплаты.
	ListWaiting(limit int) ([]Invoice, error)
	// TransitionStatus применяет терминальный переход из waiting_payment (CAS по статусу).
	// Возвращает false, если счёт уже в терминальном или идентичном статусе.
	TransitionStatus(id string, to InvoiceStatus) (bool, error)
}

// TicketRepository описывает чтение выпущенных билетов.
type TicketRepository interface {
	// ListByInvoice возвращает билеты счёта, отсортированные по ID.
	ListByInvoice(invoiceID string) ([]Ticket, error)
	// CountByInvoice возвращает количество билетов, выпущенных по счёту.
	CountByInvoice(invoiceID string) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла платежа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(paymentID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
