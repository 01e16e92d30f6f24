package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора шоу.
	ErrShowIDRequired = errors.New("show_id is required")
	// Ошибка отсутствующего названия категории билетов.
	ErrTicketClassNameRequired = errors.New("ticket class name is required")
	// Ошибка отрицательной цены за единицу.
	ErrPriceNegative = errors.New("price_minor must be non-negative")
	// Ошибка отрицательной вместимости категории.
	ErrCapacityNegative = errors.New("capacity must be non-negative")
	// Ошибка отрицательных счётчиков locked/sold.
	ErrCountsNegative = errors.New("locked and sold counts must be non-negative")
	// ErrCapacityExceeded — нарушение ключевого инварианта locked + sold <= capacity.
	ErrCapacityExceeded = errors.New("locked + sold exceeds capacity")
	// Ошибка пустого списка позиций в запросе на резервирование.
	ErrItemsRequired = errors.New("reservation must contain at least one item")
	// Ошибка отсутствующего идентификатора категории в позиции.
	ErrItemClassRequired = errors.New("reservation item ticket_class_id is required")
	// Ошибка некорректного количества в позиции (<= 0).
	ErrItemQtyInvalid = errors.New("reservation item quantity must be greater than zero")
	// Ошибка отрицательной суммы счёта.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка пустой карты ticket details в счёте.
	ErrDetailsRequired = errors.New("invoice must contain ticket details")
	// Ошибка отсутствующего платёжного референса.
	ErrReferenceRequired = errors.New("payment reference is required")
	// Ошибка отсутствующего идентификатора счёта в билете или событии.
	ErrInvoiceIDRequired = errors.New("invoice_id is required")

	// ErrInsufficientInventory — запрошенное количество превышает доступный остаток.
	// Ошибка бизнесовая и не подлежит автоматическому повтору.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrTicketClassNotFound возвращается, если категория билетов не найдена в репозитории.
	ErrTicketClassNotFound = errors.New("ticket class not found")
	// ErrInvoiceNotFound возвращается, если счёт не найден в репозитории.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении категории.
	// Вызывающий обязан повторить всю операцию с самого начала (bounded retry).
	ErrVersionConflict = errors.New("ticket class version conflict")
	// ErrGatewayUnavailable — временная недоступность платёжного шлюза; polling продолжается.
	ErrGatewayUnavailable = errors.New("settlement gateway unavailable")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки обработки idempotency-key для запросов на резервирование.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyHashMismatch        = errors.New("idempotency request hash mismatch")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsInsufficientInventory проверяет, является ли ошибка нехваткой остатков.
func IsInsufficientInventory(err error) bool {
	return errors.Is(err, ErrInsufficientInventory)
}
