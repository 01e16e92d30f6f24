package domain

import "time"

// Ticket — проданная единица. Создаётся только эмитентом билетов,
// ровно один раз на каждую зарезервированную единицу, после payment_success.
type Ticket struct {
	ID            string
	TicketClassID string
	InvoiceID     string
	BuyerID       string     // Пустая строка, если покупатель не указан.
	CheckedInAt   *time.Time // Заполняется при регистрации на входе; вне ядра.
	CreatedAt     time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля билета.
func (t *Ticket) Validate() []error {
	var errs []error

	if t.TicketClassID == "" {
		errs = append(errs, ErrItemClassRequired)
	}
	if t.InvoiceID == "" {
		errs = append(errs, ErrInvoiceIDRequired)
	}

	return errs
}
