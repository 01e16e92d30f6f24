package domain

import "time"

// TimelineEvent описывает один применённый переход статуса платежа.
// Записи append-only и образуют аудиторский след поверх Invoice.
type TimelineEvent struct {
	PaymentID string
	From      InvoiceStatus
	To        InvoiceStatus
	Reason    string
	Occurred  time.Time
}
