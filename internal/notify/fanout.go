package notify

import "github.com/vladislavdragonenkov/tms/internal/domain"

// Fanout рассылает уведомление каждому вложенному нотификатору по порядку.
type Fanout []domain.Notifier

func (f Fanout) Notify(paymentID string, n domain.PaymentNotification) {
	for _, notifier := range f {
		if notifier != nil {
			notifier.Notify(paymentID, n)
		}
	}
}

var _ domain.Notifier = (Fanout)(nil)
