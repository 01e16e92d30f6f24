package issuer

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/messaging/kafka"
)

// EventHandler выпускает билеты по событиям payment.success из Kafka.
// Путь нужен, когда переход платежа применяет другой процесс: событие из
// общего топика дублирует триггер выпуска. Повторная доставка безопасна,
// выпуск билетов идемпотентен.
type EventHandler struct {
	invoices domain.InvoiceRepository
	issuer   *Issuer
	logger   *log.Entry
}

// NewEventHandler создаёт обработчик платёжных событий для эмитента.
func NewEventHandler(invoices domain.InvoiceRepository, issuer *Issuer, logger *log.Entry) *EventHandler {
	if logger == nil {
		logger = log.WithField("component", "ticket-issuer-consumer")
	}
	return &EventHandler{
		invoices: invoices,
		issuer:   issuer,
		logger:   logger,
	}
}

// HandlePaymentEvent обрабатывает сообщение из топика платёжных событий.
// Выпуск запускается только для payment.success по счёту, который уже
// находится в статусе payment_success в хранилище.
func (h *EventHandler) HandlePaymentEvent(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParsePaymentEvent(message)
	if err != nil {
		return err
	}
	if event.EventType != kafka.EventTypePaymentSuccess {
		return nil
	}

	invoice, err := h.invoices.Get(event.PaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			// Счёт мог быть создан другим окружением; событие пропускаем.
			return nil
		}
		return err
	}
	if invoice.Status != domain.InvoiceStatusPaymentSuccess {
		// Переход ещё не применён или платёж завершился иначе.
		return nil
	}

	if _, err := h.issuer.Issue(invoice); err != nil {
		return err
	}
	return nil
}
