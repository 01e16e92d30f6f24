package payment

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/tms/internal/metrics"
)

// TicketIssuer выпускает билеты по оплаченному счёту.
type TicketIssuer interface {
	Issue(invoice domain.Invoice) ([]domain.Ticket, error)
}

// StateMachine применяет терминальные переходы жизненного цикла платежа.
// Переход применяется ровно один раз: CAS по статусу в репозитории
// гарантирует, что из двух конкурирующих переходов побеждает первый,
// а проигравший завершается без побочных эффектов.
type StateMachine struct {
	invoices  domain.InvoiceRepository
	inventory domain.InventoryRepository
	issuer    TicketIssuer
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	notifier  domain.Notifier
	logger    *log.Entry
	metrics   *metrics.BookingMetrics
}

// Options задаёт опциональные зависимости StateMachine.
type Options struct {
	Issuer   TicketIssuer
	Notifier domain.Notifier
	Logger   *log.Entry
	Metrics  *metrics.BookingMetrics
}

// Option настраивает StateMachine.
type Option func(*Options)

// WithIssuer задаёт эмитента билетов для успешных оплат.
func WithIssuer(issuer TicketIssuer) Option {
	return func(opts *Options) {
		opts.Issuer = issuer
	}
}

// WithNotifier задаёт канал уведомлений о переходах.
func WithNotifier(n domain.Notifier) Option {
	return func(opts *Options) {
		opts.Notifier = n
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики бронирования.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// NewStateMachine создаёт машину состояний платежей.
func NewStateMachine(
	invoices domain.InvoiceRepository,
	inventory domain.InventoryRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	options ...Option,
) *StateMachine {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-state-machine")
	}

	return &StateMachine{
		invoices:  invoices,
		inventory: inventory,
		issuer:    opts.Issuer,
		timeline:  timeline,
		outbox:    outbox,
		notifier:  opts.Notifier,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// MarkSuccess подтверждает оплату и выпускает билеты.
// Возвращает true, если именно этот вызов применил переход.
func (sm *StateMachine) MarkSuccess(paymentID, reason string) (bool, error) {
	applied, invoice, err := sm.transition(paymentID, domain.InvoiceStatusPaymentSuccess, reason)
	if err != nil || !applied {
		return applied, err
	}

	if sm.issuer != nil {
		if _, err := sm.issuer.Issue(invoice); err != nil {
			// Переход уже применён, оплата не теряется. Выпуск билетов
			// идемпотентен и может быть повторён отдельно.
			sm.logger.WithError(err).WithField("payment_id", paymentID).Error("ticket issue failed after payment")
			return true, fmt.Errorf("issue tickets after payment %s: %w", paymentID, err)
		}
	}
	return true, nil
}

// MarkFailed фиксирует отклонённый платёж и освобождает резерв.
func (sm *StateMachine) MarkFailed(paymentID, reason string) (bool, error) {
	return sm.transitionAndRelease(paymentID, domain.InvoiceStatusPaymentFailed, reason)
}

// MarkExpired завершает платёж с истёкшим окном удержания и освобождает резерв.
func (sm *StateMachine) MarkExpired(paymentID, reason string) (bool, error) {
	return sm.transitionAndRelease(paymentID, domain.InvoiceStatusPaymentExpired, reason)
}

// Cancel отменяет бронирование по запросу покупателя и освобождает резерв.
func (sm *StateMachine) Cancel(paymentID, reason string) (bool, error) {
	return sm.transitionAndRelease(paymentID, domain.InvoiceStatusPaymentCancelled, reason)
}

func (sm *StateMachine) transitionAndRelease(paymentID string, to domain.InvoiceStatus, reason string) (bool, error) {
	applied, invoice, err := sm.transition(paymentID, to, reason)
	if err != nil || !applied {
		return applied, err
	}

	// Резерв освобождается только победившим переходом, поэтому
	// повторные expire/cancel не уводят locked в минус.
	if err := sm.inventory.Release(invoice.Details); err != nil {
		sm.logger.WithError(err).WithField("payment_id", paymentID).Error("release inventory failed")
		return true, fmt.Errorf("release inventory for payment %s: %w", paymentID, err)
	}
	return true, nil
}

// transition применяет CAS-переход и, если он прошёл, пишет timeline,
// ставит событие в outbox и уведомляет наблюдателей.
func (sm *StateMachine) transition(paymentID string, to domain.InvoiceStatus, reason string) (bool, domain.Invoice, error) {
	applied, err := sm.invoices.TransitionStatus(paymentID, to)
	if err != nil {
		return false, domain.Invoice{}, err
	}
	if !applied {
		sm.logger.WithFields(log.Fields{
			"payment_id": paymentID,
			"to":         string(to),
		}).Debug("transition lost the race, skipping side effects")
		return false, domain.Invoice{}, nil
	}

	invoice, err := sm.invoices.Get(paymentID)
	if err != nil {
		return true, domain.Invoice{}, err
	}

	now := time.Now().UTC()
	sm.appendTimeline(paymentID, to, reason, now)
	sm.emitPaymentEvent(invoice, to)
	sm.notify(paymentID, to, now)

	if sm.metrics != nil {
		sm.metrics.RecordPaymentTransition(string(to))
	}

	sm.logger.WithFields(log.Fields{
		"payment_id": paymentID,
		"to":         string(to),
		"reason":     reason,
	}).Info("payment transition applied")

	return true, invoice, nil
}

func (sm *StateMachine) appendTimeline(paymentID string, to domain.InvoiceStatus, reason string, occurred time.Time) {
	if sm.timeline == nil {
		return
	}

	event := domain.TimelineEvent{
		PaymentID: paymentID,
		From:      domain.InvoiceStatusWaitingPayment,
		To:        to,
		Reason:    reason,
		Occurred:  occurred,
	}
	if err := sm.timeline.Append(event); err != nil {
		sm.logger.WithError(err).WithField("payment_id", paymentID).Warn("append timeline event failed")
	} else if sm.metrics != nil {
		sm.metrics.RecordTimelineEvent()
	}
}

func (sm *StateMachine) emitPaymentEvent(invoice domain.Invoice, to domain.InvoiceStatus) {
	if sm.outbox == nil {
		return
	}

	event := kafka.NewPaymentEvent(
		eventTypeForStatus(to),
		invoice.ID, invoice.ShowID, string(to), invoice.AmountMinor, nil,
	)
	payload, err := json.Marshal(event)
	if err != nil {
		sm.logger.WithError(err).WithField("payment_id", invoice.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   invoice.ID,
		EventType:     string(event.EventType),
		Payload:       payload,
	}
	if _, err := sm.outbox.Enqueue(msg); err != nil {
		sm.logger.WithError(err).WithField("payment_id", invoice.ID).Error("enqueue event failed")
	} else if sm.metrics != nil {
		sm.metrics.RecordOutboxEvent()
	}
}

func (sm *StateMachine) notify(paymentID string, to domain.InvoiceStatus, occurred time.Time) {
	if sm.notifier == nil {
		return
	}
	sm.notifier.Notify(paymentID, domain.PaymentNotification{
		PaymentID: paymentID,
		Status:    to,
		Timestamp: occurred,
	})
}

func eventTypeForStatus(status domain.InvoiceStatus) kafka.EventType {
	switch status {
	case domain.InvoiceStatusPaymentSuccess:
		return kafka.EventTypePaymentSuccess
	case domain.InvoiceStatusPaymentFailed:
		return kafka.EventTypePaymentFailed
	case domain.InvoiceStatusPaymentExpired:
		return kafka.EventTypePaymentExpired
	case domain.InvoiceStatusPaymentCancelled:
		return kafka.EventTypePaymentCancelled
	default:
		return kafka.EventTypePaymentCreated
	}
}
