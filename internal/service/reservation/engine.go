package reservation

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/tms/internal/metrics"
)

const (
	defaultHoldTTL       = 15 * time.Minute
	defaultMaxRetries    = 3
	defaultRetryBaseWait = 10 * time.Millisecond
	referenceBytes       = 6
)

// Request описывает запрос на резервирование билетов.
type Request struct {
	ShowID  string
	BuyerID string
	Items   []domain.ReservationItem
}

// Engine атомарно резервирует билеты и выставляет счёт на оплату.
// Конфликты версий при конкурентных бронированиях повторяются ограниченное
// число раз с exponential backoff.
type Engine struct {
	inventory     domain.InventoryRepository
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	logger        *log.Entry
	metrics       *metrics.BookingMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры

	holdTTL       time.Duration
	maxRetries    int
	retryBaseWait time.Duration
}

// Options задаёт параметры Engine.
type Options struct {
	Logger        *log.Entry
	Metrics       *metrics.BookingMetrics
	KafkaProducer *kafka.Producer
	HoldTTL       time.Duration
	MaxRetries    int
	RetryBaseWait time.Duration
}

// Option настраивает Engine.
type Option func(*Options)

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

// WithKafkaProducer задаёт producer для публикации lock-событий.
func WithKafkaProducer(producer *kafka.Producer) Option {
	return func(opts *Options) {
		opts.KafkaProducer = producer
	}
}

// WithHoldTTL задаёт время удержания резерва до истечения счёта.
func WithHoldTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.HoldTTL = ttl
	}
}

// WithMaxRetries задаёт число повторов при конфликте версий.
func WithMaxRetries(n int) Option {
	return func(opts *Options) {
		opts.MaxRetries = n
	}
}

// WithRetryBaseWait задаёт базовый delay для exponential backoff.
func WithRetryBaseWait(d time.Duration) Option {
	return func(opts *Options) {
		opts.RetryBaseWait = d
	}
}

// NewEngine создаёт движок резервирования.
func NewEngine(
	inventory domain.InventoryRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	options ...Option,
) *Engine {
	opts := Options{
		HoldTTL:       defaultHoldTTL,
		MaxRetries:    defaultMaxRetries,
		RetryBaseWait: defaultRetryBaseWait,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-engine")
	}
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = defaultHoldTTL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBaseWait < 0 {
		opts.RetryBaseWait = 0
	}

	return &Engine{
		inventory:     inventory,
		outbox:        outbox,
		timeline:      timeline,
		logger:        logger,
		metrics:       opts.Metrics,
		kafkaProducer: opts.KafkaProducer,
		holdTTL:       opts.HoldTTL,
		maxRetries:    opts.MaxRetries,
		retryBaseWait: opts.RetryBaseWait,
	}
}

// Reserve проверяет доступность всех позиций, удерживает резерв и создаёт счёт.
// Либо применяются все позиции и возвращается счёт в waiting_payment, либо
// инвентарь остаётся нетронутым.
func (e *Engine) Reserve(req Request) (domain.Invoice, error) {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.RecordReservationStarted()
	}
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordReserveDuration(time.Since(start))
		}
	}()

	items, details, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Invoice{}, err
	}
	if req.ShowID == "" {
		return domain.Invoice{}, domain.ErrShowIDRequired
	}

	amount, err := e.priceItems(req.ShowID, items)
	if err != nil {
		return domain.Invoice{}, err
	}

	reference, err := generateReference()
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("generate payment reference: %w", err)
	}

	now := time.Now().UTC()
	invoice := domain.Invoice{
		ID:          uuid.NewString(),
		ShowID:      req.ShowID,
		BuyerID:     req.BuyerID,
		AmountMinor: amount,
		Reference:   reference,
		Status:      domain.InvoiceStatusWaitingPayment,
		Details:     details,
		ExpiresAt:   now.Add(e.holdTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := invoice.ValidateInvariants(); len(errs) > 0 {
		return domain.Invoice{}, errs[0]
	}

	if err := e.reserveWithRetry(items, invoice); err != nil {
		if domain.IsInsufficientInventory(err) && e.metrics != nil {
			e.metrics.RecordReservationRejected()
		}
		return domain.Invoice{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordReservationSucceeded()
	}

	e.appendTimeline(invoice, "reservation created")
	e.emitPaymentCreated(invoice)
	e.publishLockEvent(invoice)

	e.logger.WithFields(log.Fields{
		"payment_id":   invoice.ID,
		"show_id":      invoice.ShowID,
		"amount_minor": invoice.AmountMinor,
		"expires_at":   invoice.ExpiresAt.Format(time.RFC3339),
	}).Info("reservation created")

	return invoice, nil
}

// reserveWithRetry повторяет атомарное резервирование при конфликте версий.
// Грязных промежуточных состояний не бывает: неудачная попытка не меняет инвентарь.
func (e *Engine) reserveWithRetry(items []domain.ReservationItem, invoice domain.Invoice) error {
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		err := e.inventory.Reserve(items, invoice)
		if err == nil {
			return nil
		}
		if !domain.IsVersionConflict(err) {
			return err
		}

		lastErr = err
		if e.metrics != nil {
			e.metrics.RecordReservationConflict()
		}
		e.logger.WithFields(log.Fields{
			"payment_id": invoice.ID,
			"attempt":    attempt + 1,
		}).Warn("version conflict detected, retrying")

		if attempt < e.maxRetries-1 && e.retryBaseWait > 0 {
			time.Sleep(e.retryBaseWait * time.Duration(1<<uint(attempt)))
		}
	}

	return lastErr
}

func (e *Engine) priceItems(showID string, items []domain.ReservationItem) (int64, error) {
	var amount int64
	for _, item := range items {
		tc, err := e.inventory.GetTicketClass(item.TicketClassID)
		if err != nil {
			return 0, err
		}
		if tc.ShowID != showID {
			return 0, domain.ErrTicketClassNotFound
		}
		amount += tc.PriceMinor * int64(item.Quantity)
	}
	return amount, nil
}

func (e *Engine) appendTimeline(invoice domain.Invoice, reason string) {
	if e.timeline == nil {
		return
	}

	event := domain.TimelineEvent{
		PaymentID: invoice.ID,
		From:      domain.InvoiceStatusWaitingPayment,
		To:        domain.InvoiceStatusWaitingPayment,
		Reason:    reason,
		Occurred:  invoice.CreatedAt,
	}
	if err := e.timeline.Append(event); err != nil {
		e.logger.WithError(err).WithField("payment_id", invoice.ID).Warn("append timeline event failed")
	} else if e.metrics != nil {
		e.metrics.RecordTimelineEvent()
	}
}

func (e *Engine) emitPaymentCreated(invoice domain.Invoice) {
	if e.outbox == nil {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"payment_id":   invoice.ID,
		"show_id":      invoice.ShowID,
		"amount_minor": invoice.AmountMinor,
		"reference":    invoice.Reference,
		"expires_at":   invoice.ExpiresAt.Format(time.RFC3339Nano),
		"ts":           invoice.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		e.logger.WithError(err).WithField("payment_id", invoice.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   invoice.ID,
		EventType:     string(kafka.EventTypePaymentCreated),
		Payload:       payload,
	}
	if _, err := e.outbox.Enqueue(msg); err != nil {
		e.logger.WithError(err).WithField("payment_id", invoice.ID).Error("enqueue event failed")
	} else if e.metrics != nil {
		e.metrics.RecordOutboxEvent()
	}
}

// publishLockEvent анонсирует новый резерв в Kafka (если producer настроен).
// Событие lock.expired публикуют внешние системы, которым известен момент
// истечения; reaper реагирует только на него.
func (e *Engine) publishLockEvent(invoice domain.Invoice) {
	if e.kafkaProducer == nil {
		return
	}

	event := kafka.NewLockEvent(kafka.EventTypeLockCreated, invoice.ID, invoice.Details, invoice.ExpiresAt)
	if err := e.kafkaProducer.PublishEvent(kafka.TopicLockEvents, invoice.ID, event); err != nil {
		// Логируем ошибку, но не прерываем бронирование: Kafka опциональный,
		// таймерный reaper подстрахует.
		e.logger.WithError(err).WithField("payment_id", invoice.ID).Warn("failed to publish lock event to kafka")
	}
}

// normalizeItems валидирует позиции и склеивает дубликаты категорий.
func normalizeItems(items []domain.ReservationItem) ([]domain.ReservationItem, map[string]int32, error) {
	if len(items) == 0 {
		return nil, nil, domain.ErrItemsRequired
	}

	details := make(map[string]int32, len(items))
	for _, item := range items {
		if errs := item.Validate(); len(errs) > 0 {
			return nil, nil, errs[0]
		}
		details[item.TicketClassID] += item.Quantity
	}

	merged := make([]domain.ReservationItem, 0, len(details))
	for id, qty := range details {
		merged = append(merged, domain.ReservationItem{TicketClassID: id, Quantity: qty})
	}

	return merged, details, nil
}

func generateReference() (string, error) {
	buf := make([]byte, referenceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "TMS-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// IsRetryable сообщает, имеет ли смысл клиенту повторить запрос позже.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict)
}
