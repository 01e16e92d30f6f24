package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 200
)

var (
	settlementRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_settlement_runs_total",
		Help: "Total number of settlement polling runs grouped by result.",
	}, []string{"result"})
	settlementMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tms_settlement_matched_total",
		Help: "Total number of invoices matched against the gateway statement.",
	})
)

// PaymentSettler подтверждает оплату платежа.
type PaymentSettler interface {
	MarkSuccess(paymentID, reason string) (bool, error)
}

// Options задает параметры watcher-а.
type Options struct {
	Logger       *log.Entry
	PollInterval time.Duration
	BatchSize    int
}

// Option настраивает Watcher.
type Option func(*Options)

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithPollInterval задает интервал опроса шлюза.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задает размер выборки ожидающих счетов за цикл.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Watcher сверяет ожидающие оплаты счета с выпиской платёжного шлюза.
// Совпадение по референсу и сумме подтверждает оплату. Временная
// недоступность шлюза не считается ошибкой цикла: опрос продолжается.
type Watcher struct {
	invoices domain.InvoiceRepository
	gateway  domain.SettlementGateway
	settler  PaymentSettler
	logger   *log.Entry
	interval time.Duration
	batch    int
}

// NewWatcher создает watcher сверки платежей.
func NewWatcher(
	invoices domain.InvoiceRepository,
	gateway domain.SettlementGateway,
	settler PaymentSettler,
	options ...Option,
) *Watcher {
	opts := Options{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "settlement-watcher")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Watcher{
		invoices: invoices,
		gateway:  gateway,
		settler:  settler,
		logger:   logger,
		interval: opts.PollInterval,
		batch:    opts.BatchSize,
	}
}

// Run запускает периодическую сверку до отмены ctx.
func (w *Watcher) Run(ctx context.Context) {
	if w.gateway == nil {
		w.logger.Warn("settlement watcher is disabled: gateway is nil")
		return
	}

	w.ProcessOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл сверки и возвращает количество
// подтверждённых платежей.
func (w *Watcher) ProcessOnce(ctx context.Context) int {
	waiting, err := w.invoices.ListWaiting(w.batch)
	if err != nil {
		settlementRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("list waiting invoices failed")
		return 0
	}

	matched := 0
	for _, invoice := range waiting {
		if err := ctx.Err(); err != nil {
			return matched
		}

		tx, found, err := w.gateway.FindTransaction(ctx, invoice.Reference, invoice.AmountMinor)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayUnavailable) {
				// Шлюз вернётся, выписка не теряется. Цикл завершаем,
				// чтобы не молотить недоступный endpoint по всему батчу.
				settlementRunsTotal.WithLabelValues("gateway_unavailable").Inc()
				w.logger.Warn("settlement gateway unavailable, will retry next cycle")
				return matched
			}
			w.logger.WithError(err).WithField("payment_id", invoice.ID).Warn("gateway lookup failed")
			continue
		}
		if !found {
			continue
		}

		applied, err := w.settler.MarkSuccess(invoice.ID, "gateway settlement matched")
		if err != nil {
			w.logger.WithError(err).WithField("payment_id", invoice.ID).Error("settle transition failed")
			continue
		}
		if applied {
			matched++
			w.logger.WithFields(log.Fields{
				"payment_id":  invoice.ID,
				"reference":   invoice.Reference,
				"external_id": tx.ExternalID,
			}).Info("payment settled")
		}
	}

	settlementRunsTotal.WithLabelValues("ok").Inc()
	if matched > 0 {
		settlementMatchedTotal.Add(float64(matched))
	}
	return matched
}
