package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/messaging/kafka"
)

const (
	defaultScanInterval = 30 * time.Second
	defaultBatchSize    = 100
)

var (
	reaperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tms_reaper_runs_total",
		Help: "Total number of expiry scan runs grouped by result.",
	}, []string{"result"})
	reaperExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tms_reaper_expired_total",
		Help: "Total number of invoices moved to payment_expired by the reaper.",
	})
	reaperLastExpired = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tms_reaper_last_expired",
		Help: "Number of invoices expired during the last scan.",
	})
)

// PaymentExpirer применяет переход payment_expired к платежу.
type PaymentExpirer interface {
	MarkExpired(paymentID, reason string) (bool, error)
}

// Options задает параметры reaper-а.
type Options struct {
	Logger       *log.Entry
	ScanInterval time.Duration
	BatchSize    int
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithScanInterval задает интервал между сканированиями истёкших счетов.
func WithScanInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.ScanInterval = interval
	}
}

// WithBatchSize задает размер batch для одного сканирования.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Worker освобождает резервы по счетам с истёкшим окном оплаты.
// Таймерное сканирование — авторитетный механизм; lock-события из Kafka
// лишь ускоряют реакцию и безопасны при повторной доставке.
type Worker struct {
	invoices  domain.InvoiceRepository
	expirer   PaymentExpirer
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewWorker создает reaper истёкших резервов.
func NewWorker(invoices domain.InvoiceRepository, expirer PaymentExpirer, options ...Option) *Worker {
	opts := Options{
		ScanInterval: defaultScanInterval,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "hold-reaper")
	}

	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		invoices:  invoices,
		expirer:   expirer,
		logger:    logger,
		interval:  opts.ScanInterval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическое сканирование до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	w.ProcessOnce(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx, time.Now().UTC())
		}
	}
}

// ProcessOnce выполняет одно сканирование: выбирает истёкшие счета
// и применяет к каждому переход payment_expired.
// Возвращает количество применённых переходов.
func (w *Worker) ProcessOnce(ctx context.Context, now time.Time) int {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiredTotal := 0
	for {
		if err := ctx.Err(); err != nil {
			return expiredTotal
		}

		invoices, err := w.invoices.ListExpired(now, w.batchSize)
		if err != nil {
			reaperRunsTotal.WithLabelValues("error").Inc()
			w.logger.WithError(err).Warn("expiry scan failed")
			return expiredTotal
		}
		if len(invoices) == 0 {
			break
		}

		appliedInBatch := 0
		for _, invoice := range invoices {
			applied, err := w.expirer.MarkExpired(invoice.ID, "hold window elapsed")
			if err != nil {
				if errors.Is(err, domain.ErrInvoiceNotFound) {
					continue
				}
				w.logger.WithError(err).WithField("payment_id", invoice.ID).Warn("expire transition failed")
				continue
			}
			if applied {
				appliedInBatch++
			}
		}
		expiredTotal += appliedInBatch

		// Ничего не применили или батч неполный: продолжение отдаём
		// следующему тику, чтобы не крутиться на ошибочных счетах.
		if appliedInBatch == 0 || len(invoices) < w.batchSize {
			break
		}
	}

	reaperRunsTotal.WithLabelValues("ok").Inc()
	reaperLastExpired.Set(float64(expiredTotal))
	if expiredTotal > 0 {
		reaperExpiredTotal.Add(float64(expiredTotal))
		w.logger.WithField("expired", expiredTotal).Info("expired holds released")
	}

	return expiredTotal
}

// HandleLockEvent обрабатывает lock-событие из Kafka.
// Сообщение служит подсказкой: переход применяется только если окно
// действительно истекло, повторная доставка безвредна.
func (w *Worker) HandleLockEvent(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseLockEvent(message)
	if err != nil {
		return err
	}
	if event.EventType != kafka.EventTypeLockExpired {
		return nil
	}

	invoice, err := w.invoices.Get(event.PaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			return nil
		}
		return err
	}
	if !invoice.IsExpired(time.Now().UTC()) {
		return nil
	}

	if _, err := w.expirer.MarkExpired(invoice.ID, "lock event received"); err != nil {
		return err
	}
	return nil
}
