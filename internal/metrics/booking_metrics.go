package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics содержит метрики резервирования и жизненного цикла платежей.
type BookingMetrics struct {
	// Счётчики операций резервирования
	reservationsStarted   prometheus.Counter
	reservationsSucceeded prometheus.Counter
	reservationsRejected  prometheus.Counter
	reservationConflicts  prometheus.Counter

	// Счётчики терминальных переходов платежей
	paymentTransitions *prometheus.CounterVec

	// Гистограммы времени выполнения
	reserveDuration prometheus.Histogram
	stepDuration    *prometheus.HistogramVec

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для активных резервов
	activeHolds prometheus.Gauge

	// Счётчик выпущенных билетов
	ticketsIssued prometheus.Counter
}

// NewBookingMetrics создаёт новый экземпляр метрик бронирования.
func NewBookingMetrics() *BookingMetrics {
	return newBookingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newBookingMetricsWithRegisterer(registerer prometheus.Registerer) *BookingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BookingMetrics{
		reservationsStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_reservations_started_total",
			Help: "Total number of reservation attempts started",
		}),
		reservationsSucceeded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_reservations_succeeded_total",
			Help: "Total number of reservations that produced an invoice",
		}),
		reservationsRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_reservations_rejected_total",
			Help: "Total number of reservations rejected due to insufficient inventory",
		}),
		reservationConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_reservation_conflicts_total",
			Help: "Total number of version conflicts retried during reservation",
		}),
		paymentTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tms_payment_transitions_total",
			Help: "Total number of applied terminal payment transitions",
		}, []string{"to"}),
		reserveDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "tms_reserve_duration_seconds",
			Help:    "Duration of reservation operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "tms_booking_step_duration_seconds",
			Help:    "Duration of individual booking steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeHolds: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "tms_active_holds",
			Help: "Number of invoices currently waiting for payment",
		}),
		ticketsIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tms_tickets_issued_total",
			Help: "Total number of tickets issued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordReservationStarted увеличивает счётчик начатых бронирований.
func (m *BookingMetrics) RecordReservationStarted() {
	m.reservationsStarted.Inc()
}

// RecordReservationSucceeded увеличивает счётчик успешных бронирований
// и количество активных резервов.
func (m *BookingMetrics) RecordReservationSucceeded() {
	m.reservationsSucceeded.Inc()
	m.activeHolds.Inc()
}

// RecordReservationRejected увеличивает счётчик отклонённых бронирований.
func (m *BookingMetrics) RecordReservationRejected() {
	m.reservationsRejected.Inc()
}

// RecordReservationConflict увеличивает счётчик конфликтов версий.
func (m *BookingMetrics) RecordReservationConflict() {
	m.reservationConflicts.Inc()
}

// RecordPaymentTransition увеличивает счётчик применённых терминальных переходов
// и уменьшает количество активных резервов.
func (m *BookingMetrics) RecordPaymentTransition(to string) {
	m.paymentTransitions.WithLabelValues(to).Inc()
	m.activeHolds.Dec()
}

// RecordReserveDuration записывает время выполнения бронирования.
func (m *BookingMetrics) RecordReserveDuration(duration time.Duration) {
	m.reserveDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага.
func (m *BookingMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *BookingMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *BookingMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordTicketsIssued увеличивает счётчик выпущенных билетов.
func (m *BookingMetrics) RecordTicketsIssued(count int) {
	if count <= 0 {
		return
	}
	m.ticketsIssued.Add(float64(count))
}
