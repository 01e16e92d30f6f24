package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/cache"
	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/gateway/bank"
	healthcheck "github.com/vladislavdragonenkov/tms/internal/health"
	"github.com/vladislavdragonenkov/tms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/tms/internal/metrics"
	"github.com/vladislavdragonenkov/tms/internal/notify"
	"github.com/vladislavdragonenkov/tms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/tms/internal/service/issuer"
	"github.com/vladislavdragonenkov/tms/internal/service/outbox"
	"github.com/vladislavdragonenkov/tms/internal/service/payment"
	"github.com/vladislavdragonenkov/tms/internal/service/reaper"
	"github.com/vladislavdragonenkov/tms/internal/service/reservation"
	"github.com/vladislavdragonenkov/tms/internal/service/settlement"
	"github.com/vladislavdragonenkov/tms/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/tms/internal/version"
)

// Run собирает сервис бронирования из конфигурации и блокируется до
// отмены ctx или фатальной ошибки HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if deps.closeFn != nil {
		defer func() { _ = deps.closeFn() }()
	}

	bookingMetrics := metrics.NewBookingMetrics()

	// Kafka опционален: без брокеров события остаются в outbox-хранилище.
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		producer = nil
	}
	defer closeKafka(producer, logger)

	hub := notify.NewHub()
	var notifier domain.Notifier = hub
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pn := notify.NewPubNubNotifier(notify.PubNubConfig{
			PublishKey:   cfg.PubNubPublishKey,
			SubscribeKey: cfg.PubNubSubscribeKey,
			UserID:       cfg.PubNubUserID,
		})
		notifier = notify.Fanout{hub, pn}
		logger.Info("pubnub-уведомления включены")
	}

	var gateway domain.SettlementGateway
	if cfg.GatewayBaseURL != "" {
		client, err := bank.NewClient(ctx, bank.Config{
			BaseURL:       cfg.GatewayBaseURL,
			PartnerID:     cfg.GatewayPartnerID,
			ClientID:      cfg.GatewayClientID,
			ClientSecret:  cfg.GatewayClientSecret,
			HMACKey:       cfg.GatewayHMACKey,
			AccountNumber: cfg.GatewayAccountNumber,
			BankName:      cfg.GatewayBankName,
		})
		if err != nil {
			logger.WithError(err).Warn("платёжный шлюз недоступен, сверка по выписке отключена")
		} else {
			gateway = client
		}
	} else if cfg.AllowMockIntegrations {
		gateway = bank.NewMockGateway()
		logger.Warn("используется mock платёжного шлюза")
	}

	engineOpts := []reservation.Option{
		reservation.WithLogger(logger.WithField("component", "reservation-engine")),
		reservation.WithMetrics(bookingMetrics),
		reservation.WithHoldTTL(cfg.HoldTTL),
	}
	if producer != nil {
		engineOpts = append(engineOpts, reservation.WithKafkaProducer(producer))
	}
	engine := reservation.NewEngine(deps.repo, deps.outboxRepo, deps.timelineRepo, engineOpts...)

	ticketIssuer := issuer.NewIssuer(deps.repo, deps.repo, deps.outboxRepo,
		logger.WithField("component", "ticket-issuer"), bookingMetrics)

	stateMachine := payment.NewStateMachine(deps.repo, deps.repo, deps.timelineRepo, deps.outboxRepo,
		payment.WithIssuer(ticketIssuer),
		payment.WithNotifier(notifier),
		payment.WithLogger(logger.WithField("component", "payment-state-machine")),
		payment.WithMetrics(bookingMetrics),
	)

	reaperWorker := reaper.NewWorker(deps.repo, stateMachine,
		reaper.WithLogger(logger.WithField("component", "hold-reaper")),
		reaper.WithScanInterval(cfg.ReaperScanInterval),
		reaper.WithBatchSize(cfg.ReaperBatchSize),
	)
	go reaperWorker.Run(ctx)

	if gateway != nil {
		watcher := settlement.NewWatcher(deps.repo, gateway, stateMachine,
			settlement.WithLogger(logger.WithField("component", "settlement-watcher")),
			settlement.WithPollInterval(cfg.SettlementPollInterval),
			settlement.WithBatchSize(cfg.SettlementBatchSize),
		)
		go watcher.Run(ctx)
	}

	if producer != nil {
		publisher := kafka.NewOutboxPublisher(producer, kafka.TopicPaymentEvents)
		dlqPublisher := kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
		outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go outboxWorker.Run(ctx)

		brokers := strings.Split(cfg.KafkaBrokers, ",")
		consumer, err := kafka.NewConsumer(brokers, "tms-hold-reaper",
			[]string{kafka.TopicLockEvents}, reaperWorker.HandleLockEvent)
		if err != nil {
			logger.WithError(err).Warn("не удалось создать kafka consumer для lock-событий")
		} else {
			if err := consumer.Start(ctx); err != nil {
				logger.WithError(err).Warn("не удалось запустить kafka consumer")
			} else {
				defer func() { _ = consumer.Stop() }()
			}
		}

		issuerHandler := issuer.NewEventHandler(deps.repo, ticketIssuer,
			logger.WithField("component", "ticket-issuer-consumer"))
		paymentConsumer, err := kafka.NewConsumer(brokers, "tms-ticket-issuer",
			[]string{kafka.TopicPaymentEvents}, issuerHandler.HandlePaymentEvent)
		if err != nil {
			logger.WithError(err).Warn("не удалось создать kafka consumer для платёжных событий")
		} else {
			if err := paymentConsumer.Start(ctx); err != nil {
				logger.WithError(err).Warn("не удалось запустить kafka consumer платёжных событий")
			} else {
				defer func() { _ = paymentConsumer.Stop() }()
			}
		}
	} else {
		logger.Info("kafka не настроен, события остаются в outbox-хранилище")
	}

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go cleanupWorker.Run(ctx)

	var availability *cache.AvailabilityCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()
		availability = cache.NewAvailabilityCache(redisClient, cfg.AvailabilityCacheTTL)
		logger.WithField("addr", cfg.RedisAddr).Info("redis-кэш остатков включён")
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	serverOpts := []httpapi.Option{
		httpapi.WithHub(hub),
		httpapi.WithIdempotency(deps.idempotencyRepo),
		httpapi.WithLogger(logger.WithField("component", "http-api")),
	}
	if gateway != nil {
		serverOpts = append(serverOpts, httpapi.WithGateway(gateway))
	}
	if availability != nil {
		serverOpts = append(serverOpts, httpapi.WithAvailabilityCache(availability))
	}
	server := httpapi.NewServer(engine, stateMachine, deps.repo, deps.repo, deps.repo, serverOpts...)

	logger.Info("сервис бронирования запущен")
	return server.Run(ctx, cfg.HTTPAddr)
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus
// вместе с health-эндпоинтами.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
