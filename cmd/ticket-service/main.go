package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/app"
)

// Переменные окружения, переопределяющие конфигурацию по умолчанию.
const (
	envHTTPAddr    = "TMS_HTTP_ADDR"
	envMetricsAddr = "TMS_METRICS_ADDR"

	envStorageDriver       = "TMS_STORAGE_DRIVER"
	envPostgresDSN         = "TMS_POSTGRES_DSN"
	envPostgresAutoMigrate = "TMS_POSTGRES_AUTO_MIGRATE"

	envKafkaBrokers = "TMS_KAFKA_BROKERS"
	envRedisAddr    = "TMS_REDIS_ADDR"

	envAllowMockIntegrations = "TMS_ALLOW_MOCK_INTEGRATIONS"

	envGatewayBaseURL       = "TMS_GATEWAY_BASE_URL"
	envGatewayPartnerID     = "TMS_GATEWAY_PARTNER_ID"
	envGatewayClientID      = "TMS_GATEWAY_CLIENT_ID"
	envGatewayClientSecret  = "TMS_GATEWAY_CLIENT_SECRET"
	envGatewayHMACKey       = "TMS_GATEWAY_HMAC_KEY"
	envGatewayAccountNumber = "TMS_GATEWAY_ACCOUNT_NUMBER"
	envGatewayBankName      = "TMS_GATEWAY_BANK_NAME"

	envPubNubPublishKey   = "TMS_PUBNUB_PUBLISH_KEY"
	envPubNubSubscribeKey = "TMS_PUBNUB_SUBSCRIBE_KEY"
	envPubNubUserID       = "TMS_PUBNUB_USER_ID"

	envHoldTTL = "TMS_HOLD_TTL"

	envOutboxPollInterval          = "TMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "TMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "TMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "TMS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "TMS_OUTBOX_MAX_PENDING"
	envIdempotencyCleanupInterval  = "TMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "TMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

// envLookup абстрагирует os.LookupEnv для тестов.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv формирует конфигурацию приложения из переменных
// окружения. Некорректные значения не прерывают запуск: поле остаётся
// со значением по умолчанию, а причина попадает в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q игнорируется: %v", key, value, err))
	}

	if v, ok := lookup(envHTTPAddr); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(envMetricsAddr); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}

	if v, ok := lookup(envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envPostgresDSN); ok {
		cfg.PostgresDSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = strings.TrimSpace(v)
	}
	if v, ok := lookup(envRedisAddr); ok {
		cfg.RedisAddr = strings.TrimSpace(v)
	}

	if v, ok := lookup(envAllowMockIntegrations); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envAllowMockIntegrations, v, err)
		} else {
			cfg.AllowMockIntegrations = parsed
		}
	}

	if v, ok := lookup(envGatewayBaseURL); ok {
		cfg.GatewayBaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(envGatewayPartnerID); ok {
		cfg.GatewayPartnerID = strings.TrimSpace(v)
	}
	if v, ok := lookup(envGatewayClientID); ok {
		cfg.GatewayClientID = strings.TrimSpace(v)
	}
	if v, ok := lookup(envGatewayClientSecret); ok {
		cfg.GatewayClientSecret = strings.TrimSpace(v)
	}
	if v, ok := lookup(envGatewayHMACKey); ok {
		cfg.GatewayHMACKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(envGatewayAccountNumber); ok {
		cfg.GatewayAccountNumber = strings.TrimSpace(v)
	}
	if v, ok := lookup(envGatewayBankName); ok {
		cfg.GatewayBankName = strings.TrimSpace(v)
	}

	if v, ok := lookup(envPubNubPublishKey); ok {
		cfg.PubNubPublishKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPubNubSubscribeKey); ok {
		cfg.PubNubSubscribeKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPubNubUserID); ok {
		cfg.PubNubUserID = strings.TrimSpace(v)
	}

	if v, ok := lookup(envHoldTTL); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0"); err != nil {
			warn(envHoldTTL, v, err)
		} else {
			cfg.HoldTTL = parsed
		}
	}

	if v, ok := lookup(envOutboxPollInterval); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0"); err != nil {
			warn(envOutboxPollInterval, v, err)
		} else {
			cfg.OutboxPollInterval = parsed
		}
	}
	if v, ok := lookup(envOutboxBatchSize); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envOutboxBatchSize, v, err)
		} else {
			cfg.OutboxBatchSize = parsed
		}
	}
	if v, ok := lookup(envOutboxMaxAttempts); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envOutboxMaxAttempts, v, err)
		} else {
			cfg.OutboxMaxAttempts = parsed
		}
	}
	if v, ok := lookup(envOutboxRetryDelay); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d >= 0 }, "must be >= 0"); err != nil {
			warn(envOutboxRetryDelay, v, err)
		} else {
			cfg.OutboxRetryDelay = parsed
		}
	}
	if v, ok := lookup(envOutboxMaxPending); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n >= 0 }, "must be >= 0"); err != nil {
			warn(envOutboxMaxPending, v, err)
		} else {
			cfg.OutboxMaxPending = parsed
		}
	}
	if v, ok := lookup(envIdempotencyCleanupInterval); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0"); err != nil {
			warn(envIdempotencyCleanupInterval, v, err)
		} else {
			cfg.IdempotencyCleanupInterval = parsed
		}
	}
	if v, ok := lookup(envIdempotencyCleanupBatchSize); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envIdempotencyCleanupBatchSize, v, err)
		} else {
			cfg.IdempotencyCleanupBatchSize = parsed
		}
	}

	return cfg, warnings
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true, nil
	case "0", "f", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value")
	}
}

func parseInt(value string, valid func(int) bool, requirement string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid integer value")
	}
	if !valid(parsed) {
		return 0, errors.New(requirement)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, requirement string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value")
	}
	if !valid(parsed) {
		return 0, errors.New(requirement)
	}
	return parsed, nil
}

func main() {
	setupLogger()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем сервис бронирования билетов")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("сервис бронирования остановлен")
}
