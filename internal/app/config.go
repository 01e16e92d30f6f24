package app

import "time"

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса бронирования.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// AllowMockIntegrations подставляет mock платёжного шлюза, когда
	// реальный не настроен. Только для разработки и стендов.
	AllowMockIntegrations bool

	KafkaBrokers string
	RedisAddr    string

	// Реквизиты платёжного шлюза. При пустом GatewayBaseURL сверка
	// платежей по выписке отключена.
	GatewayBaseURL       string
	GatewayPartnerID     string
	GatewayClientID      string
	GatewayClientSecret  string
	GatewayHMACKey       string
	GatewayAccountNumber string
	GatewayBankName      string

	// Ключи PubNub для push-уведомлений о статусе платежа.
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubUserID       string

	HoldTTL time.Duration

	ReaperScanInterval time.Duration
	ReaperBatchSize    int

	SettlementPollInterval time.Duration
	SettlementBatchSize    int

	AvailabilityCacheTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище,
// HTTP API на :8080 и метрики на :9090.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		HoldTTL: 15 * time.Minute,

		ReaperScanInterval: 30 * time.Second,
		ReaperBatchSize:    100,

		SettlementPollInterval: 10 * time.Second,
		SettlementBatchSize:    200,

		AvailabilityCacheTTL: 3 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   2 * time.Second,
		OutboxMaxPending:   1000,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}
