package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/tms/internal/health"
	"github.com/vladislavdragonenkov/tms/internal/storage/memory"
	"github.com/vladislavdragonenkov/tms/internal/storage/postgres"
)

// storageRepo объединяет репозитории инвентаря, счетов и билетов:
// сервисный слой всегда получает их от одного хранилища.
type storageRepo interface {
	domain.InventoryRepository
	domain.InvoiceRepository
	domain.TicketRepository
}

// postgresRepo собирает отдельные postgres-репозитории в единый storageRepo.
type postgresRepo struct {
	domain.InventoryRepository
	domain.InvoiceRepository
	domain.TicketRepository
}

// runtimeDependencies — репозитории и вспомогательные ручки, зависящие
// от выбранного драйвера хранилища.
type runtimeDependencies struct {
	repo            storageRepo
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies создаёт репозитории для драйвера из конфигурации.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		return runtimeDependencies{
			repo:            store,
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires a DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres схема актуальна")
		}

		checker := healthcheck.NewSimpleChecker("postgres", func() error {
			return store.Ping(context.Background())
		})

		return runtimeDependencies{
			repo: postgresRepo{
				InventoryRepository: postgres.NewInventoryRepository(store),
				InvoiceRepository:   postgres.NewInvoiceRepository(store),
				TicketRepository:    postgres.NewTicketRepository(store),
			},
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  checker,
			closeFn:         store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
