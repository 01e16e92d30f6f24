package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/notify"
	"github.com/vladislavdragonenkov/tms/internal/service/issuer"
	"github.com/vladislavdragonenkov/tms/internal/service/payment"
	"github.com/vladislavdragonenkov/tms/internal/service/reservation"
	"github.com/vladislavdragonenkov/tms/internal/storage/memory"
)

// Dependencies — сервисный слой, собранный поверх in-memory хранилища.
// Используется в разработке и тестах, где postgres и kafka не нужны.
type Dependencies struct {
	Repo            storageRepo
	OutboxRepo      domain.OutboxRepository
	TimelineRepo    domain.TimelineRepository
	IdempotencyRepo domain.IdempotencyRepository
	Engine          *reservation.Engine
	StateMachine    *payment.StateMachine
	Hub             *notify.Hub
	Logger          *log.Entry
}

// NewDependencies создаёт зависимости приложения с in-memory хранилищем.
func NewDependencies(logger *log.Entry) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	store := memory.NewStore()
	outboxRepo := memory.NewOutboxRepository()
	timelineRepo := memory.NewTimelineRepository()
	idempotencyRepo := memory.NewIdempotencyRepository()
	hub := notify.NewHub()

	engine := reservation.NewEngine(store, outboxRepo, timelineRepo,
		reservation.WithLogger(logger.WithField("component", "reservation-engine")),
	)
	ticketIssuer := issuer.NewIssuer(store, store, outboxRepo,
		logger.WithField("component", "ticket-issuer"), nil)
	stateMachine := payment.NewStateMachine(store, store, timelineRepo, outboxRepo,
		payment.WithIssuer(ticketIssuer),
		payment.WithNotifier(hub),
		payment.WithLogger(logger.WithField("component", "payment-state-machine")),
	)

	return &Dependencies{
		Repo:            store,
		OutboxRepo:      outboxRepo,
		TimelineRepo:    timelineRepo,
		IdempotencyRepo: idempotencyRepo,
		Engine:          engine,
		StateMachine:    stateMachine,
		Hub:             hub,
		Logger:          logger,
	}
}
