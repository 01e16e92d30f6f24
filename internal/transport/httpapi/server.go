package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/cache"
	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/notify"
	"github.com/vladislavdragonenkov/tms/internal/service/payment"
	"github.com/vladislavdragonenkov/tms/internal/service/reservation"
)

// Server — HTTP-слой сервиса бронирования поверх gin.
type Server struct {
	engine       *reservation.Engine
	stateMachine *payment.StateMachine
	invoices     domain.InvoiceRepository
	inventory    domain.InventoryRepository
	tickets      domain.TicketRepository
	gateway      domain.SettlementGateway
	hub          *notify.Hub
	availability *cache.AvailabilityCache
	idempotency  domain.IdempotencyRepository
	logger       *log.Entry

	router *gin.Engine
}

// Options задаёт опциональные зависимости Server.
type Options struct {
	Gateway      domain.SettlementGateway
	Hub          *notify.Hub
	Availability *cache.AvailabilityCache
	Idempotency  domain.IdempotencyRepository
	Logger       *log.Entry
}

// Option настраивает Server.
type Option func(*Options)

// WithGateway задаёт платёжный шлюз для выдачи реквизитов.
func WithGateway(gateway domain.SettlementGateway) Option {
	return func(opts *Options) {
		opts.Gateway = gateway
	}
}

// WithHub задаёт шину уведомлений для SSE-потока.
func WithHub(hub *notify.Hub) Option {
	return func(opts *Options) {
		opts.Hub = hub
	}
}

// WithAvailabilityCache задаёт Redis-кэш остатков.
func WithAvailabilityCache(c *cache.AvailabilityCache) Option {
	return func(opts *Options) {
		opts.Availability = c
	}
}

// WithIdempotency задаёт хранилище idempotency-ключей.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(opts *Options) {
		opts.Idempotency = repo
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// NewServer создаёт HTTP-слой и регистрирует маршруты.
func NewServer(
	engine *reservation.Engine,
	stateMachine *payment.StateMachine,
	invoices domain.InvoiceRepository,
	inventory domain.InventoryRepository,
	tickets domain.TicketRepository,
	options ...Option,
) *Server {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	s := &Server{
		engine:       engine,
		stateMachine: stateMachine,
		invoices:     invoices,
		inventory:    inventory,
		tickets:      tickets,
		gateway:      opts.Gateway,
		hub:          opts.Hub,
		availability: opts.Availability,
		idempotency:  opts.Idempotency,
		logger:       logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	s.router = router

	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/reservations", s.createReservation)
		api.GET("/payments/:id", s.getPayment)
		api.POST("/payments/:id/cancel", s.cancelPayment)
		api.GET("/payments/:id/events", s.streamPaymentEvents)
		api.GET("/shows/:id/availability", s.showAvailability)
		api.POST("/ticket-classes", s.createTicketClass)
	}
}

// Handler возвращает http.Handler для запуска сервера.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run запускает HTTP-сервер и останавливает его при отмене ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("HTTP API слушает %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Warn("http shutdown with error")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
