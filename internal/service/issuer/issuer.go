package issuer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/tms/internal/metrics"
)

// Issuer выпускает билеты по оплаченному счёту.
// Выпуск идемпотентен: повторный вызов для счёта с уже созданными билетами
// ничего не меняет.
type Issuer struct {
	inventory domain.InventoryRepository
	tickets   domain.TicketRepository
	outbox    domain.OutboxRepository
	logger    *log.Entry
	metrics   *metrics.BookingMetrics
}

// NewIssuer создаёт эмитента билетов.
func NewIssuer(
	inventory domain.InventoryRepository,
	tickets domain.TicketRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
	m *metrics.BookingMetrics,
) *Issuer {
	if logger == nil {
		logger = log.WithField("component", "ticket-issuer")
	}
	return &Issuer{
		inventory: inventory,
		tickets:   tickets,
		outbox:    outbox,
		logger:    logger,
		metrics:   m,
	}
}

// Issue атомарно создаёт билеты и переводит единицы резерва в проданные.
// Возвращает список билетов счёта, включая ранее выпущенные.
func (i *Issuer) Issue(invoice domain.Invoice) ([]domain.Ticket, error) {
	now := time.Now().UTC()

	tickets := make([]domain.Ticket, 0, invoice.TotalUnits())
	for classID, qty := range invoice.Details {
		for n := int32(0); n < qty; n++ {
			tickets = append(tickets, domain.Ticket{
				ID:            uuid.NewString(),
				TicketClassID: classID,
				InvoiceID:     invoice.ID,
				BuyerID:       invoice.BuyerID,
				CreatedAt:     now,
			})
		}
	}

	inserted, err := i.inventory.IssueTickets(invoice, tickets)
	if err != nil {
		return nil, fmt.Errorf("issue tickets for payment %s: %w", invoice.ID, err)
	}

	issued, err := i.tickets.ListByInvoice(invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("list issued tickets for payment %s: %w", invoice.ID, err)
	}

	// Повторный вызов возвращает ранее выпущенные билеты без побочных
	// эффектов: ни метрик, ни нового outbox-события.
	if !inserted {
		return issued, nil
	}

	if i.metrics != nil {
		i.metrics.RecordTicketsIssued(len(issued))
	}
	i.emitTicketsIssued(invoice, len(issued))

	i.logger.WithFields(log.Fields{
		"payment_id": invoice.ID,
		"tickets":    len(issued),
	}).Info("tickets issued")

	return issued, nil
}

func (i *Issuer) emitTicketsIssued(invoice domain.Invoice, count int) {
	if i.outbox == nil {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"payment_id": invoice.ID,
		"show_id":    invoice.ShowID,
		"tickets":    count,
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		i.logger.WithError(err).WithField("payment_id", invoice.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   invoice.ID,
		EventType:     string(kafka.EventTypeTicketIssued),
		Payload:       payload,
	}
	if _, err := i.outbox.Enqueue(msg); err != nil {
		i.logger.WithError(err).WithField("payment_id", invoice.ID).Error("enqueue event failed")
	} else if i.metrics != nil {
		i.metrics.RecordOutboxEvent()
	}
}
