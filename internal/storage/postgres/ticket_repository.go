package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

type ticketRepository struct {
	db *sql.DB
}

// NewTicketRepository создаёт PostgreSQL-реализацию TicketRepository.
func NewTicketRepository(store *Store) domain.TicketRepository {
	return &ticketRepository{db: store.DB()}
}

func (r *ticketRepository) ListByInvoice(invoiceID string) ([]domain.Ticket, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_class_id, invoice_id, buyer_id, checked_in_at, created_at
		FROM tickets
		WHERE invoice_id = $1
		ORDER BY id ASC
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0)
	for rows.Next() {
		var (
			ticket  domain.Ticket
			buyerID sql.NullString
			checked sql.NullTime
		)
		if err := rows.Scan(
			&ticket.ID, &ticket.TicketClassID, &ticket.InvoiceID,
			&buyerID, &checked, &ticket.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		if buyerID.Valid {
			ticket.BuyerID = buyerID.String
		}
		if checked.Valid {
			t := checked.Time
			ticket.CheckedInAt = &t
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket rows: %w", err)
	}

	return tickets, nil
}

func (r *ticketRepository) CountByInvoice(invoiceID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE invoice_id = $1
	`, invoiceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}

	return count, nil
}

var _ domain.TicketRepository = (*ticketRepository)(nil)
