package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

type invoiceRepository struct {
	db *sql.DB
}

// NewInvoiceRepository создаёт PostgreSQL-реализацию InvoiceRepository.
func NewInvoiceRepository(store *Store) domain.InvoiceRepository {
	return &invoiceRepository{db: store.DB()}
}

func (r *invoiceRepository) Get(id string) (domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return scanInvoice(r.db.QueryRowContext(ctx, `
		SELECT id, show_id, buyer_id, amount_minor, reference, status,
		       details, expires_at, created_at, updated_at
		FROM invoices
		WHERE id = $1
	`, id))
}

func (r *invoiceRepository) ListExpired(before time.Time, limit int) ([]domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, show_id, buyer_id, amount_minor, reference, status,
		       details, expires_at, created_at, updated_at
		FROM invoices
		WHERE status = $1
		  AND expires_at <= $2
		ORDER BY expires_at ASC, id ASC
		LIMIT $3
	`, string(domain.InvoiceStatusWaitingPayment), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice rows: %w", err)
	}

	return invoices, nil
}

func (r *invoiceRepository) ListWaiting(limit int) ([]domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, show_id, buyer_id, amount_minor, reference, status,
		       details, expires_at, created_at, updated_at
		FROM invoices
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, string(domain.InvoiceStatusWaitingPayment), limit)
	if err != nil {
		return nil, fmt.Errorf("list waiting invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice rows: %w", err)
	}

	return invoices, nil
}

func (r *invoiceRepository) TransitionStatus(id string, to domain.InvoiceStatus) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// CAS по статусу: переход применяется только из waiting_payment.
	// Конкурирующий терминальный переход проигрывает молча (false, nil).
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
	`, id, string(to), time.Now().UTC(), string(domain.InvoiceStatusWaitingPayment))
	if err != nil {
		if isTransient(err) {
			return false, domain.ErrVersionConflict
		}
		return false, fmt.Errorf("transition invoice status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists string
	err = r.db.QueryRowContext(ctx, `SELECT id FROM invoices WHERE id = $1`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrInvoiceNotFound
		}
		return false, fmt.Errorf("check invoice exists: %w", err)
	}

	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var (
		invoice domain.Invoice
		status  string
		buyerID sql.NullString
		details []byte
	)

	err := row.Scan(
		&invoice.ID, &invoice.ShowID, &buyerID, &invoice.AmountMinor,
		&invoice.Reference, &status, &details,
		&invoice.ExpiresAt, &invoice.CreatedAt, &invoice.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invoice{}, domain.ErrInvoiceNotFound
		}
		return domain.Invoice{}, fmt.Errorf("scan invoice: %w", err)
	}

	invoice.Status = domain.InvoiceStatus(status)
	if buyerID.Valid {
		invoice.BuyerID = buyerID.String
	}
	if err := json.Unmarshal(details, &invoice.Details); err != nil {
		return domain.Invoice{}, fmt.Errorf("unmarshal invoice details: %w", err)
	}

	return invoice, nil
}

var _ domain.InvoiceRepository = (*invoiceRepository)(nil)
