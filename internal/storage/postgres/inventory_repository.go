package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
// Все мутации идут через блокировку строк SELECT ... FOR UPDATE, строки
// блокируются в каноническом порядке (по возрастанию id), чтобы исключить
// deadlock между конкурентными бронированиями.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB()}
}

func (r *inventoryRepository) CreateTicketClass(tc domain.TicketClass) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticket_classes (
			id, show_id, name, price_minor, capacity, locked, sold,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		tc.ID, tc.ShowID, tc.Name, tc.PriceMinor, tc.Capacity, tc.Locked, tc.Sold,
		tc.Version, tc.CreatedAt, tc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert ticket class: %w", err)
	}

	return nil
}

func (r *inventoryRepository) GetTicketClass(id string) (domain.TicketClass, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var tc domain.TicketClass
	err := r.db.QueryRowContext(ctx, `
		SELECT id, show_id, name, price_minor, capacity, locked, sold, version, created_at, updated_at
		FROM ticket_classes
		WHERE id = $1
	`, id).Scan(
		&tc.ID, &tc.ShowID, &tc.Name, &tc.PriceMinor, &tc.Capacity, &tc.Locked, &tc.Sold,
		&tc.Version, &tc.CreatedAt, &tc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TicketClass{}, domain.ErrTicketClassNotFound
		}
		return domain.TicketClass{}, fmt.Errorf("select ticket class: %w", err)
	}

	return tc, nil
}

func (r *inventoryRepository) ListByShow(showID string) ([]domain.TicketClass, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, show_id, name, price_minor, capacity, locked, sold, version, created_at, updated_at
		FROM ticket_classes
		WHERE show_id = $1
		ORDER BY id ASC
	`, showID)
	if err != nil {
		return nil, fmt.Errorf("list ticket classes: %w", err)
	}
	defer rows.Close()

	classes := make([]domain.TicketClass, 0)
	for rows.Next() {
		var tc domain.TicketClass
		if err := rows.Scan(
			&tc.ID, &tc.ShowID, &tc.Name, &tc.PriceMinor, &tc.Capacity, &tc.Locked, &tc.Sold,
			&tc.Version, &tc.CreatedAt, &tc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ticket class row: %w", err)
		}
		classes = append(classes, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket class rows: %w", err)
	}

	return classes, nil
}

func (r *inventoryRepository) Reserve(items []domain.ReservationItem, invoice domain.Invoice) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	sorted := make([]domain.ReservationItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TicketClassID < sorted[j].TicketClassID })

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	// Первый проход: блокируем строки и проверяем доступность всех позиций.
	// Счётчики не трогаем, пока хотя бы одна позиция может не пройти проверку.
	for _, item := range sorted {
		var capacity, locked, sold int32
		err = tx.QueryRowContext(ctx, `
			SELECT capacity, locked, sold
			FROM ticket_classes
			WHERE id = $1
			FOR UPDATE
		`, item.TicketClassID).Scan(&capacity, &locked, &sold)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = domain.ErrTicketClassNotFound
				return err
			}
			if isTransient(err) {
				err = domain.ErrVersionConflict
				return err
			}
			err = fmt.Errorf("lock ticket class %s: %w", item.TicketClassID, err)
			return err
		}

		if capacity-sold-locked < item.Quantity {
			err = domain.ErrInsufficientInventory
			return err
		}
	}

	for _, item := range sorted {
		if _, err = tx.ExecContext(ctx, `
			UPDATE ticket_classes
			SET locked = locked + $2,
			    version = version + 1,
			    updated_at = $3
			WHERE id = $1
		`, item.TicketClassID, item.Quantity, now); err != nil {
			if isCheckViolation(err) {
				err = domain.ErrCapacityExceeded
				return err
			}
			err = fmt.Errorf("lock inventory for %s: %w", item.TicketClassID, err)
			return err
		}
	}

	var details []byte
	details, err = json.Marshal(invoice.Details)
	if err != nil {
		err = fmt.Errorf("marshal invoice details: %w", err)
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, show_id, buyer_id, amount_minor, reference, status,
			details, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		invoice.ID, invoice.ShowID, invoice.BuyerID, invoice.AmountMinor,
		invoice.Reference, string(invoice.Status), details,
		invoice.ExpiresAt, invoice.CreatedAt, invoice.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrVersionConflict
			return err
		}
		err = fmt.Errorf("insert invoice: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		if isTransient(err) {
			err = domain.ErrVersionConflict
			return err
		}
		return fmt.Errorf("commit reserve: %w", err)
	}

	return nil
}

func (r *inventoryRepository) Release(details map[string]int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ids := make([]string, 0, len(details))
	for id := range details {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	for _, id := range ids {
		// GREATEST защищает от двойного снятия: повторный release не уводит
		// locked в минус.
		if _, err = tx.ExecContext(ctx, `
			UPDATE ticket_classes
			SET locked = GREATEST(locked - $2, 0),
			    version = version + 1,
			    updated_at = $3
			WHERE id = $1
		`, id, details[id], now); err != nil {
			err = fmt.Errorf("release inventory for %s: %w", id, err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		if isTransient(err) {
			err = domain.ErrVersionConflict
			return err
		}
		return fmt.Errorf("commit release: %w", err)
	}

	return nil
}

func (r *inventoryRepository) IssueTickets(invoice domain.Invoice, tickets []domain.Ticket) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE invoice_id = $1
	`, invoice.ID).Scan(&existing)
	if err != nil {
		err = fmt.Errorf("count issued tickets: %w", err)
		return false, err
	}
	if existing > 0 {
		// Билеты по счёту уже выпущены, повторный вызов ничего не меняет.
		_ = tx.Rollback()
		return false, nil
	}

	for _, ticket := range tickets {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO tickets (
				id, ticket_class_id, invoice_id, buyer_id, checked_in_at, created_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			ticket.ID, ticket.TicketClassID, ticket.InvoiceID, ticket.BuyerID,
			ticket.CheckedInAt, ticket.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				err = domain.ErrVersionConflict
				return false, err
			}
			err = fmt.Errorf("insert ticket: %w", err)
			return false, err
		}
	}

	ids := make([]string, 0, len(invoice.Details))
	for id := range invoice.Details {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now().UTC()

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `
			UPDATE ticket_classes
			SET locked = GREATEST(locked - $2, 0),
			    sold = sold + $2,
			    version = version + 1,
			    updated_at = $3
			WHERE id = $1
		`, id, invoice.Details[id], now); err != nil {
			if isCheckViolation(err) {
				err = domain.ErrCapacityExceeded
				return false, err
			}
			err = fmt.Errorf("move locked to sold for %s: %w", id, err)
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		if isTransient(err) {
			err = domain.ErrVersionConflict
			return false, err
		}
		return false, fmt.Errorf("commit issue tickets: %w", err)
	}

	return true, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
