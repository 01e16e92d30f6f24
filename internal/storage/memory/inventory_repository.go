package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

// CreateTicketClass сохраняет новую категорию, если ID ещё не занят.
func (s *Store) CreateTicketClass(tc domain.TicketClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.classes[tc.ID]; exists {
		return domain.ErrVersionConflict
	}
	s.classes[tc.ID] = tc
	return nil
}

// GetTicketClass возвращает категорию или ErrTicketClassNotFound.
func (s *Store) GetTicketClass(id string) (domain.TicketClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tc, ok := s.classes[id]
	if !ok {
		return domain.TicketClass{}, domain.ErrTicketClassNotFound
	}
	return tc, nil
}

// ListByShow возвращает категории шоу, отсортированные по ID.
func (s *Store) ListByShow(showID string) ([]domain.TicketClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TicketClass, 0)
	for _, tc := range s.classes {
		if tc.ShowID == showID {
			result = append(result, tc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Reserve атомарно проверяет доступность всех позиций, увеличивает Locked
// и сохраняет счёт. При нехватке хотя бы по одной позиции ничего не меняется.
func (s *Store) Reserve(items []domain.ReservationItem, invoice domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[invoice.ID]; exists {
		return domain.ErrVersionConflict
	}

	// Сначала полная проверка, затем мутации: частичный захват недопустим.
	for _, item := range items {
		tc, ok := s.classes[item.TicketClassID]
		if !ok {
			return domain.ErrTicketClassNotFound
		}
		if tc.Capacity-tc.Sold-tc.Locked < item.Quantity {
			return domain.ErrInsufficientInventory
		}
	}

	now := time.Now().UTC()
	for _, item := range items {
		tc := s.classes[item.TicketClassID]
		tc.Locked += item.Quantity
		tc.Version++
		tc.UpdatedAt = now
		s.classes[item.TicketClassID] = tc
	}

	inv := invoice
	inv.Details = copyDetails(invoice.Details)
	s.invoices[invoice.ID] = inv
	return nil
}

// Release уменьшает Locked на указанные количества, не опускаясь ниже нуля.
func (s *Store) Release(details map[string]int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for classID, qty := range details {
		tc, ok := s.classes[classID]
		if !ok {
			// Категория могла быть создана в другом инстансе; пропускаем защитно.
			continue
		}
		tc.Locked -= qty
		if tc.Locked < 0 {
			tc.Locked = 0
		}
		tc.Version++
		tc.UpdatedAt = now
		s.classes[classID] = tc
	}
	return nil
}

// IssueTickets атомарно создаёт билеты и переводит единицы Locked -> Sold.
// Повторный вызов для счёта с уже выпущенными билетами — безопасный no-op,
// о котором сигнализирует false.
func (s *Store) IssueTickets(invoice domain.Invoice, tickets []domain.Ticket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.InvoiceID == invoice.ID {
			return false, nil
		}
	}

	now := time.Now().UTC()
	updated := make(map[string]domain.TicketClass, len(invoice.Details))
	for classID, qty := range invoice.Details {
		tc, ok := s.classes[classID]
		if !ok {
			return false, domain.ErrTicketClassNotFound
		}
		tc.Locked -= qty
		if tc.Locked < 0 {
			tc.Locked = 0
		}
		tc.Sold += qty
		if tc.Locked+tc.Sold > tc.Capacity {
			// Нарушение инварианта обязано прервать всю операцию.
			return false, domain.ErrCapacityExceeded
		}
		tc.Version++
		tc.UpdatedAt = now
		updated[classID] = tc
	}

	for classID, tc := range updated {
		s.classes[classID] = tc
	}
	for _, ticket := range tickets {
		if ticket.CreatedAt.IsZero() {
			ticket.CreatedAt = now
		}
		s.tickets[ticket.ID] = ticket
	}
	return true, nil
}
