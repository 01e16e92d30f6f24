package memory

import (
	"sort"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

// ListByInvoice возвращает билеты счёта, отсортированные по ID.
func (s *Store) ListByInvoice(invoiceID string) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Ticket, 0)
	for _, t := range s.tickets {
		if t.InvoiceID == invoiceID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CountByInvoice возвращает количество выпущенных по счёту билетов.
func (s *Store) CountByInvoice(invoiceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.tickets {
		if t.InvoiceID == invoiceID {
			count++
		}
	}
	return count, nil
}
