package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

// Get возвращает счёт или ErrInvoiceNotFound.
func (s *Store) Get(id string) (domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	inv.Details = copyDetails(inv.Details)
	return inv, nil
}

// ListExpired возвращает счета в waiting_payment с истёкшим expires_at,
// отсортированные по времени истечения.
func (s *Store) ListExpired(before time.Time, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.Status != domain.InvoiceStatusWaitingPayment {
			continue
		}
		if inv.ExpiresAt.After(before) {
			continue
		}
		inv.Details = copyDetails(inv.Details)
		result = append(result, inv)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListWaiting возвращает счета в waiting_payment, отсортированные по времени создания.
func (s *Store) ListWaiting(limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.Status != domain.InvoiceStatusWaitingPayment {
			continue
		}
		inv.Details = copyDetails(inv.Details)
		result = append(result, inv)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TransitionStatus применяет терминальный переход из waiting_payment.
// Возвращает false без ошибки, если счёт уже в терминальном или идентичном статусе.
func (s *Store) TransitionStatus(id string, to domain.InvoiceStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return false, domain.ErrInvoiceNotFound
	}
	if !inv.Status.CanTransitionTo(to) {
		return false, nil
	}

	inv.Status = to
	inv.UpdatedAt = time.Now().UTC()
	s.invoices[id] = inv
	return true, nil
}
