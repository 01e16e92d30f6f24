package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

// timelineRepositoryInMemory хранит события платежей в памяти (для разработки/тестов).
type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{events: make(map[string][]domain.TimelineEvent)}
}

// Append добавляет событие перехода в хранилище.
func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[event.PaymentID] = append(r.events[event.PaymentID], event)

	sort.Slice(r.events[event.PaymentID], func(i, j int) bool {
		return r.events[event.PaymentID][i].Occurred.Before(r.events[event.PaymentID][j].Occurred)
	})

	return nil
}

// List возвращает события платежа в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(paymentID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[paymentID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
