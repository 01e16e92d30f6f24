package notify

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

const subscriberBuffer = 8

// Hub — in-process шина уведомлений о переходах статуса платежа.
// Доставка at-most-once: медленный подписчик теряет уведомления,
// авторитетное состояние всегда доступно через Get счёта.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan domain.PaymentNotification]struct{}
	logger      *log.Entry
}

// NewHub создаёт пустую шину уведомлений.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan domain.PaymentNotification]struct{}),
		logger:      log.WithField("component", "notify-hub"),
	}
}

// Subscribe подписывает наблюдателя на уведомления платежа.
// Возвращённая функция снимает подписку и закрывает канал.
func (h *Hub) Subscribe(paymentID string) (<-chan domain.PaymentNotification, func()) {
	ch := make(chan domain.PaymentNotification, subscriberBuffer)

	h.mu.Lock()
	if h.subscribers[paymentID] == nil {
		h.subscribers[paymentID] = make(map[chan domain.PaymentNotification]struct{})
	}
	h.subscribers[paymentID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers[paymentID], ch)
			if len(h.subscribers[paymentID]) == 0 {
				delete(h.subscribers, paymentID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Notify рассылает уведомление всем подписчикам платежа.
// Если буфер подписчика полон, уведомление для него отбрасывается.
func (h *Hub) Notify(paymentID string, n domain.PaymentNotification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[paymentID] {
		select {
		case ch <- n:
		default:
			h.logger.WithField("payment_id", paymentID).Debug("subscriber buffer full, notification dropped")
		}
	}
}

var _ domain.Notifier = (*Hub)(nil)
