package bank

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

// MockGateway — конфигурируемый шлюз для локальной разработки и тестов.
// Транзакции регистрируются вручную, недоступность переключается флагом.
type MockGateway struct {
	mu           sync.RWMutex
	transactions map[string]domain.GatewayTransaction
	unavailable  bool
	account      domain.BankAccount
}

// NewMockGateway создаёт пустой mock-шлюз.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		transactions: make(map[string]domain.GatewayTransaction),
		account: domain.BankAccount{
			AccountNumber: "0000-0000-0000",
			BankName:      "Sandbox Bank",
		},
	}
}

// RegisterPayment добавляет оплату в выписку mock-шлюза.
func (g *MockGateway) RegisterPayment(reference string, amountMinor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transactions[reference] = domain.GatewayTransaction{
		Reference:   reference,
		AmountMinor: amountMinor,
		ExternalID:  "mock-" + reference,
		PaidAt:      time.Now().UTC(),
	}
}

// SetUnavailable переключает имитацию недоступности шлюза.
func (g *MockGateway) SetUnavailable(unavailable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unavailable = unavailable
}

// FindTransaction ищет зарегистрированную оплату с точным совпадением суммы.
func (g *MockGateway) FindTransaction(_ context.Context, reference string, amountMinor int64) (domain.GatewayTransaction, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.unavailable {
		return domain.GatewayTransaction{}, false, domain.ErrGatewayUnavailable
	}

	tx, ok := g.transactions[reference]
	if !ok || tx.AmountMinor != amountMinor {
		return domain.GatewayTransaction{}, false, nil
	}
	return tx, true, nil
}

// AccountDetails возвращает реквизиты mock-шлюза.
func (g *MockGateway) AccountDetails() domain.BankAccount {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.account
}

var _ domain.SettlementGateway = (*MockGateway)(nil)
