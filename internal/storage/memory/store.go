package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/tms/internal/domain"
)

// Store — in-memory хранилище инвентаря, счетов и билетов для локальной
// разработки и тестов. Один мьютекс сериализует все мутации, что даёт ту же
// атомарность, которую в PostgreSQL обеспечивают блокировки строк.
type Store struct {
	mu       sync.RWMutex
	classes  map[string]domain.TicketClass
	invoices map[string]domain.Invoice
	tickets  map[string]domain.Ticket
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		classes:  make(map[string]domain.TicketClass),
		invoices: make(map[string]domain.Invoice),
		tickets:  make(map[string]domain.Ticket),
	}
}

func copyDetails(details map[string]int32) map[string]int32 {
	dst := make(map[string]int32, len(details))
	for k, v := range details {
		dst[k] = v
	}
	return dst
}

var (
	_ domain.InventoryRepository = (*Store)(nil)
	_ domain.InvoiceRepository   = (*Store)(nil)
	_ domain.TicketRepository    = (*Store)(nil)
)
