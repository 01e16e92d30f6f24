package domain

import "time"

// TicketClass — единица учёта инвентаря: категория билетов шоу
// (например, VIP или Standard) с фиксированной вместимостью.
type TicketClass struct {
	ID         string
	ShowID     string
	Name       string
	PriceMinor int64 // Цена за единицу в минимальных денежных единицах.
	Capacity   int32 // Вместимость; неизменяема после создания.
	Locked     int32 // Зарезервировано, но не оплачено.
	Sold       int32 // Продано; денормализованный счётчик строк tickets.
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Available возвращает количество единиц, доступных для нового резервирования.
// Locked всегда вычитается из отображаемого остатка.
func (tc *TicketClass) Available() int32 {
	available := tc.Capacity - tc.Sold - tc.Locked
	if available < 0 {
		return 0
	}
	return available
}

// ValidateInvariants проверяет базовые инварианты категории и возвращает список замечаний.
// Ключевой инвариант: Locked + Sold <= Capacity в любой наблюдаемый момент.
func (tc *TicketClass) ValidateInvariants() []error {
	var errs []error

	if tc.ShowID == "" {
		errs = append(errs, ErrShowIDRequired)
	}
	if tc.Name == "" {
		errs = append(errs, ErrTicketClassNameRequired)
	}
	if tc.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if tc.Capacity < 0 {
		errs = append(errs, ErrCapacityNegative)
	}
	if tc.Locked < 0 || tc.Sold < 0 {
		errs = append(errs, ErrCountsNegative)
	}
	if tc.Locked+tc.Sold > tc.Capacity {
		errs = append(errs, ErrCapacityExceeded)
	}

	return errs
}

// ReservationItem — одна позиция запроса на резервирование.
type ReservationItem struct {
	TicketClassID string
	Quantity      int32
}

// Validate проверяет корректность позиции.
func (i *ReservationItem) Validate() []error {
	var errs []error

	if i.TicketClassID == "" {
		errs = append(errs, ErrItemClassRequired)
	}
	if i.Quantity <= 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}

	return errs
}
