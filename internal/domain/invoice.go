package domain

import "time"

// InvoiceStatus описывает состояние платежа по счёту.
type InvoiceStatus string

const (
	// InvoiceStatusWaitingPayment — счёт создан, резерв удерживается до оплаты или истечения.
	InvoiceStatusWaitingPayment InvoiceStatus = "waiting_payment"
	// InvoiceStatusPaymentSuccess — оплата подтверждена шлюзом; терминальный статус.
	InvoiceStatusPaymentSuccess InvoiceStatus = "payment_success"
	// InvoiceStatusPaymentFailed — шлюз отклонил платёж; терминальный статус.
	InvoiceStatusPaymentFailed InvoiceStatus = "payment_failed"
	// InvoiceStatusPaymentExpired — окно удержания истекло без оплаты; терминальный статус.
	InvoiceStatusPaymentExpired InvoiceStatus = "payment_expired"
	// InvoiceStatusPaymentCancelled — покупатель отменил бронирование; терминальный статус.
	InvoiceStatusPaymentCancelled InvoiceStatus = "payment_cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusWaitingPayment, InvoiceStatusPaymentSuccess, InvoiceStatusPaymentFailed,
		InvoiceStatusPaymentExpired, InvoiceStatusPaymentCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, является ли статус терминальным.
// Из терминального статуса переходы запрещены.
func (s InvoiceStatus) IsTerminal() bool {
	return s != InvoiceStatusWaitingPayment && s.Valid()
}

// CanTransitionTo проверяет допустимость перехода в целевой статус.
// Разрешён ровно один терминальный переход из waiting_payment.
func (s InvoiceStatus) CanTransitionTo(target InvoiceStatus) bool {
	if s != InvoiceStatusWaitingPayment {
		return false
	}
	return target.IsTerminal()
}

// Invoice — долговременная запись одной попытки бронирования и её платёжного исхода.
// Счета никогда не удаляются физически: это аудиторский след.
type Invoice struct {
	ID          string
	ShowID      string
	BuyerID     string // Пустая строка, пока покупатель не подтверждён.
	AmountMinor int64
	Reference   string // Платёжный референс для сверки с выпиской шлюза.
	Status      InvoiceStatus
	// Details — карта ticket_class_id -> зарезервированное количество.
	// Неизменяема после создания счёта.
	Details   map[string]int32
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired сообщает, истекло ли окно удержания резерва.
func (inv *Invoice) IsExpired(now time.Time) bool {
	return !inv.ExpiresAt.IsZero() && now.After(inv.ExpiresAt)
}

// TotalUnits возвращает суммарное количество зарезервированных единиц.
func (inv *Invoice) TotalUnits() int32 {
	var total int32
	for _, qty := range inv.Details {
		total += qty
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты счёта.
func (inv *Invoice) ValidateInvariants() []error {
	var errs []error

	if inv.ShowID == "" {
		errs = append(errs, ErrShowIDRequired)
	}
	if inv.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if inv.Reference == "" {
		errs = append(errs, ErrReferenceRequired)
	}
	if len(inv.Details) == 0 {
		errs = append(errs, ErrDetailsRequired)
	}
	for _, qty := range inv.Details {
		if qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
			break
		}
	}

	return errs
}

// PaymentNotification — уведомление о применённом переходе статуса платежа.
// Доставка at-most-once: авторитетное состояние живёт в Invoice, а не в уведомлении.
type PaymentNotification struct {
	PaymentID string        `json:"payment_id"`
	Status    InvoiceStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}
