// Package model содержит доменные сущности сервиса фотокредитов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает стадию жизненного цикла заказа.
//
// Набор значений закрыт: неизвестная строка из хранилища отвергается ParseOrderStatus,
// а переходы проверяются через CanTransition.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusAttempted OrderStatus = "attempted"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
)

// ParseOrderStatus преобразует строку из хранилища в OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderStatusCreated, OrderStatusAttempted, OrderStatusPaid, OrderStatusFailed:
		return OrderStatus(s), true
	default:
		return "", false
	}
}

// Terminal сообщает, завершён ли заказ.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed:
		return true
	case OrderStatusCreated, OrderStatusAttempted:
		return false
	default:
		return false
	}
}

// CanTransition сообщает, допустим ли переход from -> to.
//
// failed -> attempted разрешён только для новой попытки оплаты с другим идентификатором платежа,
// это проверяет сервис заказов. attempted -> attempted означает перезапись ожидающей попытки.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusCreated:
		return to == OrderStatusAttempted
	case OrderStatusAttempted:
		return to == OrderStatusAttempted || to == OrderStatusPaid || to == OrderStatusFailed
	case OrderStatusFailed:
		return to == OrderStatusAttempted
	case OrderStatusPaid:
		return false
	default:
		return false
	}
}

// Upload описывает один загруженный или сгенерированный файл, списанный с квоты заказа.
type Upload struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	MediaType   string    `json:"mediaType"`
	StoragePath string    `json:"storagePath"`
	ConsumedAt  time.Time `json:"consumedAt"`
}

// Attempt фиксирует результат одной завершённой попытки оплаты.
type Attempt struct {
	PaymentRef  string      `json:"paymentRef"`
	Outcome     OrderStatus `json:"outcome"`
	FinalizedAt time.Time   `json:"finalizedAt"`
}

// Order описывает заказ на покупку кредитов и состояние их расходования.
type Order struct {
	Ref           string
	Amount        decimal.Decimal
	Currency      string
	Status        OrderStatus
	PaymentRef    string
	Signature     string
	Email         string
	PackageID     string
	QuotaLimit    int
	QuotaConsumed int
	Uploads       []Upload
	Attempts      []Attempt
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining возвращает количество ещё не использованных единиц квоты.
func (o *Order) Remaining() int {
	r := o.QuotaLimit - o.QuotaConsumed
	if r < 0 {
		return 0
	}
	return r
}

// FailedAttempt сообщает, была ли попытка с указанным идентификатором платежа уже отклонена.
func (o *Order) FailedAttempt(paymentRef string) bool {
	for _, a := range o.Attempts {
		if a.PaymentRef == paymentRef && a.Outcome == OrderStatusFailed {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию заказа.
func (o *Order) Clone() *Order {
	c := *o
	if o.Uploads != nil {
		c.Uploads = append([]Upload(nil), o.Uploads...)
	}
	if o.Attempts != nil {
		c.Attempts = append([]Attempt(nil), o.Attempts...)
	}
	return &c
}

// QuotaStatus содержит сведения о квоте оплаченного заказа.
type QuotaStatus struct {
	QuotaLimit    int    `json:"quotaLimit"`
	QuotaConsumed int    `json:"quotaConsumed"`
	Remaining     int    `json:"remaining"`
	Email         string `json:"email"`
}

// Package описывает пакет кредитов из каталога.
type Package struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Units       int             `json:"units"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
}
