// Package repository содержит хранилища заказов: PostgreSQL и in-memory.
package repository

import (
	"errors"
	"time"

	"github.com/mmeshcher/photo-credits/internal/model"
)

var (
	// ErrOrderExists возвращается при попытке создать заказ с уже занятым идентификатором.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
)

// AttemptUpdate описывает условную запись попытки оплаты.
// Запись применяется, только если статус и идентификатор платежа заказа всё ещё равны From*.
type AttemptUpdate struct {
	Ref            string
	FromStatus     model.OrderStatus
	FromPaymentRef string
	PaymentRef     string
	Signature      string
	At             time.Time
}

// FinalizeUpdate описывает условное завершение попытки оплаты.
// Запись применяется, только если заказ находится в статусе attempted с тем же PaymentRef.
type FinalizeUpdate struct {
	Ref        string
	PaymentRef string
	Outcome    model.OrderStatus
	At         time.Time
}

// ConsumeUpdate описывает условное списание квоты.
// Запись применяется, только если заказ оплачен, quota_consumed равен ExpectedConsumed
// и после списания не превысит quota_limit.
type ConsumeUpdate struct {
	Ref              string
	ExpectedConsumed int
	Uploads          []model.Upload
	At               time.Time
}
