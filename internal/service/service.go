// Package service реализует жизненный цикл заказов и списание оплаченной квоты.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/photo-credits/internal/apperr"
	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/repository"
)

// DefaultStoreTimeout ограничивает одно обращение к хранилищу.
const DefaultStoreTimeout = 5 * time.Second

// maxUpdateAttempts ограничивает число повторов условного обновления при гонке.
const maxUpdateAttempts = 5

// Repository описывает контракт хранилища заказов, используемый сервисами.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, ref string) (*model.Order, error)
	ListOrdersByEmail(ctx context.Context, email string) ([]model.Order, error)
	SaveAttempt(ctx context.Context, u repository.AttemptUpdate) (bool, error)
	FinalizeAttempt(ctx context.Context, u repository.FinalizeUpdate) (bool, error)
	ConsumeQuota(ctx context.Context, u repository.ConsumeUpdate) (bool, error)
}

// Options содержит необязательные параметры сервисов.
type Options struct {
	// StoreTimeout ограничивает каждое обращение к хранилищу. По умолчанию DefaultStoreTimeout.
	StoreTimeout time.Duration
	// Clock возвращает текущее время. По умолчанию time.Now в UTC.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// store оборачивает Repository тайм-аутом и переводом ошибок в классы apperr.
type store struct {
	repo    Repository
	timeout time.Duration
}

func (s store) get(ctx context.Context, ref string) (*model.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	o, err := s.repo.GetOrder(ctx, ref)
	if err != nil {
		return nil, translate("get order", err)
	}
	return o, nil
}

func (s store) run(ctx context.Context, op string, fn func(ctx context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := fn(ctx)
	if err != nil {
		return false, translate(op, err)
	}
	return ok, nil
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		return apperr.NotFound("order")
	case errors.Is(err, repository.ErrOrderExists):
		return apperr.Conflict("order already exists")
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Internal(op, errors.New("store timeout"))
	default:
		return apperr.Internal(op, err)
	}
}
