package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mmeshcher/photo-credits/internal/model"
)

// MemoryRepository хранит заказы в памяти процесса. Используется при пустом DATABASE_URI и в тестах.
//
// Условные обновления выполняются под мьютексом и повторяют семантику PostgresRepository.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	writes int
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*model.Order)}
}

// Close ничего не освобождает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// Writes возвращает количество применённых изменений.
func (r *MemoryRepository) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

// CreateOrder сохраняет новый заказ.
func (r *MemoryRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.Ref]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, o.Ref)
	}
	r.orders[o.Ref] = o.Clone()
	r.writes++
	return nil
}

// GetOrder возвращает копию заказа.
func (r *MemoryRepository) GetOrder(ctx context.Context, ref string) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[ref]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListOrdersByEmail возвращает заказы покупателя, начиная с самых новых.
func (r *MemoryRepository) ListOrdersByEmail(ctx context.Context, email string) ([]model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Order
	for _, o := range r.orders {
		if o.Email == email {
			res = append(res, *o.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// SaveAttempt записывает ожидающую попытку оплаты.
func (r *MemoryRepository) SaveAttempt(ctx context.Context, u AttemptUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[u.Ref]
	if !ok || o.Status != u.FromStatus || o.PaymentRef != u.FromPaymentRef {
		return false, nil
	}

	o.Status = model.OrderStatusAttempted
	o.PaymentRef = u.PaymentRef
	o.Signature = u.Signature
	o.UpdatedAt = u.At
	r.writes++
	return true, nil
}

// FinalizeAttempt завершает ожидающую попытку оплаты.
func (r *MemoryRepository) FinalizeAttempt(ctx context.Context, u FinalizeUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[u.Ref]
	if !ok || o.Status != model.OrderStatusAttempted || o.PaymentRef != u.PaymentRef {
		return false, nil
	}

	o.Status = u.Outcome
	o.Attempts = append(o.Attempts, model.Attempt{
		PaymentRef:  u.PaymentRef,
		Outcome:     u.Outcome,
		FinalizedAt: u.At,
	})
	o.UpdatedAt = u.At
	r.writes++
	return true, nil
}

// ConsumeQuota списывает квоту, если ожидаемое значение quota_consumed не изменилось.
func (r *MemoryRepository) ConsumeQuota(ctx context.Context, u ConsumeUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[u.Ref]
	if !ok || o.Status != model.OrderStatusPaid || o.QuotaConsumed != u.ExpectedConsumed {
		return false, nil
	}
	if o.QuotaConsumed+len(u.Uploads) > o.QuotaLimit {
		return false, nil
	}

	o.QuotaConsumed += len(u.Uploads)
	o.Uploads = append(o.Uploads, u.Uploads...)
	o.UpdatedAt = u.At
	r.writes++
	return true, nil
}
