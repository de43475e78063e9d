package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/photo-credits/internal/apperr"
	"github.com/mmeshcher/photo-credits/internal/metrics"
	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/repository"
)

// consumeBackoff задаёт паузу между повторами условного списания.
const consumeBackoff = 10 * time.Millisecond

var errContention = errors.New("quota updated concurrently")

// Gallery содержит загрузки оплаченного заказа.
type Gallery struct {
	Uploads       []model.Upload `json:"uploads"`
	QuotaLimit    int            `json:"quotaLimit"`
	QuotaConsumed int            `json:"quotaConsumed"`
	Email         string         `json:"email"`
}

// QuotaService списывает единицы оплаченной квоты.
//
// Каждое списание выполняется условным обновлением по прочитанному значению quota_consumed.
// Блокировки не используются: проигравший гонку запрос перечитывает заказ и либо повторяет
// обновление, либо получает ConflictError с актуальным остатком.
type QuotaService struct {
	store  store
	logger *zap.Logger
	opts   Options
}

// NewQuotaService создаёт сервис квот.
func NewQuotaService(repo Repository, logger *zap.Logger, opts Options) *QuotaService {
	opts = opts.withDefaults()
	return &QuotaService{
		store:  store{repo: repo, timeout: opts.StoreTimeout},
		logger: logger,
		opts:   opts,
	}
}

// GetQuotaStatus возвращает лимит, израсходованные и оставшиеся единицы оплаченного заказа.
func (s *QuotaService) GetQuotaStatus(ctx context.Context, ref string) (*model.QuotaStatus, error) {
	if ref == "" {
		return nil, apperr.Validation("order ref is required")
	}

	o, err := s.store.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderStatusPaid {
		return nil, apperr.Locked(string(o.Status))
	}

	return &model.QuotaStatus{
		QuotaLimit:    o.QuotaLimit,
		QuotaConsumed: o.QuotaConsumed,
		Remaining:     o.Remaining(),
		Email:         o.Email,
	}, nil
}

// ListUploads возвращает загрузки оплаченного заказа. Заказ с другим email считается ненайденным.
func (s *QuotaService) ListUploads(ctx context.Context, ref, email string) (*Gallery, error) {
	if ref == "" || email == "" {
		return nil, apperr.Validation("order ref and email are required")
	}

	o, err := s.owned(ctx, ref, email)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderStatusPaid {
		return nil, apperr.Locked(string(o.Status))
	}

	uploads := o.Uploads
	if uploads == nil {
		uploads = []model.Upload{}
	}
	return &Gallery{
		Uploads:       uploads,
		QuotaLimit:    o.QuotaLimit,
		QuotaConsumed: o.QuotaConsumed,
		Email:         o.Email,
	}, nil
}

// CheckAvailable проверяет, что заказ оплачен, принадлежит email и имеет не меньше units единиц.
// Результат не резервирует квоту: окончательную проверку выполняет Consume.
func (s *QuotaService) CheckAvailable(ctx context.Context, ref, email string, units int) (*model.Order, error) {
	if ref == "" {
		return nil, apperr.Validation("order ref is required")
	}
	if units <= 0 {
		return nil, apperr.Validation("at least one item is required")
	}

	o, err := s.owned(ctx, ref, email)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderStatusPaid {
		metrics.RecordConsume("locked", 0)
		return nil, apperr.Locked(string(o.Status))
	}
	if units > o.Remaining() {
		metrics.RecordConsume("exceeded", 0)
		return nil, apperr.QuotaExceeded(o.Remaining())
	}
	return o, nil
}

// Consume списывает len(uploads) единиц квоты и добавляет записи о загрузках.
// Возвращает новое значение quota_consumed.
func (s *QuotaService) Consume(ctx context.Context, ref, email string, units int, uploads []model.Upload) (int, error) {
	if ref == "" {
		return 0, apperr.Validation("order ref is required")
	}
	if units <= 0 || units != len(uploads) {
		return 0, apperr.Validation("requested units must match the number of items")
	}

	var consumed int
	backoff := retry.WithMaxRetries(maxUpdateAttempts-1, retry.NewConstant(consumeBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		o, err := s.owned(ctx, ref, email)
		if err != nil {
			return err
		}
		if o.Status != model.OrderStatusPaid {
			metrics.RecordConsume("locked", 0)
			return apperr.Locked(string(o.Status))
		}
		if units > o.Remaining() {
			metrics.RecordConsume("exceeded", 0)
			s.logger.Info("quota conflict",
				zap.String("order_ref", ref),
				zap.Int("requested", units),
				zap.Int("remaining", o.Remaining()),
			)
			return apperr.QuotaExceeded(o.Remaining())
		}

		now := s.opts.Clock()
		stamped := make([]model.Upload, len(uploads))
		for i, u := range uploads {
			if u.ConsumedAt.IsZero() {
				u.ConsumedAt = now
			}
			stamped[i] = u
		}

		ok, err := s.store.run(ctx, "consume quota", func(ctx context.Context) (bool, error) {
			return s.store.repo.ConsumeQuota(ctx, repository.ConsumeUpdate{
				Ref:              ref,
				ExpectedConsumed: o.QuotaConsumed,
				Uploads:          stamped,
				At:               now,
			})
		})
		if err != nil {
			return err
		}
		if !ok {
			metrics.RecordConsume("contention", 0)
			return retry.RetryableError(errContention)
		}

		consumed = o.QuotaConsumed + units
		return nil
	})
	if err != nil {
		if errors.Is(err, errContention) {
			return 0, s.contended(ctx, ref)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, apperr.Internal("consume quota", err)
		}
		return 0, err
	}

	metrics.RecordConsume("ok", units)
	s.logger.Info("quota consumed",
		zap.String("order_ref", ref),
		zap.Int("units", units),
		zap.Int("quota_consumed", consumed),
	)
	return consumed, nil
}

// contended формирует конфликт после исчерпания повторов с актуальным остатком квоты.
func (s *QuotaService) contended(ctx context.Context, ref string) error {
	o, err := s.store.get(ctx, ref)
	if err != nil {
		return err
	}
	return &apperr.ConflictError{
		Msg:          "quota is being updated concurrently",
		Remaining:    o.Remaining(),
		HasRemaining: true,
	}
}

func (s *QuotaService) owned(ctx context.Context, ref, email string) (*model.Order, error) {
	o, err := s.store.get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if email != "" && o.Email != email {
		return nil, apperr.NotFound("order")
	}
	return o, nil
}
