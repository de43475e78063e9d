package service

import (
	"context"
	"crypto/hmac"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/photo-credits/internal/apperr"
	"github.com/mmeshcher/photo-credits/internal/metrics"
	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/repository"
	"github.com/mmeshcher/photo-credits/internal/validation"
)

// DefaultCurrency используется, если валюта заказа не указана.
const DefaultCurrency = "INR"

// Verifier проверяет подпись подтверждения оплаты.
type Verifier interface {
	Verify(orderRef, paymentRef, signature string) bool
}

// OrderCreator создаёт заказ на стороне платёжного шлюза и возвращает его идентификатор.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error)
}

// CreateOrderRequest содержит параметры нового заказа.
type CreateOrderRequest struct {
	Amount     decimal.Decimal
	Currency   string
	Email      string
	QuotaLimit int
	PackageID  string
}

// OrderService управляет жизненным циклом заказа: created -> attempted -> paid|failed.
type OrderService struct {
	store    store
	verifier Verifier
	gateway  OrderCreator
	logger   *zap.Logger
	opts     Options
}

// NewOrderService создаёт сервис заказов. gateway может быть nil: тогда идентификаторы
// заказов генерируются локально.
func NewOrderService(repo Repository, verifier Verifier, gateway OrderCreator, logger *zap.Logger, opts Options) *OrderService {
	opts = opts.withDefaults()
	return &OrderService{
		store:    store{repo: repo, timeout: opts.StoreTimeout},
		verifier: verifier,
		gateway:  gateway,
		logger:   logger,
		opts:     opts,
	}
}

// CreateOrder проверяет параметры и сохраняет заказ в статусе created.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("amount is required and must be greater than 0")
	}
	if req.QuotaLimit < 0 {
		return nil, apperr.Validation("quota limit must not be negative")
	}
	if !validation.IsValidEmail(req.Email) {
		return nil, apperr.Validation("email is required")
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	if !validation.IsValidCurrency(currency) {
		return nil, apperr.Validation("currency must be a 3-letter code")
	}

	limit := req.QuotaLimit
	if req.PackageID != "" {
		pkg, ok := FindPackage(req.PackageID)
		if !ok || !pkg.Price.Equal(req.Amount) {
			return nil, apperr.Validation("invalid package selection or amount")
		}
		if limit == 0 {
			limit = pkg.Units
		}
		if limit != pkg.Units {
			return nil, apperr.Validation("quota limit does not match package")
		}
	}

	ref, err := s.newRef(ctx, req.Amount, currency)
	if err != nil {
		return nil, err
	}

	now := s.opts.Clock()
	o := &model.Order{
		Ref:        ref,
		Amount:     req.Amount,
		Currency:   currency,
		Status:     model.OrderStatusCreated,
		Email:      req.Email,
		PackageID:  req.PackageID,
		QuotaLimit: limit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err = s.store.run(ctx, "create order", func(ctx context.Context) (bool, error) {
		return true, s.store.repo.CreateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordOrderCreated()
	s.logger.Info("order created",
		zap.String("order_ref", o.Ref),
		zap.String("amount", o.Amount.String()),
		zap.String("currency", o.Currency),
		zap.Int("quota_limit", o.QuotaLimit),
	)
	return o, nil
}

func (s *OrderService) newRef(ctx context.Context, amount decimal.Decimal, currency string) (string, error) {
	if s.gateway == nil {
		return "order_" + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
	}

	receipt := fmt.Sprintf("receipt_%d", s.opts.Clock().UnixNano())
	ref, err := s.gateway.CreateOrder(ctx, amount.Shift(2).Round(0).IntPart(), currency, receipt)
	if err != nil {
		return "", apperr.Internal("create gateway order", err)
	}
	if ref == "" {
		return "", apperr.Internal("create gateway order", fmt.Errorf("empty order id"))
	}
	return ref, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *OrderService) GetOrder(ctx context.Context, ref string) (*model.Order, error) {
	if ref == "" {
		return nil, apperr.Validation("order ref is required")
	}
	return s.store.get(ctx, ref)
}

// ListOrders возвращает историю заказов покупателя.
func (s *OrderService) ListOrders(ctx context.Context, email string) ([]model.Order, error) {
	if email == "" {
		return nil, apperr.Validation("email is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.store.timeout)
	defer cancel()

	orders, err := s.store.repo.ListOrdersByEmail(ctx, email)
	if err != nil {
		return nil, translate("list orders", err)
	}
	return orders, nil
}

// RecordAttempt сохраняет данные попытки оплаты и переводит заказ в attempted.
//
// Повтор с тем же paymentRef до завершения перезаписывает ожидающую попытку. Для оплаченного
// заказа с тем же paymentRef и той же подписью возвращается существующая запись без изменений,
// другая подпись отклоняется без записи. После failed
// разрешена новая попытка с другим paymentRef; уже отклонённый paymentRef не принимается.
func (s *OrderService) RecordAttempt(ctx context.Context, ref, paymentRef, signature string) (*model.Order, error) {
	if ref == "" || paymentRef == "" || signature == "" {
		return nil, apperr.Validation("missing payment details")
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		o, err := s.store.get(ctx, ref)
		if err != nil {
			return nil, err
		}

		switch o.Status {
		case model.OrderStatusPaid:
			if o.PaymentRef != paymentRef {
				return nil, &apperr.ConflictError{Msg: "order already paid", Status: string(o.Status)}
			}
			if !sameSignature(o.Signature, signature) {
				s.logger.Warn("paid order replayed with a different signature",
					zap.String("order_ref", ref),
					zap.Int("signature_len", len(signature)),
				)
				return nil, apperr.Signature("invalid payment signature")
			}
			return o, nil
		case model.OrderStatusAttempted:
			if o.PaymentRef == paymentRef && o.Signature == signature {
				return o, nil
			}
		case model.OrderStatusCreated, model.OrderStatusFailed:
		}

		if o.FailedAttempt(paymentRef) {
			return nil, apperr.Signature("payment confirmation was already rejected")
		}
		if !model.CanTransition(o.Status, model.OrderStatusAttempted) {
			return nil, &apperr.ConflictError{Msg: "payment attempt not allowed", Status: string(o.Status)}
		}

		now := s.opts.Clock()
		ok, err := s.store.run(ctx, "record attempt", func(ctx context.Context) (bool, error) {
			return s.store.repo.SaveAttempt(ctx, repository.AttemptUpdate{
				Ref:            ref,
				FromStatus:     o.Status,
				FromPaymentRef: o.PaymentRef,
				PaymentRef:     paymentRef,
				Signature:      signature,
				At:             now,
			})
		})
		if err != nil {
			return nil, err
		}
		if ok {
			o.Status = model.OrderStatusAttempted
			o.PaymentRef = paymentRef
			o.Signature = signature
			o.UpdatedAt = now

			s.logger.Info("payment attempt recorded",
				zap.String("order_ref", ref),
				zap.String("payment_ref", paymentRef),
				zap.Int("signature_len", len(signature)),
			)
			return o, nil
		}
	}

	return nil, apperr.Conflict("order is being updated concurrently")
}

// Finalize проверяет подпись ожидающей попытки и переводит заказ в paid или failed.
//
// Завершённый заказ возвращается без повторной проверки и без записи. Если условное
// обновление не применилось, заказ перечитывается и возвращается установившееся состояние.
func (s *OrderService) Finalize(ctx context.Context, ref string) (*model.Order, error) {
	if ref == "" {
		return nil, apperr.Validation("order ref is required")
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		o, err := s.store.get(ctx, ref)
		if err != nil {
			return nil, err
		}

		switch o.Status {
		case model.OrderStatusPaid, model.OrderStatusFailed:
			return o, nil
		case model.OrderStatusCreated:
			return nil, &apperr.ConflictError{Msg: "no payment attempt recorded", Status: string(o.Status)}
		case model.OrderStatusAttempted:
		}

		outcome := model.OrderStatusFailed
		if s.verifier.Verify(o.Ref, o.PaymentRef, o.Signature) {
			outcome = model.OrderStatusPaid
		}

		now := s.opts.Clock()
		ok, err := s.store.run(ctx, "finalize order", func(ctx context.Context) (bool, error) {
			return s.store.repo.FinalizeAttempt(ctx, repository.FinalizeUpdate{
				Ref:        ref,
				PaymentRef: o.PaymentRef,
				Outcome:    outcome,
				At:         now,
			})
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		o.Status = outcome
		o.Attempts = append(o.Attempts, model.Attempt{PaymentRef: o.PaymentRef, Outcome: outcome, FinalizedAt: now})
		o.UpdatedAt = now

		metrics.RecordFinalize(string(outcome))
		if outcome == model.OrderStatusPaid {
			s.logger.Info("payment finalized", zap.String("order_ref", ref), zap.String("status", string(outcome)))
		} else {
			s.logger.Warn("payment signature rejected",
				zap.String("order_ref", ref),
				zap.String("payment_ref", o.PaymentRef),
				zap.Int("signature_len", len(o.Signature)),
			)
		}
		return o, nil
	}

	return nil, apperr.Conflict("order is being updated concurrently")
}

// VerifyPayment выполняет RecordAttempt и Finalize одним вызовом.
// Если подпись отклонена, возвращается заказ в статусе failed вместе с SignatureError.
func (s *OrderService) VerifyPayment(ctx context.Context, ref, paymentRef, signature string) (*model.Order, error) {
	if _, err := s.RecordAttempt(ctx, ref, paymentRef, signature); err != nil {
		return nil, err
	}

	o, err := s.Finalize(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case model.OrderStatusPaid:
		if o.PaymentRef != paymentRef {
			return nil, &apperr.ConflictError{Msg: "order already paid", Status: string(o.Status)}
		}
		return o, nil
	case model.OrderStatusFailed:
		return o, apperr.Signature("invalid payment signature")
	case model.OrderStatusCreated, model.OrderStatusAttempted:
		return nil, &apperr.ConflictError{Msg: "payment is not finalized", Status: string(o.Status)}
	default:
		return nil, apperr.Internal("verify payment", fmt.Errorf("unknown order status %q", o.Status))
	}
}

// sameSignature сравнивает сохранённую подпись с присланной за постоянное время.
func sameSignature(stored, submitted string) bool {
	if stored == "" || submitted == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(stored)), []byte(strings.ToLower(submitted)))
}
