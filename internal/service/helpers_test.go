package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/repository"
	"github.com/mmeshcher/photo-credits/internal/signature"
)

const testSecret = "test-gateway-secret"

// countingVerifier считает обращения к проверке подписи.
type countingVerifier struct {
	inner *signature.Verifier
	calls atomic.Int32
}

func (v *countingVerifier) Verify(orderRef, paymentRef, sig string) bool {
	v.calls.Add(1)
	return v.inner.Verify(orderRef, paymentRef, sig)
}

// tickingClock возвращает время, которое сдвигается на секунду при каждом вызове.
type tickingClock struct {
	now atomic.Int64
}

func newTickingClock() *tickingClock {
	c := &tickingClock{}
	c.now.Store(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix())
	return c
}

func (c *tickingClock) Now() time.Time {
	return time.Unix(c.now.Add(1), 0).UTC()
}

type fixture struct {
	repo     *repository.MemoryRepository
	verifier *countingVerifier
	signer   *signature.Verifier
	orders   *OrderService
	quota    *QuotaService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer, err := signature.NewVerifier(testSecret)
	require.NoError(t, err)

	repo := repository.NewMemoryRepository()
	verifier := &countingVerifier{inner: signer}
	opts := Options{Clock: newTickingClock().Now}

	return &fixture{
		repo:     repo,
		verifier: verifier,
		signer:   signer,
		orders:   NewOrderService(repo, verifier, nil, zap.NewNop(), opts),
		quota:    NewQuotaService(repo, zap.NewNop(), opts),
	}
}

func (f *fixture) create(t *testing.T, amount int64, email string, limit int) *model.Order {
	t.Helper()

	o, err := f.orders.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:     decimal.NewFromInt(amount),
		Currency:   "INR",
		Email:      email,
		QuotaLimit: limit,
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) paid(t *testing.T, email string, limit int) *model.Order {
	t.Helper()

	o := f.create(t, 200, email, limit)
	paid, err := f.orders.VerifyPayment(context.Background(), o.Ref, "pay_"+o.Ref, f.signer.Sign(o.Ref, "pay_"+o.Ref))
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaid, paid.Status)
	return paid
}
