package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/photo-credits/internal/apperr"
	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/repository"
)

type stubGateway struct {
	ref         string
	err         error
	amountMinor int64
	currency    string
}

func (g *stubGateway) CreateOrder(_ context.Context, amountMinor int64, currency, _ string) (string, error) {
	g.amountMinor = amountMinor
	g.currency = currency
	return g.ref, g.err
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  CreateOrderRequest
	}{
		{name: "zero amount", req: CreateOrderRequest{Amount: decimal.Zero, Email: "a@x.com", QuotaLimit: 1}},
		{name: "negative amount", req: CreateOrderRequest{Amount: decimal.NewFromInt(-5), Email: "a@x.com", QuotaLimit: 1}},
		{name: "negative quota", req: CreateOrderRequest{Amount: decimal.NewFromInt(50), Email: "a@x.com", QuotaLimit: -1}},
		{name: "missing email", req: CreateOrderRequest{Amount: decimal.NewFromInt(50), QuotaLimit: 1}},
		{name: "bad currency", req: CreateOrderRequest{Amount: decimal.NewFromInt(50), Currency: "rupee", Email: "a@x.com"}},
		{name: "unknown package", req: CreateOrderRequest{Amount: decimal.NewFromInt(50), Email: "a@x.com", PackageID: "gold"}},
		{name: "package price mismatch", req: CreateOrderRequest{Amount: decimal.NewFromInt(49), Email: "a@x.com", PackageID: "basic"}},
		{name: "package units mismatch", req: CreateOrderRequest{Amount: decimal.NewFromInt(200), Email: "a@x.com", PackageID: "standard", QuotaLimit: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateOrder(context.Background(), tt.req)
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	assert.Equal(t, 0, f.repo.Writes(), "validation errors must not mutate state")
}

func TestCreateOrder_Defaults(t *testing.T) {
	f := newFixture(t)

	o, err := f.orders.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:    decimal.NewFromInt(500),
		Email:     "a@x.com",
		PackageID: "premium",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(o.Ref, "order_"))
	assert.NotContains(t, o.Ref, "-")
	assert.Equal(t, DefaultCurrency, o.Currency)
	assert.Equal(t, 15, o.QuotaLimit)
	assert.Equal(t, 0, o.QuotaConsumed)
	assert.Equal(t, model.OrderStatusCreated, o.Status)

	stored, err := f.orders.GetOrder(context.Background(), o.Ref)
	require.NoError(t, err)
	assert.Equal(t, o.Ref, stored.Ref)
	assert.True(t, stored.Amount.Equal(o.Amount))
}

func TestCreateOrder_Gateway(t *testing.T) {
	repo := repository.NewMemoryRepository()
	gw := &stubGateway{ref: "order_gw_1"}
	svc := NewOrderService(repo, &countingVerifier{}, gw, zap.NewNop(), Options{})

	o, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:     decimal.RequireFromString("199.99"),
		Currency:   "INR",
		Email:      "a@x.com",
		QuotaLimit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "order_gw_1", o.Ref)
	assert.Equal(t, int64(19999), gw.amountMinor)
	assert.Equal(t, "INR", gw.currency)

	gw.err = errors.New("gateway down")
	_, err = svc.CreateOrder(context.Background(), CreateOrderRequest{Amount: decimal.NewFromInt(50), Email: "a@x.com", QuotaLimit: 1})
	var ierr *apperr.InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, repo.Writes(), "nothing is persisted when the gateway fails")
}

func TestCreateOrder_DuplicateRef(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := NewOrderService(repo, &countingVerifier{}, &stubGateway{ref: "order_dup"}, zap.NewNop(), Options{})

	req := CreateOrderRequest{Amount: decimal.NewFromInt(50), Email: "a@x.com", QuotaLimit: 1}
	_, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), req)
	var cerr *apperr.ConflictError
	require.ErrorAs(t, err, &cerr)
}

// createOrder(500) -> неверная подпись -> failed; статус квоты недоступен.
func TestOrderLifecycle_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 500, "a@x.com", 5)

	attempted, err := f.orders.RecordAttempt(ctx, o.Ref, "pay_1", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAttempted, attempted.Status)

	final, err := f.orders.Finalize(ctx, o.Ref)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, final.Status)

	_, err = f.quota.GetQuotaStatus(ctx, o.Ref)
	var cerr *apperr.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "resource locked until payment completes", cerr.Msg)
}

func TestVerifyPayment_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, 500, "a@x.com", 5)

	res, err := f.orders.VerifyPayment(context.Background(), o.Ref, "pay_1", "deadbeef")
	var serr *apperr.SignatureError
	require.ErrorAs(t, err, &serr)
	require.NotNil(t, res)
	assert.Equal(t, model.OrderStatusFailed, res.Status)
}

func TestVerifyPayment_Paid(t *testing.T) {
	f := newFixture(t)
	o := f.paid(t, "b@x.com", 5)

	assert.Equal(t, 0, o.QuotaConsumed)
	require.Len(t, o.Attempts, 1)
	assert.Equal(t, model.OrderStatusPaid, o.Attempts[0].Outcome)

	status, err := f.quota.GetQuotaStatus(context.Background(), o.Ref)
	require.NoError(t, err)
	assert.Equal(t, model.QuotaStatus{QuotaLimit: 5, QuotaConsumed: 0, Remaining: 5, Email: "b@x.com"}, *status)
}

// Повторная доставка подтверждения для оплаченного заказа ничего не меняет и не проверяет подпись заново.
func TestVerifyPayment_DuplicateAfterPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paid(t, "d@x.com", 5)

	calls := f.verifier.calls.Load()
	writes := f.repo.Writes()

	again, err := f.orders.VerifyPayment(ctx, o.Ref, o.PaymentRef, o.Signature)
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusPaid, again.Status)
	assert.Equal(t, o.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, calls, f.verifier.calls.Load())
	assert.Equal(t, writes, f.repo.Writes())
}

// Повтор для оплаченного заказа с другой подписью отклоняется без записи и без вызова проверки.
func TestVerifyPayment_ReplayAfterPaidWithOtherSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paid(t, "r@x.com", 5)

	calls := f.verifier.calls.Load()
	writes := f.repo.Writes()

	for _, sig := range []string{"deadbeef", f.signer.Sign(o.Ref, "pay_other"), " "} {
		_, err := f.orders.VerifyPayment(ctx, o.Ref, o.PaymentRef, sig)
		var serr *apperr.SignatureError
		require.ErrorAs(t, err, &serr, sig)

		_, err = f.orders.RecordAttempt(ctx, o.Ref, o.PaymentRef, sig)
		require.ErrorAs(t, err, &serr, sig)
	}

	again, err := f.orders.VerifyPayment(ctx, o.Ref, o.PaymentRef, strings.ToUpper(o.Signature))
	require.NoError(t, err, "hex case does not matter")
	assert.Equal(t, model.OrderStatusPaid, again.Status)

	stored, err := f.orders.GetOrder(ctx, o.Ref)
	require.NoError(t, err)
	assert.Equal(t, o.UpdatedAt, stored.UpdatedAt)
	assert.Equal(t, o.Signature, stored.Signature)
	assert.Equal(t, calls, f.verifier.calls.Load())
	assert.Equal(t, writes, f.repo.Writes())
}

func TestFinalize_Idempotent(t *testing.T) {
	for _, valid := range []bool{true, false} {
		f := newFixture(t)
		ctx := context.Background()
		o := f.create(t, 200, "i@x.com", 5)

		sig := "bad"
		if valid {
			sig = f.signer.Sign(o.Ref, "pay_1")
		}
		_, err := f.orders.RecordAttempt(ctx, o.Ref, "pay_1", sig)
		require.NoError(t, err)

		first, err := f.orders.Finalize(ctx, o.Ref)
		require.NoError(t, err)

		writes := f.repo.Writes()
		calls := f.verifier.calls.Load()

		second, err := f.orders.Finalize(ctx, o.Ref)
		require.NoError(t, err)

		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
		assert.Equal(t, writes, f.repo.Writes(), "second finalize must not write")
		assert.Equal(t, calls, f.verifier.calls.Load(), "second finalize must not verify")
	}
}

func TestRecordAttempt_RetryAfterFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 200, "r@x.com", 5)

	_, err := f.orders.VerifyPayment(ctx, o.Ref, "pay_bad", "bad")
	require.Error(t, err)

	_, err = f.orders.RecordAttempt(ctx, o.Ref, "pay_bad", f.signer.Sign(o.Ref, "pay_bad"))
	var serr *apperr.SignatureError
	require.ErrorAs(t, err, &serr, "a rejected confirmation is never accepted later")

	paid, err := f.orders.VerifyPayment(ctx, o.Ref, "pay_good", f.signer.Sign(o.Ref, "pay_good"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, paid.Status)
	require.Len(t, paid.Attempts, 2)
	assert.Equal(t, model.OrderStatusFailed, paid.Attempts[0].Outcome)
	assert.Equal(t, model.OrderStatusPaid, paid.Attempts[1].Outcome)
}

func TestRecordAttempt_OverwritesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 200, "p@x.com", 5)

	_, err := f.orders.RecordAttempt(ctx, o.Ref, "pay_1", "first")
	require.NoError(t, err)
	updated, err := f.orders.RecordAttempt(ctx, o.Ref, "pay_1", f.signer.Sign(o.Ref, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAttempted, updated.Status)

	final, err := f.orders.Finalize(ctx, o.Ref)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, final.Status)
}

func TestOrderLifecycle_PaidIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.paid(t, "t@x.com", 5)

	_, err := f.orders.RecordAttempt(ctx, o.Ref, "pay_other", f.signer.Sign(o.Ref, "pay_other"))
	var cerr *apperr.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "paid", cerr.Status)

	_, err = f.orders.VerifyPayment(ctx, o.Ref, "pay_other", "bad")
	require.ErrorAs(t, err, &cerr)

	stored, err := f.orders.GetOrder(ctx, o.Ref)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, stored.Status)
	assert.Equal(t, o.PaymentRef, stored.PaymentRef)
}

func TestOrderLifecycle_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var nerr *apperr.NotFoundError
	_, err := f.orders.RecordAttempt(ctx, "order_missing", "pay", "sig")
	require.ErrorAs(t, err, &nerr)

	_, err = f.orders.Finalize(ctx, "order_missing")
	require.ErrorAs(t, err, &nerr)

	var verr *apperr.ValidationError
	_, err = f.orders.RecordAttempt(ctx, "order_x", "", "sig")
	require.ErrorAs(t, err, &verr)

	o := f.create(t, 50, "e@x.com", 1)
	_, err = f.orders.Finalize(ctx, o.Ref)
	var cerr *apperr.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "created", cerr.Status)
}

func TestFinalize_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, 200, "c@x.com", 5)

	_, err := f.orders.RecordAttempt(ctx, o.Ref, "pay_1", f.signer.Sign(o.Ref, "pay_1"))
	require.NoError(t, err)

	const n = 8
	results := make(chan *model.Order, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := f.orders.Finalize(ctx, o.Ref)
			results <- res
			errs <- err
		}()
	}

	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, model.OrderStatusPaid, (<-results).Status)
	}

	stored, err := f.orders.GetOrder(ctx, o.Ref)
	require.NoError(t, err)
	assert.Len(t, stored.Attempts, 1, "exactly one finalization is applied")
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, 50, "h@x.com", 1)
	second := f.create(t, 200, "h@x.com", 5)
	f.create(t, 50, "other@x.com", 1)

	orders, err := f.orders.ListOrders(ctx, "h@x.com")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.Ref, orders[0].Ref)
	assert.Equal(t, first.Ref, orders[1].Ref)

	_, err = f.orders.ListOrders(ctx, "")
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
}

// slowRepo не отвечает до истечения контекста.
type slowRepo struct {
	*repository.MemoryRepository
}

func (r slowRepo) GetOrder(ctx context.Context, _ string) (*model.Order, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreTimeout(t *testing.T) {
	repo := slowRepo{MemoryRepository: repository.NewMemoryRepository()}
	opts := Options{StoreTimeout: 20 * time.Millisecond}
	orders := NewOrderService(repo, &countingVerifier{}, nil, zap.NewNop(), opts)
	quota := NewQuotaService(repo, zap.NewNop(), opts)

	_, err := orders.Finalize(context.Background(), "order_1")
	var ierr *apperr.InternalError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 500, apperr.HTTPStatus(err))

	_, err = quota.Consume(context.Background(), "order_1", "", 1, []model.Upload{{Name: "a"}})
	require.ErrorAs(t, err, &ierr)
}
