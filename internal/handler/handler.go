// Package handler содержит HTTP-обработчики API сервиса фотокредитов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/photo-credits/internal/apperr"
	"github.com/mmeshcher/photo-credits/internal/middleware"
	"github.com/mmeshcher/photo-credits/internal/model"
	"github.com/mmeshcher/photo-credits/internal/service"
	"github.com/mmeshcher/photo-credits/internal/session"
)

// OrderService определяет операции жизненного цикла заказа, используемые обработчиками.
type OrderService interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*model.Order, error)
	ListOrders(ctx context.Context, email string) ([]model.Order, error)
	VerifyPayment(ctx context.Context, ref, paymentRef, signature string) (*model.Order, error)
}

// QuotaService определяет операции чтения квоты.
type QuotaService interface {
	GetQuotaStatus(ctx context.Context, ref string) (*model.QuotaStatus, error)
	ListUploads(ctx context.Context, ref, email string) (*service.Gallery, error)
}

// UploadService определяет операции, расходующие квоту.
type UploadService interface {
	Upload(ctx context.Context, ref, email string, files []service.UploadFile) (int, error)
	Transform(ctx context.Context, ref, email string, file service.UploadFile) (*service.TransformResult, error)
	GenerationEnabled() bool
}

// Handler реализует HTTP-обработчики API сервиса фотокредитов.
type Handler struct {
	orders  OrderService
	quota   QuotaService
	uploads UploadService
	gate    *session.Gate
	limiter *middleware.RateLimiter
	logger  *zap.Logger

	trustProxy bool
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// trustProxy включает чтение адреса клиента из заголовков прокси.
func NewHandler(
	orders OrderService,
	quota QuotaService,
	uploads UploadService,
	gate *session.Gate,
	limiter *middleware.RateLimiter,
	trustProxy bool,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orders:  orders,
		quota:   quota,
		uploads: uploads,
		gate:    gate,
		limiter: limiter,
		logger:  logger,

		trustProxy: trustProxy,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Remaining *int   `json:"remaining,omitempty"`
	Status    string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервиса в HTTP-ответ. Внутренние ошибки журналируются и не раскрываются.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	resp := errorResponse{Error: err.Error()}

	var cerr *apperr.ConflictError
	if errors.As(err, &cerr) {
		resp.Error = cerr.Msg
		resp.Status = cerr.Status
		if cerr.HasRemaining {
			remaining := cerr.Remaining
			resp.Remaining = &remaining
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		resp = errorResponse{Error: "internal server error"}
	}

	writeJSON(w, status, resp)
}

// ListPackages возвращает каталог пакетов кредитов.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": service.Packages()})
}

type createOrderRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Email      string          `json:"email"`
	QuotaLimit int             `json:"quotaLimit"`
	PackageID  string          `json:"packageId"`
}

type createOrderResponse struct {
	OrderRef   string          `json:"orderRef"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	QuotaLimit int             `json:"quotaLimit"`
	Status     string          `json:"status"`
}

// CreateOrder создаёт заказ на покупку кредитов.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "create order", apperr.Validation("invalid request body"))
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), service.CreateOrderRequest{
		Amount:     req.Amount,
		Currency:   req.Currency,
		Email:      req.Email,
		QuotaLimit: req.QuotaLimit,
		PackageID:  req.PackageID,
	})
	if err != nil {
		h.writeError(w, "create order", err)
		return
	}

	writeJSON(w, http.StatusOK, createOrderResponse{
		OrderRef:   o.Ref,
		Amount:     o.Amount,
		Currency:   o.Currency,
		QuotaLimit: o.QuotaLimit,
		Status:     string(o.Status),
	})
}

type orderSummary struct {
	OrderRef      string          `json:"orderRef"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	PackageID     string          `json:"packageId,omitempty"`
	QuotaLimit    int             `json:"quotaLimit"`
	QuotaConsumed int             `json:"quotaConsumed"`
	CreatedAt     string          `json:"createdAt"`
}

// ListOrders возвращает историю платежей покупателя.
// Идентификатор платежа и подпись в ответ не попадают: запрос защищён только адресом почты.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.writeError(w, "list orders", err)
		return
	}

	resp := make([]orderSummary, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderSummary{
			OrderRef:      o.Ref,
			Amount:        o.Amount,
			Currency:      o.Currency,
			Status:        string(o.Status),
			PackageID:     o.PackageID,
			QuotaLimit:    o.QuotaLimit,
			QuotaConsumed: o.QuotaConsumed,
			CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": resp})
}

type verifyPaymentRequest struct {
	OrderRef   string `json:"orderRef"`
	PaymentRef string `json:"paymentRef"`
	Signature  string `json:"signature"`
}

type verifiedOrder struct {
	OrderRef string          `json:"orderRef"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
}

type verifyPaymentResponse struct {
	Success bool          `json:"success"`
	Order   verifiedOrder `json:"order"`
}

// VerifyPayment записывает попытку оплаты, проверяет подпись и при успехе выдаёт артефакт сессии.
// Отклонённая подпись отзывает ранее выданный артефакт.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "verify payment", apperr.Validation("invalid request body"))
		return
	}

	o, err := h.orders.VerifyPayment(r.Context(), req.OrderRef, req.PaymentRef, req.Signature)
	if err != nil {
		var serr *apperr.SignatureError
		if errors.As(err, &serr) {
			h.gate.Revoke(w)
		}
		h.writeError(w, "verify payment", err)
		return
	}

	token, artifact, err := h.gate.Issue()
	if err != nil {
		h.writeError(w, "issue session", apperr.Internal("issue session", err))
		return
	}
	h.gate.SetCookie(w, token, artifact)

	writeJSON(w, http.StatusOK, verifyPaymentResponse{
		Success: true,
		Order: verifiedOrder{
			OrderRef: o.Ref,
			Status:   string(o.Status),
			Amount:   o.Amount,
		},
	})
}

// CheckSession сообщает, есть ли у клиента действующий артефакт оплаты.
func (h *Handler) CheckSession(w http.ResponseWriter, r *http.Request) {
	a, ok := h.gate.FromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"expiresAt": a.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout отзывает артефакт оплаты.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.gate.Revoke(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
