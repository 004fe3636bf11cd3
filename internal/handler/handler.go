package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/encargos/internal/auth"
	"github.com/iurnickita/encargos/internal/balance"
	"github.com/iurnickita/encargos/internal/fulfillment"
	"github.com/iurnickita/encargos/internal/gzip"
	"github.com/iurnickita/encargos/internal/handler/config"
	"github.com/iurnickita/encargos/internal/ledger"
	"github.com/iurnickita/encargos/internal/logger"
	"github.com/iurnickita/encargos/internal/model"
	"github.com/iurnickita/encargos/internal/paystatus"
	"github.com/iurnickita/encargos/internal/service"
	"github.com/iurnickita/encargos/internal/settlement"
)

const HeaderIdempotencyKey = "Idempotency-Key"

func Serve(cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	zaplog.Info("server started", zap.String("addr", cfg.ServerAddr))
	return srv.ListenAndServe()
}

type handler struct {
	auth    auth.Auth
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		zaplog:  zaplog,
	}
}

func (h *handler) public(fn http.HandlerFunc) http.HandlerFunc {
	return gzip.GzipMiddleware(logger.RequestLogMdlw(fn, h.zaplog))
}

func (h *handler) private(fn http.HandlerFunc) http.HandlerFunc {
	return gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(fn), h.zaplog))
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/register", h.public(h.auth.Register))
	mux.HandleFunc("POST /api/user/login", h.public(h.auth.Login))

	mux.HandleFunc("POST /api/orders", h.private(h.PostOrder))
	mux.HandleFunc("GET /api/orders/{number}", h.private(h.GetOrder))
	mux.HandleFunc("POST /api/orders/{number}/settlement/quote", h.private(h.PostQuote))
	mux.HandleFunc("POST /api/orders/{number}/settlement", h.private(h.PostSettlement))
	mux.HandleFunc("PUT /api/orders/{number}/paystatus", h.private(h.PutPayStatus))
	mux.HandleFunc("POST /api/orders/{number}/cancel", h.private(h.PostCancel))

	mux.HandleFunc("POST /api/products/{id}/events", h.private(h.PostQuantityEvent))
	mux.HandleFunc("PUT /api/products/{id}/status", h.private(h.PutProductStatus))

	mux.HandleFunc("GET /api/clients/{client}/orders", h.private(h.GetClientOrders))
	mux.HandleFunc("GET /api/clients/{client}/balance", h.private(h.GetBalance))
	mux.HandleFunc("GET /api/clients/{client}/balance/history", h.private(h.GetBalanceHistory))

	return mux
}

// statusCode - код ответа для ошибки сервиса
func statusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInsufficientData),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrUnknownStage),
		errors.Is(err, fulfillment.ErrUnknownStatus):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyExists),
		errors.Is(err, service.ErrStale),
		errors.Is(err, paystatus.ErrIllegalTransition),
		errors.Is(err, fulfillment.ErrGateViolation):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnprocessableEntity),
		errors.Is(err, ledger.ErrQuantityExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, balance.ErrBalanceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		h.zaplog.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(responseJSON)
}

func readJSON(r *http.Request, v any) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return err
	}
	return json.Unmarshal(buf.Bytes(), v)
}

// Заказы

type ProductJSON struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name"`
	Requested int    `json:"amount_requested"`
	Purchased int    `json:"amount_purchased"`
	Received  int    `json:"amount_received"`
	Delivered int    `json:"amount_delivered"`
	Status    string `json:"status,omitempty"`
}

type OrderJSON struct {
	Number    string          `json:"number"`
	Client    string          `json:"client"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Received  decimal.Decimal `json:"received_value_of_client"`
	PayStatus string          `json:"pay_status"`
	Status    string          `json:"status"`
	Products  []ProductJSON   `json:"products"`
	CreatedAt time.Time       `json:"created_at"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
}

func productJSON(p model.Product) ProductJSON {
	return ProductJSON{
		ID:        p.ID,
		Name:      p.Data.Name,
		Requested: p.Data.Requested,
		Purchased: p.Data.Purchased,
		Received:  p.Data.Received,
		Delivered: p.Data.Delivered,
		Status:    p.Data.Status.String(),
	}
}

func orderJSON(order model.Order) OrderJSON {
	o := OrderJSON{
		Number:    order.Number,
		Client:    order.Data.Client,
		TotalCost: order.Data.TotalCost,
		Received:  order.Data.Received,
		PayStatus: order.Data.PayStatus.String(),
		Status:    order.Data.Status.String(),
		Products:  []ProductJSON{},
		CreatedAt: order.Data.CreatedAt,
	}
	if !order.Data.PaidAt.IsZero() {
		paidAt := order.Data.PaidAt
		o.PaidAt = &paidAt
	}
	for _, p := range order.Data.Products {
		o.Products = append(o.Products, productJSON(p))
	}
	return o
}

type PostOrderJSONRequest struct {
	Number    string          `json:"number"`
	Client    string          `json:"client"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Products  []ProductJSON   `json:"products"`
}

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var req PostOrderJSONRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order := model.Order{Number: req.Number, Data: model.OrderData{
		Client:    req.Client,
		TotalCost: req.TotalCost,
	}}
	for _, p := range req.Products {
		order.Data.Products = append(order.Data.Products, model.Product{Data: model.ProductData{
			Name:      p.Name,
			Requested: p.Requested,
		}})
	}

	created, err := h.service.CreateOrder(r.Context(), order)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateRequest) {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, orderJSON(created))
}

func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), r.PathValue("number"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

func (h *handler) GetClientOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), r.PathValue("client"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var ordersJSON []OrderJSON
	for _, order := range orders {
		ordersJSON = append(ordersJSON, orderJSON(order))
	}
	h.writeJSON(w, http.StatusOK, ordersJSON)
}

// Оплата

type SettlementJSONRequest struct {
	Cash        decimal.Decimal `json:"cash"`
	ApplyCredit bool            `json:"apply_credit"`
	Force       bool            `json:"force"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

func (req SettlementJSONRequest) input() service.PaymentInput {
	in := service.PaymentInput{
		Cash:        req.Cash,
		ApplyCredit: req.ApplyCredit,
		Force:       req.Force,
	}
	if req.PaidAt != nil {
		in.PaidAt = *req.PaidAt
	}
	return in
}

type QuoteJSONResponse struct {
	Order           string            `json:"order"`
	Settlement      settlement.Result `json:"settlement"`
	PayStatus       string            `json:"pay_status"`
	Received        decimal.Decimal   `json:"received_value_of_client"`
	BalanceDelta    decimal.Decimal   `json:"balance_delta"`
	SurplusBalance  decimal.Decimal   `json:"surplus_balance"`
	CreditAvailable bool              `json:"credit_available"`
	Error           string            `json:"error,omitempty"`
}

func quoteJSON(q service.Quote) QuoteJSONResponse {
	return QuoteJSONResponse{
		Order:           q.Order,
		Settlement:      q.Result,
		PayStatus:       q.PayStatus.String(),
		Received:        q.Received,
		BalanceDelta:    q.BalanceDelta,
		SurplusBalance:  q.Balance.Surplus,
		CreditAvailable: q.CreditAvailable,
	}
}

func (h *handler) PostQuote(w http.ResponseWriter, r *http.Request) {
	var req SettlementJSONRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, err := h.service.QuoteSettlement(r.Context(), r.PathValue("number"), req.input())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quoteJSON(q))
}

func (h *handler) PostSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementJSONRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	q, err := h.service.SubmitSettlement(r.Context(), r.PathValue("number"), key, req.input())
	if err != nil {
		if errors.Is(err, service.ErrDuplicateRequest) {
			w.WriteHeader(http.StatusOK)
			return
		}
		// расчет уже сделан - отдаем его вместе с ошибкой
		if q.Order != "" {
			resp := quoteJSON(q)
			resp.Error = err.Error()
			code := statusCode(err)
			if code == http.StatusInternalServerError {
				h.zaplog.Error("settlement write failed", zap.String("order", q.Order), zap.Error(err))
			}
			h.writeJSON(w, code, resp)
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quoteJSON(q))
}

type PayStatusJSONRequest struct {
	PayStatus string `json:"pay_status"`
}

func (h *handler) PutPayStatus(w http.ResponseWriter, r *http.Request) {
	var req PayStatusJSONRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status := model.PayStatus(req.PayStatus)
	if !status.IsValid() {
		http.Error(w, "unknown pay status", http.StatusBadRequest)
		return
	}

	order, err := h.service.SetPayStatus(r.Context(), r.PathValue("number"), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

func (h *handler) PostCancel(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.CancelOrder(r.Context(), r.PathValue("number"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

// Товары

func productID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

type QuantityEventJSONRequest struct {
	Stage    string `json:"stage"`
	Quantity int    `json:"quantity"`
}

func (h *handler) PostQuantityEvent(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req QuantityEventJSONRequest
	if err = readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	product, err := h.service.RecordQuantityEvent(r.Context(), model.QuantityEvent{
		ProductID: id,
		Stage:     model.Stage(req.Stage),
		Delta:     req.Quantity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productJSON(product))
}

type ProductStatusJSONRequest struct {
	Status string `json:"status"`
}

func (h *handler) PutProductStatus(w http.ResponseWriter, r *http.Request) {
	id, err := productID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req ProductStatusJSONRequest
	if err = readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	product, err := h.service.AdvanceProduct(r.Context(), id, model.Status(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productJSON(product))
}

// Баланс

type BalanceJSONResponse struct {
	Client  string          `json:"client"`
	Surplus decimal.Decimal `json:"surplus_balance"`
	Total   decimal.Decimal `json:"total_balance"`
}

func (h *handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBalance(r.Context(), r.PathValue("client"))
	if err != nil {
		if !errors.Is(err, service.ErrInsufficientData) {
			err = errors.Join(balance.ErrBalanceUnavailable, err)
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BalanceJSONResponse{
		Client:  r.PathValue("client"),
		Surplus: b.Surplus,
		Total:   b.Total,
	})
}

type BalanceHistoryJSONResponse struct {
	Operation  int64           `json:"operation"`
	Order      string          `json:"order,omitempty"`
	Difference decimal.Decimal `json:"difference"`
	Balance    decimal.Decimal `json:"balance"`
	Timestamp  time.Time       `json:"processed_at"`
}

func (h *handler) GetBalanceHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.GetBalanceHistory(r.Context(), r.PathValue("client"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(history) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var historyJSON []BalanceHistoryJSONResponse
	for _, b := range history {
		historyJSON = append(historyJSON, BalanceHistoryJSONResponse{
			Operation:  b.Key.Operation,
			Order:      b.Data.Order,
			Difference: b.Data.Difference,
			Balance:    b.Data.Balance,
			Timestamp:  b.Data.Timestamp,
		})
	}
	h.writeJSON(w, http.StatusOK, historyJSON)
}
