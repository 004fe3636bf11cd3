package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/theplant/luhn"
	"go.uber.org/zap"

	"github.com/iurnickita/encargos/internal/balance"
	"github.com/iurnickita/encargos/internal/fulfillment"
	"github.com/iurnickita/encargos/internal/ledger"
	"github.com/iurnickita/encargos/internal/model"
	"github.com/iurnickita/encargos/internal/paystatus"
	"github.com/iurnickita/encargos/internal/service/balanceclient"
	"github.com/iurnickita/encargos/internal/service/config"
	"github.com/iurnickita/encargos/internal/settlement"
	"github.com/iurnickita/encargos/internal/store"
)

type Service interface {
	CreateOrder(ctx context.Context, order model.Order) (model.Order, error)
	GetOrder(ctx context.Context, number string) (model.Order, error)
	ListOrders(ctx context.Context, client string) ([]model.Order, error)
	GetBalance(ctx context.Context, client string) (model.ClientBalance, error)
	GetBalanceHistory(ctx context.Context, client string) ([]model.Balance, error)
	QuoteSettlement(ctx context.Context, number string, in PaymentInput) (Quote, error)
	SubmitSettlement(ctx context.Context, number string, key string, in PaymentInput) (Quote, error)
	SetPayStatus(ctx context.Context, number string, status model.PayStatus) (model.Order, error)
	CancelOrder(ctx context.Context, number string) (model.Order, error)
	RecordQuantityEvent(ctx context.Context, event model.QuantityEvent) (model.Product, error)
	AdvanceProduct(ctx context.Context, id int64, target model.Status) (model.Product, error)
}

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrAlreadyExists       = errors.New("already exists")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrNotFound            = errors.New("not found")
	ErrStale               = errors.New("order changed, quote again")
)

// PaymentInput - данные формы оплаты
type PaymentInput struct {
	Cash        decimal.Decimal
	ApplyCredit bool
	Force       bool // ручное «pagado»
	PaidAt      time.Time
}

// Quote - предварительный расчет. Submit возвращает его же, в том числе при
// ошибке записи, чтобы показать пользователю те же цифры.
type Quote struct {
	Order           string
	Result          settlement.Result
	PayStatus       model.PayStatus
	Received        decimal.Decimal
	BalanceDelta    decimal.Decimal
	Balance         model.ClientBalance
	CreditAvailable bool
}

type service struct {
	cfg     config.Config
	store   store.Store
	balance balance.Source
	journal balance.Balance
	zaplog  *zap.Logger
}

func NewService(cfg config.Config, store store.Store, zaplog *zap.Logger) Service {
	journal := balance.NewBalance(store)

	var source balance.Source = journal
	if cfg.BalanceSystemAddr != "" {
		source = balanceclient.NewBalanceClient(cfg.BalanceSystemAddr)
	}

	return &service{
		cfg:     cfg,
		store:   store,
		balance: source,
		journal: journal,
		zaplog:  zaplog,
	}
}

func translate(err error) error {
	switch {
	case errors.Is(err, store.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrAlreadyExists
	case errors.Is(err, store.ErrDuplicateRequest):
		return ErrDuplicateRequest
	case errors.Is(err, store.ErrStale):
		return ErrStale
	default:
		return err
	}
}

func (service *service) CreateOrder(ctx context.Context, order model.Order) (model.Order, error) {
	if order.Number == "" || order.Data.Client == "" {
		return model.Order{}, ErrInsufficientData
	}
	// Проверка номера по алгоритму Луна
	n, err := strconv.Atoi(order.Number)
	if err != nil || !luhn.Valid(n) {
		return model.Order{}, ErrUnprocessableEntity
	}
	if order.Data.TotalCost.IsNegative() {
		return model.Order{}, fmt.Errorf("%w: total cost %s", settlement.ErrInvalidAmount, order.Data.TotalCost)
	}

	newOrder := model.Order{Number: order.Number}
	newOrder.Data.Client = order.Data.Client
	newOrder.Data.TotalCost = order.Data.TotalCost
	newOrder.Data.Received = decimal.Zero
	newOrder.Data.PayStatus = model.PayStatusNoPagado
	newOrder.Data.Status = model.StatusEncargado
	newOrder.Data.CreatedAt = time.Now()
	for _, p := range order.Data.Products {
		if p.Data.Requested < 0 {
			return model.Order{}, fmt.Errorf("%w: requested %d", ledger.ErrInvalidQuantity, p.Data.Requested)
		}
		newOrder.Data.Products = append(newOrder.Data.Products, model.Product{Data: model.ProductData{
			Name:      p.Data.Name,
			Requested: p.Data.Requested,
			Status:    model.StatusEncargado,
		}})
	}

	created, err := service.store.OrderPost(ctx, newOrder)
	if err != nil {
		return model.Order{}, translate(err)
	}
	return created, nil
}

func (service *service) GetOrder(ctx context.Context, number string) (model.Order, error) {
	if number == "" {
		return model.Order{}, ErrInsufficientData
	}
	order, err := service.store.OrderGet(ctx, number)
	return order, translate(err)
}

func (service *service) ListOrders(ctx context.Context, client string) ([]model.Order, error) {
	if client == "" {
		return nil, ErrInsufficientData
	}
	orders, err := service.store.OrderList(ctx, client)
	return orders, translate(err)
}

func (service *service) GetBalance(ctx context.Context, client string) (model.ClientBalance, error) {
	if client == "" {
		return model.ClientBalance{}, ErrInsufficientData
	}
	return service.balance.Get(ctx, client)
}

func (service *service) GetBalanceHistory(ctx context.Context, client string) ([]model.Balance, error) {
	if client == "" {
		return nil, ErrInsufficientData
	}
	return service.journal.GetHistory(ctx, client)
}

func (service *service) QuoteSettlement(ctx context.Context, number string, in PaymentInput) (Quote, error) {
	order, err := service.GetOrder(ctx, number)
	if err != nil {
		return Quote{}, err
	}
	snapshot := service.snapshot(ctx, order.Data.Client)
	return quote(order, snapshot, in)
}

func (service *service) snapshot(ctx context.Context, client string) model.ClientBalance {
	snapshot, err := balance.Snapshot(ctx, service.balance, client)
	if err != nil {
		service.zaplog.Warn("balance read failed, credit disabled",
			zap.String("client", client),
			zap.Error(err))
	}
	return snapshot
}

// quote - расчет без записи
func quote(order model.Order, snapshot model.ClientBalance, in PaymentInput) (Quote, error) {
	surplus := decimal.Zero
	if snapshot.Available {
		surplus = snapshot.Surplus
	}
	sin := settlement.Input{
		OrderCost:     settlement.OrderCost(order.Data.TotalCost, order.Data.Received),
		Cash:          in.Cash,
		ApplyCredit:   in.ApplyCredit && snapshot.Available,
		ClientSurplus: surplus,
	}
	res, err := settlement.Calculate(sin)
	if err != nil {
		return Quote{}, err
	}

	// статус по накопленному покрытию всего заказа
	machine := paystatus.NewMachine(order.Data.PayStatus)
	err = machine.Settle(order.Data.Received.Add(res.Covered), order.Data.TotalCost, in.Force)

	q := Quote{
		Order:           order.Number,
		Result:          res,
		PayStatus:       machine.Status(),
		Received:        order.Data.Received.Add(res.Applied()),
		BalanceDelta:    res.BalanceDelta(sin),
		Balance:         snapshot,
		CreditAvailable: snapshot.Available,
	}
	return q, err
}

func (service *service) SubmitSettlement(ctx context.Context, number string, key string, in PaymentInput) (Quote, error) {
	if key == "" {
		return Quote{}, fmt.Errorf("%w: idempotency key", ErrInsufficientData)
	}
	if _, err := uuid.Parse(key); err != nil {
		return Quote{}, fmt.Errorf("%w: idempotency key %q", ErrUnprocessableEntity, key)
	}

	order, err := service.GetOrder(ctx, number)
	if err != nil {
		return Quote{}, err
	}
	snapshot := service.snapshot(ctx, order.Data.Client)
	if in.ApplyCredit && !snapshot.Available {
		return Quote{}, balance.ErrBalanceUnavailable
	}

	q, err := quote(order, snapshot, in)
	if err != nil {
		return q, err
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	upd := store.SettleUpdate{
		Payment: model.Payment{Key: key, Data: model.PaymentData{
			Order:    order.Number,
			Cash:     q.Result.PaidCash,
			Credit:   q.Result.AppliedCredit,
			Covered:  q.Result.Covered,
			Pending:  q.Result.Pending,
			Overpaid: q.Result.Overpaid,
			PaidAt:   paidAt,
		}},
		Client:            order.Data.Client,
		ExpectedReceived:  order.Data.Received,
		ExpectedPayStatus: order.Data.PayStatus,
		Received:          q.Received,
		PayStatus:         q.PayStatus,
		BalanceDelta:      q.BalanceDelta,
	}

	if err = service.store.OrderSettle(ctx, upd); err != nil {
		err = translate(err)
		service.zaplog.Warn("settlement not applied",
			zap.String("order", order.Number),
			zap.String("key", key),
			zap.Error(err))
		return q, err
	}

	service.zaplog.Info("settlement applied",
		zap.String("order", order.Number),
		zap.String("client", order.Data.Client),
		zap.String("key", key),
		zap.Stringer("cash", q.Result.PaidCash),
		zap.Stringer("credit", q.Result.AppliedCredit),
		zap.Stringer("pending", q.Result.Pending),
		zap.Stringer("overpaid", q.Result.Overpaid),
		zap.String("pay_status", q.PayStatus.String()))

	return q, nil
}

func (service *service) SetPayStatus(ctx context.Context, number string, status model.PayStatus) (model.Order, error) {
	if status == model.PayStatusCancelado {
		return service.CancelOrder(ctx, number)
	}
	order, err := service.store.OrderApply(ctx, number, func(order *model.Order) error {
		machine := paystatus.NewMachine(order.Data.PayStatus)
		if err := machine.Transition(status); err != nil {
			return err
		}
		order.Data.PayStatus = machine.Status()
		return nil
	})
	if err != nil {
		return model.Order{}, translate(err)
	}
	service.zaplog.Info("pay status set",
		zap.String("order", number),
		zap.String("pay_status", status.String()))
	return order, nil
}

func (service *service) CancelOrder(ctx context.Context, number string) (model.Order, error) {
	order, err := service.store.OrderApply(ctx, number, func(order *model.Order) error {
		machine := paystatus.NewMachine(order.Data.PayStatus)
		if err := machine.Cancel(); err != nil {
			return err
		}
		for i := range order.Data.Products {
			p := &order.Data.Products[i]
			if p.Data.Status == model.StatusCancelado {
				continue
			}
			if err := fulfillment.Check(*p, model.StatusCancelado); err != nil {
				return err
			}
			p.Data.Status = model.StatusCancelado
		}
		order.Data.PayStatus = machine.Status()
		order.Data.Status = model.StatusCancelado
		return nil
	})
	if err != nil {
		return model.Order{}, translate(err)
	}
	service.zaplog.Info("order cancelled", zap.String("order", number))
	return order, nil
}

// applyToProduct - изменение одного товара под блокировкой заказа
func (service *service) applyToProduct(ctx context.Context, id int64, fn func(product *model.Product) error) (model.Product, error) {
	product, err := service.store.ProductGet(ctx, id)
	if err != nil {
		return model.Product{}, translate(err)
	}

	var result model.Product
	_, err = service.store.OrderApply(ctx, product.Data.Order, func(order *model.Order) error {
		for i := range order.Data.Products {
			p := &order.Data.Products[i]
			if p.ID != id {
				continue
			}
			if err := fn(p); err != nil {
				return err
			}
			order.Data.Status = fulfillment.OrderStatus(order.Data.Products)
			result = *p
			return nil
		}
		return store.ErrNoRows
	})
	if err != nil {
		return model.Product{}, translate(err)
	}
	return result, nil
}

func (service *service) RecordQuantityEvent(ctx context.Context, event model.QuantityEvent) (model.Product, error) {
	product, err := service.applyToProduct(ctx, event.ProductID, func(p *model.Product) error {
		if p.Data.Status == model.StatusCancelado {
			return fmt.Errorf("%w: product %d is cancelled", fulfillment.ErrGateViolation, p.ID)
		}
		if err := ledger.Apply(p, event); err != nil {
			return err
		}
		p.Data.Status = fulfillment.AutoAdvance(*p)
		return nil
	})
	if err != nil {
		service.zaplog.Info("quantity event rejected",
			zap.Int64("product", event.ProductID),
			zap.String("stage", string(event.Stage)),
			zap.Int("delta", event.Delta),
			zap.Error(err))
		return model.Product{}, err
	}
	service.zaplog.Info("quantity event recorded",
		zap.Int64("product", event.ProductID),
		zap.String("stage", string(event.Stage)),
		zap.Int("delta", event.Delta),
		zap.String("status", product.Data.Status.String()))
	return product, nil
}

func (service *service) AdvanceProduct(ctx context.Context, id int64, target model.Status) (model.Product, error) {
	return service.applyToProduct(ctx, id, func(p *model.Product) error {
		if err := fulfillment.Check(*p, target); err != nil {
			return err
		}
		p.Data.Status = target
		return nil
	})
}
