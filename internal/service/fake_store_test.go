package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/encargos/internal/model"
	"github.com/iurnickita/encargos/internal/store"
)

// memStore - хранилище в памяти с той же семантикой ошибок, что и store
type memStore struct {
	orders   map[string]model.Order
	payments map[string]model.Payment
	journal  map[string][]model.Balance
	nextID   int64
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[string]model.Order{},
		payments: map[string]model.Payment{},
		journal:  map[string][]model.Balance{},
	}
}

func copyOrder(o model.Order) model.Order {
	o.Data.Products = append([]model.Product(nil), o.Data.Products...)
	return o
}

func (s *memStore) AuthRegister(context.Context, string, string) (string, error) {
	return "1", nil
}

func (s *memStore) AuthLogin(context.Context, string) (string, string, error) {
	return "", "", store.ErrNoRows
}

func (s *memStore) BalanceGetActual(_ context.Context, client string) (model.Balance, error) {
	rows := s.journal[client]
	if len(rows) == 0 {
		return model.Balance{Key: model.BalanceKey{Client: client}}, nil
	}
	return rows[len(rows)-1], nil
}

func (s *memStore) BalanceGetHistory(_ context.Context, client string) ([]model.Balance, error) {
	return s.journal[client], nil
}

func (s *memStore) BalanceOutstanding(_ context.Context, client string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range s.orders {
		if o.Data.Client == client && o.Data.PayStatus != model.PayStatusCancelado {
			total = total.Add(o.Outstanding())
		}
	}
	return total, nil
}

func (s *memStore) appendBalance(client, order string, delta decimal.Decimal) {
	actual, _ := s.BalanceGetActual(context.Background(), client)
	s.journal[client] = append(s.journal[client], model.Balance{
		Key: model.BalanceKey{Client: client, Operation: int64(len(s.journal[client]) + 1)},
		Data: model.BalanceData{
			Timestamp:  time.Now(),
			Difference: delta,
			Balance:    actual.Data.Balance.Add(delta),
			Order:      order,
		},
	})
}

func (s *memStore) OrderPost(_ context.Context, order model.Order) (model.Order, error) {
	if existing, ok := s.orders[order.Number]; ok {
		if existing.Data.Client != order.Data.Client {
			return model.Order{}, store.ErrAlreadyExists
		}
		return model.Order{}, store.ErrDuplicateRequest
	}
	order = copyOrder(order)
	for i := range order.Data.Products {
		s.nextID++
		order.Data.Products[i].ID = s.nextID
		order.Data.Products[i].Data.Order = order.Number
	}
	s.orders[order.Number] = order
	return copyOrder(order), nil
}

func (s *memStore) OrderGet(_ context.Context, number string) (model.Order, error) {
	order, ok := s.orders[number]
	if !ok {
		return model.Order{}, store.ErrNoRows
	}
	return copyOrder(order), nil
}

func (s *memStore) OrderList(_ context.Context, client string) ([]model.Order, error) {
	var orders []model.Order
	for _, o := range s.orders {
		if o.Data.Client == client {
			orders = append(orders, copyOrder(o))
		}
	}
	return orders, nil
}

func (s *memStore) OrderSettle(_ context.Context, upd store.SettleUpdate) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if _, ok := s.payments[upd.Payment.Key]; ok {
		return store.ErrDuplicateRequest
	}
	order, ok := s.orders[upd.Payment.Data.Order]
	if !ok || !order.Data.Received.Equal(upd.ExpectedReceived) || order.Data.PayStatus != upd.ExpectedPayStatus {
		return store.ErrStale
	}
	s.payments[upd.Payment.Key] = upd.Payment
	order.Data.Received = upd.Received
	order.Data.PayStatus = upd.PayStatus
	order.Data.PaidAt = upd.Payment.Data.PaidAt
	s.orders[order.Number] = order
	if !upd.BalanceDelta.IsZero() {
		s.appendBalance(upd.Client, order.Number, upd.BalanceDelta)
	}
	return nil
}

func (s *memStore) OrderApply(_ context.Context, number string, fn func(order *model.Order) error) (model.Order, error) {
	order, ok := s.orders[number]
	if !ok {
		return model.Order{}, store.ErrNoRows
	}
	order = copyOrder(order)
	if err := fn(&order); err != nil {
		return model.Order{}, err
	}
	s.orders[number] = order
	return copyOrder(order), nil
}

func (s *memStore) ProductGet(_ context.Context, id int64) (model.Product, error) {
	for _, o := range s.orders {
		for _, p := range o.Data.Products {
			if p.ID == id {
				return p, nil
			}
		}
	}
	return model.Product{}, store.ErrNoRows
}
