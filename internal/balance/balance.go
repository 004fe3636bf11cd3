// Package balance отдает снимок баланса клиента: остаток кредита (surplus)
// и общую позицию по всем заказам.
package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/encargos/internal/model"
)

var (
	ErrBalanceUnavailable = errors.New("balance unavailable")
)

// Source - источник баланса. Реализации: журнал в базе и внешний отчет
type Source interface {
	Get(ctx context.Context, client string) (model.ClientBalance, error)
}

type Balance interface {
	Source
	GetHistory(ctx context.Context, client string) ([]model.Balance, error)
}

// Store - часть хранилища, нужная балансу
type Store interface {
	BalanceGetActual(ctx context.Context, client string) (model.Balance, error)
	BalanceGetHistory(ctx context.Context, client string) ([]model.Balance, error)
	BalanceOutstanding(ctx context.Context, client string) (decimal.Decimal, error)
}

type balance struct {
	store Store
}

func NewBalance(store Store) Balance {
	return &balance{store: store}
}

// Get: surplus - последняя запись журнала, total - surplus минус долг по неотмененным заказам
func (balance *balance) Get(ctx context.Context, client string) (model.ClientBalance, error) {
	actual, err := balance.store.BalanceGetActual(ctx, client)
	if err != nil {
		return model.ClientBalance{}, err
	}
	outstanding, err := balance.store.BalanceOutstanding(ctx, client)
	if err != nil {
		return model.ClientBalance{}, err
	}
	return model.ClientBalance{
		Client:    client,
		Surplus:   actual.Data.Balance,
		Total:     actual.Data.Balance.Sub(outstanding),
		Available: true,
	}, nil
}

func (balance *balance) GetHistory(ctx context.Context, client string) ([]model.Balance, error) {
	return balance.store.BalanceGetHistory(ctx, client)
}

// Snapshot читает баланс и никогда не падает: при ошибке источника
// возвращает нулевой кредит с Available=false и ошибку для лога.
func Snapshot(ctx context.Context, src Source, client string) (model.ClientBalance, error) {
	b, err := src.Get(ctx, client)
	if err != nil {
		return model.ClientBalance{Client: client}, fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	}
	b.Client = client
	b.Available = true
	return b, nil
}
