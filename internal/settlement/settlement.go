// Package settlement рассчитывает расчет по заказу: сколько покрывает платеж
// наличными вместе с кредитом клиента, сколько остается, какая переплата
// и каким становится баланс клиента.
package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
)

// Input - одна попытка оплаты
type Input struct {
	OrderCost     decimal.Decimal // остаток к оплате по заказу
	Cash          decimal.Decimal
	ApplyCredit   bool
	ClientSurplus decimal.Decimal
}

// Result - результат расчета. В базу не пишется целиком
type Result struct {
	OrderCost        decimal.Decimal `json:"order_cost"`
	PaidCash         decimal.Decimal `json:"amount_paid_cash"`
	AppliedCredit    decimal.Decimal `json:"amount_applied_from_credit"`
	Covered          decimal.Decimal `json:"amount_covered"`
	Pending          decimal.Decimal `json:"amount_pending"`
	Overpaid         decimal.Decimal `json:"amount_overpaid"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
}

// OrderCost - остаток по заказу: total_cost - received, не меньше нуля
func OrderCost(totalCost, received decimal.Decimal) decimal.Decimal {
	return floor(totalCost.Sub(received))
}

// Calculate выполняет расчет. Отрицательная сумма наличных отклоняется до расчета.
func Calculate(in Input) (Result, error) {
	if in.Cash.IsNegative() {
		return Result{}, fmt.Errorf("%w: cash %s", ErrInvalidAmount, in.Cash)
	}
	if in.OrderCost.IsNegative() {
		return Result{}, fmt.Errorf("%w: order cost %s", ErrInvalidAmount, in.OrderCost)
	}

	cost := in.OrderCost
	surplus := floor(in.ClientSurplus)

	credit := decimal.Zero
	if in.ApplyCredit {
		credit = decimal.Min(surplus, cost)
	}
	covered := in.Cash.Add(credit)
	shortfall := floor(cost.Sub(covered))
	overpay := floor(covered.Sub(cost))
	// заказ уже оплачен: покрывать нечего, весь платеж - переплата
	if cost.IsZero() {
		covered = decimal.Zero
		shortfall = decimal.Zero
		overpay = in.Cash
	}

	remaining := surplus
	if in.ApplyCredit {
		remaining = floor(surplus.Sub(credit))
	}
	// недоплата уменьшает баланс только если кредит не применялся
	resulting := remaining.Add(overpay)
	if !in.ApplyCredit {
		resulting = resulting.Sub(shortfall)
	}

	return Result{
		OrderCost:        cost,
		PaidCash:         in.Cash,
		AppliedCredit:    credit,
		Covered:          covered,
		Pending:          shortfall,
		Overpaid:         overpay,
		ResultingBalance: resulting,
	}, nil
}

// BalanceDelta - изменение кредита клиента в журнале относительно снимка.
// Недоплата в журнал не пишется: долг остается в заказе и уходит
// по мере оплаты, total_balance учитывает его через остаток заказа.
func (r Result) BalanceDelta(in Input) decimal.Decimal {
	credit := r.ResultingBalance
	if !in.ApplyCredit {
		credit = credit.Add(r.Pending)
	}
	return credit.Sub(floor(in.ClientSurplus))
}

// Applied - часть покрытия, которая идет в счет заказа (без переплаты)
func (r Result) Applied() decimal.Decimal {
	return decimal.Min(r.Covered, r.OrderCost)
}

func floor(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
