package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Заказы клиентов

type Order struct {
	Number string
	Data   OrderData
}
type OrderData struct {
	Client    string
	TotalCost decimal.Decimal
	Received  decimal.Decimal // received_value_of_client
	PayStatus PayStatus
	Status    Status
	Products  []Product
	CreatedAt time.Time
	PaidAt    time.Time
}

// Outstanding - сколько еще должен клиент по заказу (не меньше нуля)
func (o Order) Outstanding() decimal.Decimal {
	rest := o.Data.TotalCost.Sub(o.Data.Received)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Товары заказа

type Product struct {
	ID   int64
	Data ProductData
}
type ProductData struct {
	Order     string
	Name      string
	Requested int
	Purchased int
	Received  int
	Delivered int
	Status    Status
}

// Статус оплаты заказа

type PayStatus string

const (
	PayStatusNoPagado  PayStatus = "no_pagado"
	PayStatusPendiente PayStatus = "pendiente"
	PayStatusParcial   PayStatus = "parcial"
	PayStatusPagado    PayStatus = "pagado"
	PayStatusCancelado PayStatus = "cancelado"
)

func (s PayStatus) IsValid() bool {
	switch s {
	case PayStatusNoPagado, PayStatusPendiente, PayStatusParcial, PayStatusPagado, PayStatusCancelado:
		return true
	}
	return false
}

func (s PayStatus) String() string {
	return string(s)
}

// Статус заказа и товара

type Status string

const (
	StatusEncargado  Status = "Encargado"
	StatusProcesando Status = "Procesando"
	StatusComprado   Status = "Comprado"
	StatusRecibido   Status = "Recibido"
	StatusEnTransito Status = "En_transito"
	StatusEntregado  Status = "Entregado"
	StatusCompletado Status = "Completado"
	StatusCancelado  Status = "Cancelado"
)

var statusRank = map[Status]int{
	StatusEncargado:  0,
	StatusProcesando: 1,
	StatusComprado:   2,
	StatusRecibido:   3,
	StatusEnTransito: 4,
	StatusEntregado:  5,
	StatusCompletado: 6,
}

func (s Status) IsValid() bool {
	if s == StatusCancelado {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// Rank - порядковый номер этапа. Для Cancelado и неизвестных статусов -1
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Баланс клиента (снимок из внешнего отчета)

type ClientBalance struct {
	Client    string
	Surplus   decimal.Decimal
	Total     decimal.Decimal
	Available bool
}

// Журнал баланса

type Balance struct {
	Key  BalanceKey
	Data BalanceData
}
type BalanceKey struct {
	Client    string
	Operation int64
}
type BalanceData struct {
	Timestamp  time.Time
	Difference decimal.Decimal
	Balance    decimal.Decimal
	Order      string
}

// Платежи по заказу

type Payment struct {
	Key  string // ключ отправки (idempotency key)
	Data PaymentData
}
type PaymentData struct {
	Order    string
	Cash     decimal.Decimal
	Credit   decimal.Decimal
	Covered  decimal.Decimal
	Pending  decimal.Decimal
	Overpaid decimal.Decimal
	PaidAt   time.Time
}

// События по количествам товара

type Stage string

const (
	StagePurchase Stage = "purchase"
	StageReceipt  Stage = "receipt"
	StageDelivery Stage = "delivery"
)

type QuantityEvent struct {
	ProductID int64
	Stage     Stage
	Delta     int
}
