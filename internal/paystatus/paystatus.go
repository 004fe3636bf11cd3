// Package paystatus - автомат статусов оплаты заказа.
package paystatus

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/encargos/internal/model"
)

var (
	ErrIllegalTransition = errors.New("illegal transition")
)

// Разрешенные переходы. cancelado - конечный
var transitions = map[model.PayStatus][]model.PayStatus{
	model.PayStatusNoPagado:  {model.PayStatusPendiente, model.PayStatusParcial, model.PayStatusPagado, model.PayStatusCancelado},
	model.PayStatusPendiente: {model.PayStatusParcial, model.PayStatusPagado, model.PayStatusCancelado},
	model.PayStatusParcial:   {model.PayStatusPagado, model.PayStatusCancelado},
	model.PayStatusPagado:    {model.PayStatusCancelado},
	model.PayStatusCancelado: {},
}

// CanTransition - разрешен ли переход. Переход в тот же статус не считается
// переходом и разрешен для всех статусов кроме cancelado.
func CanTransition(from, to model.PayStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return from != model.PayStatusCancelado
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Derive - статус по покрытию и стоимости
func Derive(covered, orderCost decimal.Decimal) model.PayStatus {
	switch {
	case !covered.IsPositive():
		return model.PayStatusNoPagado
	case covered.LessThan(orderCost):
		return model.PayStatusParcial
	case orderCost.IsPositive():
		return model.PayStatusPagado
	default:
		// нулевая стоимость: платить нечего, статус оплатой не выводится
		return model.PayStatusNoPagado
	}
}

// Machine хранит текущий статус оплаты одного заказа
type Machine struct {
	status model.PayStatus
}

func NewMachine(status model.PayStatus) *Machine {
	if status == "" {
		status = model.PayStatusNoPagado
	}
	return &Machine{status: status}
}

func (m *Machine) Status() model.PayStatus {
	return m.status
}

// Transition переводит в новый статус. При ошибке статус не меняется
func (m *Machine) Transition(to model.PayStatus) error {
	if !CanTransition(m.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.status, to)
	}
	m.status = to
	return nil
}

// Settle выставляет статус по результату расчета.
// force - ручное «pagado» независимо от покрытия (оплата вне системы).
func (m *Machine) Settle(covered, orderCost decimal.Decimal, force bool) error {
	target := Derive(covered, orderCost)
	if force {
		target = model.PayStatusPagado
	}
	return m.Transition(target)
}

// Cancel - отмена заказа
func (m *Machine) Cancel() error {
	return m.Transition(model.PayStatusCancelado)
}
