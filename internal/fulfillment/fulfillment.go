// Package fulfillment проверяет, можно ли перевести товар в новый статус,
// исходя из количеств по этапам.
package fulfillment

import (
	"errors"
	"fmt"

	"github.com/iurnickita/encargos/internal/ledger"
	"github.com/iurnickita/encargos/internal/model"
)

var (
	ErrGateViolation = errors.New("status gate violation")
	ErrUnknownStatus = errors.New("unknown status")
)

// Check возвращает ошибку с причиной, если переход запрещен.
// Ничего не исправляет - решение за вызывающим.
func Check(product model.Product, target model.Status) error {
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	d := product.Data
	if d.Status == model.StatusCancelado && target != model.StatusCancelado {
		return fmt.Errorf("%w: product %d is cancelled", ErrGateViolation, product.ID)
	}
	// назад по этапам не двигаем
	if target != model.StatusCancelado && target.Rank() < d.Status.Rank() {
		return fmt.Errorf("%w: %s is behind %s", ErrGateViolation, target, d.Status)
	}

	switch target {
	case model.StatusEntregado, model.StatusCompletado:
		if !ledger.FullyDelivered(product) {
			return fmt.Errorf("%w: %s needs full delivery, delivered %d of %d",
				ErrGateViolation, target, d.Delivered, d.Requested)
		}
	case model.StatusRecibido:
		if d.Received <= 0 {
			return fmt.Errorf("%w: %s needs received amount", ErrGateViolation, target)
		}
	case model.StatusComprado, model.StatusEnTransito:
		if d.Purchased <= 0 {
			return fmt.Errorf("%w: %s needs purchased amount", ErrGateViolation, target)
		}
	case model.StatusCancelado:
		if d.Status == model.StatusCompletado {
			return fmt.Errorf("%w: product %d is completed", ErrGateViolation, product.ID)
		}
	}
	return nil
}

// CanAdvanceTo - разрешен ли перевод товара в статус
func CanAdvanceTo(product model.Product, target model.Status) bool {
	return Check(product, target) == nil
}

// AutoAdvance - статус после события по количествам: выведенный статус,
// если он дальше текущего и проходит проверку. Отмененный товар не трогаем.
func AutoAdvance(product model.Product) model.Status {
	current := product.Data.Status
	if current == model.StatusCancelado {
		return current
	}
	derived := ledger.DerivedStatus(product)
	if derived.Rank() > current.Rank() && CanAdvanceTo(product, derived) {
		return derived
	}
	return current
}

// OrderStatus - статус заказа по его товарам: самый ранний этап среди
// неотмененных товаров. Все отменены - заказ отменен.
func OrderStatus(products []model.Product) model.Status {
	if len(products) == 0 {
		return model.StatusEncargado
	}
	var (
		status model.Status
		found  bool
	)
	for _, product := range products {
		s := product.Data.Status
		if s == model.StatusCancelado {
			continue
		}
		if !found || s.Rank() < status.Rank() {
			status = s
			found = true
		}
	}
	if !found {
		return model.StatusCancelado
	}
	return status
}
