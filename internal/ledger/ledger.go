// Package ledger ведет количества товара по этапам: заказано, куплено,
// получено, доставлено. Всегда 0 <= delivered <= received <= purchased <= requested.
package ledger

import (
	"errors"
	"fmt"

	"github.com/iurnickita/encargos/internal/model"
)

var (
	ErrQuantityExceeded = errors.New("quantity exceeded")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrUnknownStage     = errors.New("unknown stage")
)

// RecordPurchase добавляет купленное количество
func RecordPurchase(product *model.Product, qty int) error {
	if err := checkDelta(qty); err != nil {
		return err
	}
	if qty > product.Data.Requested-product.Data.Purchased {
		return fmt.Errorf("%w: purchased %d+%d over requested %d",
			ErrQuantityExceeded, product.Data.Purchased, qty, product.Data.Requested)
	}
	product.Data.Purchased += qty
	return nil
}

// RecordReceipt добавляет полученное количество
func RecordReceipt(product *model.Product, qty int) error {
	if err := checkDelta(qty); err != nil {
		return err
	}
	if qty > product.Data.Purchased-product.Data.Received {
		return fmt.Errorf("%w: received %d+%d over purchased %d",
			ErrQuantityExceeded, product.Data.Received, qty, product.Data.Purchased)
	}
	product.Data.Received += qty
	return nil
}

// RecordDelivery добавляет доставленное количество
func RecordDelivery(product *model.Product, qty int) error {
	if err := checkDelta(qty); err != nil {
		return err
	}
	if qty > product.Data.Received-product.Data.Delivered {
		return fmt.Errorf("%w: delivered %d+%d over received %d",
			ErrQuantityExceeded, product.Data.Delivered, qty, product.Data.Received)
	}
	product.Data.Delivered += qty
	return nil
}

// Apply применяет событие к товару. Дедупликации нет: повторное событие
// будет применено повторно.
func Apply(product *model.Product, event model.QuantityEvent) error {
	switch event.Stage {
	case model.StagePurchase:
		return RecordPurchase(product, event.Delta)
	case model.StageReceipt:
		return RecordReceipt(product, event.Delta)
	case model.StageDelivery:
		return RecordDelivery(product, event.Delta)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStage, event.Stage)
	}
}

// DerivedStatus - статус, который следует из количеств
func DerivedStatus(product model.Product) model.Status {
	d := product.Data
	switch {
	case d.Requested > 0 && d.Delivered == d.Requested:
		return model.StatusCompletado
	case d.Received > 0:
		return model.StatusRecibido
	case d.Purchased > 0:
		return model.StatusComprado
	default:
		return model.StatusEncargado
	}
}

// FullyDelivered - доставлено все заказанное
func FullyDelivered(product model.Product) bool {
	return product.Data.Requested > 0 && product.Data.Delivered == product.Data.Requested
}

// Validate проверяет инвариант количеств
func Validate(product model.Product) error {
	d := product.Data
	if d.Delivered < 0 || d.Requested < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidQuantity)
	}
	if d.Delivered > d.Received || d.Received > d.Purchased || d.Purchased > d.Requested {
		return fmt.Errorf("%w: delivered %d, received %d, purchased %d, requested %d",
			ErrQuantityExceeded, d.Delivered, d.Received, d.Purchased, d.Requested)
	}
	return nil
}

func checkDelta(qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return nil
}
