package ledger

import (
	"math"
	"testing"

	"github.com/iurnickita/encargos/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProduct(requested int) *model.Product {
	return &model.Product{ID: 1, Data: model.ProductData{Requested: requested}}
}

func TestLedgerSequence(t *testing.T) {
	product := newProduct(12)

	require.NoError(t, RecordPurchase(product, 8))
	require.NoError(t, RecordReceipt(product, 5))
	require.NoError(t, RecordDelivery(product, 5))
	assert.Equal(t, model.StatusRecibido, DerivedStatus(*product))

	// 5 + 6 > 5 полученных
	err := RecordDelivery(product, 6)
	require.ErrorIs(t, err, ErrQuantityExceeded)
	assert.Equal(t, 5, product.Data.Delivered)
}

func TestLedgerRejects(t *testing.T) {
	tests := []struct {
		name  string
		event model.QuantityEvent
		err   error
	}{
		{"purchase over requested", model.QuantityEvent{Stage: model.StagePurchase, Delta: 5}, ErrQuantityExceeded},
		{"receipt over purchased", model.QuantityEvent{Stage: model.StageReceipt, Delta: 3}, ErrQuantityExceeded},
		{"delivery over received", model.QuantityEvent{Stage: model.StageDelivery, Delta: 2}, ErrQuantityExceeded},
		{"purchase near int limit", model.QuantityEvent{Stage: model.StagePurchase, Delta: math.MaxInt}, ErrQuantityExceeded},
		{"receipt near int limit", model.QuantityEvent{Stage: model.StageReceipt, Delta: math.MaxInt}, ErrQuantityExceeded},
		{"delivery near int limit", model.QuantityEvent{Stage: model.StageDelivery, Delta: math.MaxInt}, ErrQuantityExceeded},
		{"negative delta", model.QuantityEvent{Stage: model.StagePurchase, Delta: -1}, ErrInvalidQuantity},
		{"unknown stage", model.QuantityEvent{Stage: "refund", Delta: 1}, ErrUnknownStage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product := newProduct(4)
			product.Data.Purchased = 2
			product.Data.Received = 1
			before := *product

			err := Apply(product, tt.event)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, before, *product)
		})
	}
}

func TestDerivedStatus(t *testing.T) {
	tests := []struct {
		name string
		data model.ProductData
		want model.Status
	}{
		{"nothing yet", model.ProductData{Requested: 3}, model.StatusEncargado},
		{"zero requested", model.ProductData{}, model.StatusEncargado},
		{"purchased", model.ProductData{Requested: 3, Purchased: 1}, model.StatusComprado},
		{"received", model.ProductData{Requested: 3, Purchased: 3, Received: 2}, model.StatusRecibido},
		{"partially delivered", model.ProductData{Requested: 3, Purchased: 3, Received: 3, Delivered: 2}, model.StatusRecibido},
		{"fully delivered", model.ProductData{Requested: 3, Purchased: 3, Received: 3, Delivered: 3}, model.StatusCompletado},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivedStatus(model.Product{Data: tt.data}))
		})
	}
}

func TestLedgerKeepsInvariant(t *testing.T) {
	events := []model.QuantityEvent{
		{Stage: model.StageDelivery, Delta: 1},
		{Stage: model.StagePurchase, Delta: 3},
		{Stage: model.StageReceipt, Delta: 4},
		{Stage: model.StageReceipt, Delta: 2},
		{Stage: model.StageDelivery, Delta: 2},
		{Stage: model.StagePurchase, Delta: 3},
		{Stage: model.StageReceipt, Delta: 4},
		{Stage: model.StageDelivery, Delta: 4},
		{Stage: model.StagePurchase, Delta: 1},
	}

	product := newProduct(6)
	for _, event := range events {
		_ = Apply(product, event)
		require.NoError(t, Validate(*product))
	}
	assert.Equal(t, 6, product.Data.Delivered)
	assert.Equal(t, model.StatusCompletado, DerivedStatus(*product))
}
