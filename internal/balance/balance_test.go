package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/encargos/internal/model"
)

type fakeStore struct {
	actual      decimal.Decimal
	outstanding decimal.Decimal
	err         error
}

func (s fakeStore) BalanceGetActual(_ context.Context, client string) (model.Balance, error) {
	return model.Balance{Key: model.BalanceKey{Client: client}, Data: model.BalanceData{Balance: s.actual}}, s.err
}

func (s fakeStore) BalanceGetHistory(_ context.Context, _ string) ([]model.Balance, error) {
	return nil, s.err
}

func (s fakeStore) BalanceOutstanding(_ context.Context, _ string) (decimal.Decimal, error) {
	return s.outstanding, s.err
}

func TestBalanceGet(t *testing.T) {
	b := NewBalance(fakeStore{actual: decimal.NewFromInt(300), outstanding: decimal.NewFromInt(500)})

	cb, err := b.Get(context.Background(), "C1")
	require.NoError(t, err)
	require.True(t, cb.Surplus.Equal(decimal.NewFromInt(300)))
	require.True(t, cb.Total.Equal(decimal.NewFromInt(-200)))
	require.True(t, cb.Available)
}

func TestSnapshotFallback(t *testing.T) {
	b := NewBalance(fakeStore{actual: decimal.NewFromInt(300), err: errors.New("connection refused")})

	cb, err := Snapshot(context.Background(), b, "C1")
	require.ErrorIs(t, err, ErrBalanceUnavailable)
	require.False(t, cb.Available)
	require.True(t, cb.Surplus.IsZero())
	require.Equal(t, "C1", cb.Client)
}
