package tracker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedFetcher_Range(t *testing.T) {
	f := NewSimulatedFetcher(0, 42)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		price, err := f.Fetch(ctx, uuid.New())
		require.NoError(t, err)
		assert.True(t, price.GreaterThanOrEqual(minFetchedPrice), "price %s below range", price)
		assert.True(t, price.LessThanOrEqual(maxFetchedPrice), "price %s above range", price)
		assert.LessOrEqual(t, -price.Exponent(), int32(priceScale))
	}
}

func TestSimulatedFetcher_FailureRate(t *testing.T) {
	ctx := context.Background()

	always := NewSimulatedFetcher(1, 7)
	for i := 0; i < 20; i++ {
		_, err := always.Fetch(ctx, uuid.New())
		require.ErrorIs(t, err, ErrFetchFailed)
	}

	clamped := NewSimulatedFetcher(3.5, 7)
	_, err := clamped.Fetch(ctx, uuid.New())
	require.ErrorIs(t, err, ErrFetchFailed)

	never := NewSimulatedFetcher(-1, 7)
	for i := 0; i < 20; i++ {
		_, err := never.Fetch(ctx, uuid.New())
		require.NoError(t, err)
	}
}

func TestSimulatedFetcher_Deterministic(t *testing.T) {
	a := NewSimulatedFetcher(0.3, 99)
	b := NewSimulatedFetcher(0.3, 99)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		pa, errA := a.Fetch(ctx, uuid.Nil)
		pb, errB := b.Fetch(ctx, uuid.Nil)
		assert.Equal(t, errA, errB)
		assert.True(t, pa.Equal(pb))
	}
}
