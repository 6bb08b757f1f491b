package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAvailability(t *testing.T) {
	repo := newMemoryRepo()
	query := NewQueryService(repo)
	ctx := context.Background()
	seedRecord(t, repo, InventoryRecord{ProductID: 1, CurrentStock: 10, ReservedStock: 3})
	seedRecord(t, repo, InventoryRecord{ProductID: 2, CurrentStock: 5})

	result, err := query.CheckAvailability(ctx, []ItemRequest{
		{ProductID: 1, Quantity: 7},
		{ProductID: 2, Quantity: 5},
	})
	require.NoError(t, err)
	require.True(t, result.Available)
	require.Empty(t, result.Shortfalls)

	result, err = query.CheckAvailability(ctx, []ItemRequest{
		{ProductID: 1, Quantity: 8},
		{ProductID: 2, Quantity: 2},
	})
	require.NoError(t, err)
	require.False(t, result.Available)
	require.Len(t, result.Shortfalls, 1)
	require.EqualValues(t, 1, result.Shortfalls[0].ProductID)
	require.EqualValues(t, 8, result.Shortfalls[0].Requested)
	require.EqualValues(t, 7, result.Shortfalls[0].Available)
}

func TestCheckAvailabilityAggregatesDuplicateItems(t *testing.T) {
	repo := newMemoryRepo()
	query := NewQueryService(repo)
	seedRecord(t, repo, InventoryRecord{ProductID: 1, CurrentStock: 5})

	result, err := query.CheckAvailability(context.Background(), []ItemRequest{
		{ProductID: 1, Quantity: 3},
		{ProductID: 1, Quantity: 3},
	})
	require.NoError(t, err)
	require.False(t, result.Available)
	require.EqualValues(t, 6, result.Shortfalls[0].Requested)
}

func TestCheckAvailabilityUnknownProduct(t *testing.T) {
	repo := newMemoryRepo()
	query := NewQueryService(repo)

	result, err := query.CheckAvailability(context.Background(), []ItemRequest{
		{ProductID: 42, Quantity: 1},
	})
	require.NoError(t, err)
	require.False(t, result.Available)
	require.EqualValues(t, 0, result.Shortfalls[0].Available)
}

func TestCheckAvailabilityValidation(t *testing.T) {
	repo := newMemoryRepo()
	query := NewQueryService(repo)

	_, err := query.CheckAvailability(context.Background(), nil)
	require.Error(t, err)

	_, err = query.CheckAvailability(context.Background(), []ItemRequest{{ProductID: 1, Quantity: 0}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}
