package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	mu       sync.Mutex
	products map[int64]Product
	calls    int
}

func (r *countingRepo) GetProduct(ctx context.Context, productID int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	p, ok := r.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *countingRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestService(t *testing.T, repo *countingRepo) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, client, time.Minute, nil), mr
}

func TestGetProductCachesResult(t *testing.T) {
	repo := &countingRepo{products: map[int64]Product{
		7: {ID: 7, SKU: "SKU-7", Name: "Espresso Cup", Active: true},
	}}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	first, err := svc.GetProduct(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Espresso Cup", first.Name)

	second, err := svc.GetProduct(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.callCount())
}

func TestGetProductCachesNotFound(t *testing.T) {
	repo := &countingRepo{products: map[int64]Product{}}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.GetProduct(ctx, 99)
	require.ErrorIs(t, err, ErrProductNotFound)
	_, err = svc.GetProduct(ctx, 99)
	require.ErrorIs(t, err, ErrProductNotFound)
	require.Equal(t, 1, repo.callCount())
}

func TestInvalidateForcesReload(t *testing.T) {
	repo := &countingRepo{products: map[int64]Product{
		7: {ID: 7, SKU: "SKU-7", Name: "Espresso Cup", Active: true},
	}}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.GetProduct(ctx, 7)
	require.NoError(t, err)

	repo.mu.Lock()
	repo.products[7] = Product{ID: 7, SKU: "SKU-7", Name: "Espresso Cup v2", Active: true}
	repo.mu.Unlock()

	require.NoError(t, svc.Invalidate(ctx, 7))
	reloaded, err := svc.GetProduct(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Espresso Cup v2", reloaded.Name)
	require.Equal(t, 2, repo.callCount())
}

func TestExistsReflectsActiveFlag(t *testing.T) {
	repo := &countingRepo{products: map[int64]Product{
		1: {ID: 1, SKU: "SKU-1", Name: "Active", Active: true},
		2: {ID: 2, SKU: "SKU-2", Name: "Discontinued", Active: false},
	}}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	ok, err := svc.Exists(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.Exists(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Exists(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetProductWithoutCacheClient(t *testing.T) {
	repo := &countingRepo{products: map[int64]Product{
		7: {ID: 7, SKU: "SKU-7", Name: "Espresso Cup", Active: true},
	}}
	svc := NewService(repo, nil, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.GetProduct(ctx, 7)
	require.NoError(t, err)
	_, err = svc.GetProduct(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 2, repo.callCount())
}
