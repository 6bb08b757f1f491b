package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts product reads for the service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, productID int64) (Product, error)
}

// DefaultCacheTTL bounds how stale a cached product may be.
const DefaultCacheTTL = 5 * time.Minute

// negativeMarker caches "not found" so repeated lookups of bogus ids do
// not hammer the database.
const negativeMarker = "!"

// Service is a read-through product cache. Concurrent lookups of the same
// product are collapsed into one database round trip.
type Service struct {
	repo   RepositoryPort
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewService builds Service. client may be nil, which disables caching.
func NewService(repo RepositoryPort, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, client: client, ttl: ttl, logger: logger}
}

// GetProduct returns the product, from cache when possible.
func (s *Service) GetProduct(ctx context.Context, productID int64) (Product, error) {
	key := cacheKey(productID)
	if p, err, ok := s.cached(ctx, key); ok {
		return p, err
	}

	value, err, _ := s.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent loader may have filled
		// the key while this call waited.
		if p, err, ok := s.cached(ctx, key); ok {
			if err != nil {
				return Product{}, err
			}
			return p, nil
		}
		p, err := s.repo.GetProduct(ctx, productID)
		if errors.Is(err, ErrProductNotFound) {
			s.store(ctx, key, []byte(negativeMarker))
			return Product{}, err
		}
		if err != nil {
			return Product{}, err
		}
		raw, merr := json.Marshal(p)
		if merr == nil {
			s.store(ctx, key, raw)
		}
		return p, nil
	})
	if err != nil {
		return Product{}, err
	}
	return value.(Product), nil
}

// Exists reports whether the product id is known and active.
func (s *Service) Exists(ctx context.Context, productID int64) (bool, error) {
	p, err := s.GetProduct(ctx, productID)
	if errors.Is(err, ErrProductNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Active, nil
}

// Invalidate drops the cached entry, used when the owning system signals a
// product change.
func (s *Service) Invalidate(ctx context.Context, productID int64) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, cacheKey(productID)).Err()
}

// cached returns the cache hit if any. The third result reports whether
// the key was present; cache transport errors are logged and treated as a
// miss.
func (s *Service) cached(ctx context.Context, key string) (Product, error, bool) {
	if s.client == nil {
		return Product{}, nil, false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("catalog cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return Product{}, nil, false
	}
	if string(raw) == negativeMarker {
		return Product{}, ErrProductNotFound, true
	}
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("catalog cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		return Product{}, nil, false
	}
	return p, nil, true
}

func (s *Service) store(ctx context.Context, key string, raw []byte) {
	if s.client == nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("catalog cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func cacheKey(productID int64) string {
	return fmt.Sprintf("catalog:product:%d", productID)
}
