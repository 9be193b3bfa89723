package cache

import (
	"context"
	"time"

	"poscore/backend/internal/domain"
)

// CatalogCache holds read-only item profiles in front of the catalog lookup.
type CatalogCache interface {
	Get(ctx context.Context, itemID string) (*domain.Item, bool, error)
	Set(ctx context.Context, item domain.Item, ttl time.Duration) error
	Invalidate(ctx context.Context, itemID string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ domain.Item, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
