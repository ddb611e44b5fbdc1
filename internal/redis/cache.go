package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rental/internal/domain"
	"rental/internal/repository"
)

const assetCachePrefix = "cache:asset:"

// cachedAsset is the JSON form of an asset in Redis. Decimals encode as strings.
type cachedAsset struct {
	ID            string              `json:"id"`
	ProviderID    string              `json:"provider_id"`
	Status        string              `json:"status"`
	PricePerHour  decimal.NullDecimal `json:"price_per_hour"`
	PricePerDay   decimal.Decimal     `json:"price_per_day"`
	PricePerWeek  decimal.Decimal     `json:"price_per_week"`
	PricePerMonth decimal.Decimal     `json:"price_per_month"`
}

func toCached(a *domain.Asset) cachedAsset {
	return cachedAsset{
		ID:            a.ID,
		ProviderID:    a.ProviderID,
		Status:        string(a.Status),
		PricePerHour:  a.RateCard.PricePerHour,
		PricePerDay:   a.RateCard.PricePerDay,
		PricePerWeek:  a.RateCard.PricePerWeek,
		PricePerMonth: a.RateCard.PricePerMonth,
	}
}

func (c cachedAsset) asset() *domain.Asset {
	return &domain.Asset{
		ID:         c.ID,
		ProviderID: c.ProviderID,
		Status:     domain.AssetStatus(c.Status),
		RateCard: domain.RateCard{
			PricePerHour:  c.PricePerHour,
			PricePerDay:   c.PricePerDay,
			PricePerWeek:  c.PricePerWeek,
			PricePerMonth: c.PricePerMonth,
		},
	}
}

// CatalogCache is a read-through Redis cache in front of the asset catalog.
// Redis failures fall through to the catalog.
type CatalogCache struct {
	client *redis.Client
	next   repository.AssetRepository
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCatalogCache creates a new CatalogCache.
func NewCatalogCache(client *redis.Client, next repository.AssetRepository, ttl time.Duration, log zerolog.Logger) *CatalogCache {
	return &CatalogCache{client: client, next: next, ttl: ttl, log: log}
}

// GetByID returns the cached asset or loads and caches it.
func (c *CatalogCache) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	key := assetCachePrefix + id

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedAsset
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.asset(), nil
		}
		c.log.Warn().Str("asset_id", id).Msg("dropping undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("asset_id", id).Msg("catalog cache read failed")
	}

	asset, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(toCached(asset)); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("asset_id", id).Msg("catalog cache write failed")
		}
	}
	return asset, nil
}

// Invalidate removes an asset from cache.
func (c *CatalogCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, assetCachePrefix+id).Err()
}
