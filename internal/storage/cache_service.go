package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/inventory-importer/internal/errors"
)

// CacheService owns the company-scoped cache keyspace shared with the
// dashboard services. Keys look like <prefix>:company:<id>:<part>:...
type CacheService struct {
	redis  *RedisCache
	prefix string
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, prefix string) *CacheService {
	if prefix == "" {
		prefix = "inv"
	}
	return &CacheService{redis: redis, prefix: prefix}
}

// CompanyKey builds a key inside a company's namespace
func (c *CacheService) CompanyKey(companyID string, parts ...string) string {
	all := append([]string{c.prefix, "company", companyID}, parts...)
	return strings.Join(all, ":")
}

// versionKey lives outside the company namespace so invalidation does not delete it
func (c *CacheService) versionKey(companyID string) string {
	return fmt.Sprintf("%s:version:company:%s", c.prefix, companyID)
}

// InvalidateCompany drops every cached entry of a company and bumps its
// version so readers holding an old version treat their copy as stale.
// It returns the number of keys removed.
func (c *CacheService) InvalidateCompany(ctx context.Context, companyID string) (int, error) {
	if companyID == "" {
		return 0, fmt.Errorf("company id is required")
	}

	keys, err := c.redis.ScanKeys(ctx, c.CompanyKey(companyID, "*"))
	if err != nil {
		return 0, apperrors.NewCacheError("scan company keys", err)
	}

	for start := 0; start < len(keys); start += 500 {
		end := start + 500
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.redis.Del(ctx, keys[start:end]...); err != nil {
			return start, apperrors.NewCacheError("delete company keys", err)
		}
	}

	if _, err := c.redis.Incr(ctx, c.versionKey(companyID)); err != nil {
		return len(keys), apperrors.NewCacheError("bump company cache version", err)
	}

	return len(keys), nil
}

// Version returns the company's cache version, zero when never invalidated
func (c *CacheService) Version(ctx context.Context, companyID string) (int64, error) {
	v, err := c.redis.Client().Get(ctx, c.versionKey(companyID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.NewCacheError("read company cache version", err)
	}
	return v, nil
}
