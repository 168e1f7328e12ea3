package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quantdesk/bar-service/internal/entity"
	"github.com/quantdesk/bar-service/internal/repository"
)

const defaultCacheTTL = 5 * time.Minute

// Store is the read-only timeframe catalog access layer. Reads go through
// an optional Redis cache; the catalog itself is owned externally and this
// service never writes it.
type Store struct {
	repo  *repository.TimeframeRepository
	cache *redis.Client
	ttl   time.Duration
}

// NewStore builds a catalog store. An empty cacheDSN disables caching.
func NewStore(repo *repository.TimeframeRepository, cacheDSN string, ttl time.Duration) (*Store, error) {
	store := &Store{repo: repo, ttl: ttl}
	if store.ttl <= 0 {
		store.ttl = defaultCacheTTL
	}

	if strings.TrimSpace(cacheDSN) != "" {
		options, err := redis.ParseURL(cacheDSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis cache_dsn: %w", err)
		}
		store.cache = redis.NewClient(options)
	}

	return store, nil
}

func (s *Store) List(ctx context.Context, filter entity.TimeframeFilter) ([]entity.Timeframe, error) {
	key := cacheKey(filter)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			var timeframes []entity.Timeframe
			if err := json.Unmarshal([]byte(raw), &timeframes); err == nil {
				return timeframes, nil
			}
			// corrupt cache entry, fall through to the database
		} else if err != redis.Nil {
			logrus.WithError(err).Warn("timeframe cache read failed, falling back to database")
		}
	}

	timeframes, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		payload, err := json.Marshal(timeframes)
		if err == nil {
			if err := s.cache.Set(ctx, key, payload, s.ttl).Err(); err != nil {
				logrus.WithError(err).Warn("timeframe cache write failed")
			}
		}
	}

	return timeframes, nil
}

// Invalidate drops all cached catalog entries.
func (s *Store) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	iter := s.cache.Scan(ctx, 0, "timeframes:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.cache.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *Store) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

func cacheKey(filter entity.TimeframeFilter) string {
	ids := append([]string(nil), filter.IDs...)
	sort.Strings(ids)

	return fmt.Sprintf("timeframes:%s:%s:%t:%s",
		filter.Alignment, filter.WeekConvention, filter.CanonicalOnly, strings.Join(ids, ","))
}
