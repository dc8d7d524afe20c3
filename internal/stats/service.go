package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/FlashLinkLabs/flashlink/internal/flashes"
	"github.com/FlashLinkLabs/flashlink/internal/linkage"
)

const (
	trendingPageSize  = 20
	trendingScanLimit = 200

	cacheNameLeaderboard = "leaderboard"
	cacheNameTrending    = "trending_cities"
)

var (
	errMissingStatsStore    = errors.New("stats: linkage store is required")
	errMissingStatsActivity = errors.New("stats: activity client is required")
	errMissingStatsCache    = errors.New("stats: cache is required")
)

// Store is the slice of the linkage store the aggregation layer reads.
type Store interface {
	AttributionLeaderboard(ctx context.Context, limit int) ([]linkage.LeaderboardRow, error)
}

// ActivityClient pages the external flash catalog for trending aggregation.
type ActivityClient interface {
	List(ctx context.Context, offset, limit int, playerNameFilter string) (flashes.Page, error)
}

// ServiceConfig describes the dependencies of the aggregation layer.
type ServiceConfig struct {
	Store    Store
	Activity ActivityClient
	Cache    *Cache
	Logger   *zap.Logger
}

// Service computes leaderboard and trending-city views behind a TTL cache.
type Service struct {
	store    Store
	activity ActivityClient
	cache    *Cache
	logger   *zap.Logger
}

// NewService constructs the aggregation service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStatsStore
	}
	if cfg.Activity == nil {
		return nil, errMissingStatsActivity
	}
	if cfg.Cache == nil {
		return nil, errMissingStatsCache
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		activity: cfg.Activity,
		cache:    cfg.Cache,
		logger:   logger,
	}, nil
}

// Leaderboard returns the linked users with the most attributed flashes.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]linkage.LeaderboardRow, error) {
	cacheName := fmt.Sprintf("%s:%d", cacheNameLeaderboard, limit)
	if cached, ok := s.cache.Get(cacheName); ok {
		if rows, ok := cached.([]linkage.LeaderboardRow); ok {
			return rows, nil
		}
	}

	rows, err := s.store.AttributionLeaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("stats: compute leaderboard: %w", err)
	}
	s.cache.Put(cacheName, rows)
	return rows, nil
}

// CityCount is one trending-city entry.
type CityCount struct {
	City       string `json:"city"`
	FlashCount int    `json:"flash_count"`
}

// TrendingCities counts location labels over a bounded window of recent
// flashes. The scan is capped so a huge catalog cannot turn a read into an
// unbounded crawl.
func (s *Service) TrendingCities(ctx context.Context, limit int) ([]CityCount, error) {
	cacheName := fmt.Sprintf("%s:%d", cacheNameTrending, limit)
	if cached, ok := s.cache.Get(cacheName); ok {
		if counts, ok := cached.([]CityCount); ok {
			return counts, nil
		}
	}

	counts := make(map[string]int)
	for offset := 0; offset < trendingScanLimit; offset += trendingPageSize {
		page, err := s.activity.List(ctx, offset, trendingPageSize, "")
		if err != nil {
			return nil, fmt.Errorf("stats: scan flashes offset=%d: %w", offset, err)
		}
		for _, flash := range page.Items {
			if flash.City == "" {
				continue
			}
			counts[flash.City]++
		}
		if !page.HasMore {
			break
		}
	}

	ranked := make([]CityCount, 0, len(counts))
	for city, count := range counts {
		ranked = append(ranked, CityCount{City: city, FlashCount: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].FlashCount != ranked[j].FlashCount {
			return ranked[i].FlashCount > ranked[j].FlashCount
		}
		return ranked[i].City < ranked[j].City
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	s.cache.Put(cacheName, ranked)
	return ranked, nil
}
