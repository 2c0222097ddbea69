package cache

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
)

// MapResult is the payload returned on a map cache hit.
type MapResult struct {
	URLs         []models.MapCacheURLEntry
	DiscoveredAt time.Time
	FromCache    bool
}

// MapCacheService implements the Get/Save contract for map cache.
type MapCacheService struct {
	storage       interfaces.CacheStorage
	logger        arbor.ILogger
	enabled       bool
	defaultMaxAge time.Duration
}

func NewMapCacheService(storage interfaces.CacheStorage, enabled bool, defaultMaxAge time.Duration, logger arbor.ILogger) *MapCacheService {
	return &MapCacheService{storage: storage, enabled: enabled, defaultMaxAge: defaultMaxAge, logger: logger}
}

func (s *MapCacheService) Get(ctx context.Context, domain string, source models.MapSource, maxAge *time.Duration) (*MapResult, bool) {
	if !s.enabled {
		return nil, false
	}

	effectiveMaxAge := s.defaultMaxAge
	if maxAge != nil {
		effectiveMaxAge = *maxAge
	}
	if effectiveMaxAge <= 0 {
		return nil, false
	}

	domainHash := HashDomain(domain)
	cutoff := time.Now().Add(-effectiveMaxAge).UnixMilli()

	entry, err := s.storage.GetFreshestMap(ctx, domainHash, source, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Str("domain", domain).Msg("map cache lookup failed")
		return nil, false
	}
	if entry == nil {
		return nil, false
	}

	return &MapResult{URLs: entry.URLs, DiscoveredAt: entry.DiscoveredAt, FromCache: true}, true
}

func (s *MapCacheService) Save(ctx context.Context, domain string, source models.MapSource, urls []models.MapCacheURLEntry) error {
	if !s.enabled {
		return nil
	}
	entry := &models.MapCache{
		UUID:         HashDomain(domain) + ":" + string(source),
		DomainHash:   HashDomain(domain),
		Source:       source,
		URLs:         urls,
		DiscoveredAt: time.Now(),
	}
	return s.storage.UpsertMap(ctx, entry)
}

// ByDomainIndex reads the known PageCache rows for a domain, per spec
// §4.5 "index mode", and returns their row ids (urlHash:optionsHash).
// PageCache stores no URL, so it does not return page URLs.
func (s *MapCacheService) ByDomainIndex(ctx context.Context, domain string) ([]string, error) {
	pages, err := s.storage.ListPagesByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.UUID)
	}
	return urls, nil
}
