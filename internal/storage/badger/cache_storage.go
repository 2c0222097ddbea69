package badger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/models"
)

// CacheStorage implements interfaces.CacheStorage over badgerhold,
// storing PageCache/MapCache metadata; payloads live in the object store.
type CacheStorage struct {
	db *DB
}

func NewCacheStorage(db *DB) *CacheStorage {
	return &CacheStorage{db: db}
}

func (s *CacheStorage) GetFreshestPage(ctx context.Context, urlHash, optionsHash string, scrapedAfter int64) (*models.PageCache, error) {
	var rows []*models.PageCache
	cutoff := time.UnixMilli(scrapedAfter)
	query := badgerhold.Where("URLHash").Eq(urlHash).
		And("OptionsHash").Eq(optionsHash).
		And("ScrapedAt").Gt(cutoff).
		SortBy("ScrapedAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *CacheStorage) UpsertPage(ctx context.Context, entry *models.PageCache) error {
	// last-write-wins per (url_hash, options_hash); the fingerprint is
	// used directly as the badgerhold key so Upsert replaces in place.
	return s.db.Store().Upsert(entry.FingerprintKey(), entry)
}

func (s *CacheStorage) GetFreshestMap(ctx context.Context, domainHash string, source models.MapSource, discoveredAfter int64) (*models.MapCache, error) {
	var rows []*models.MapCache
	cutoff := time.UnixMilli(discoveredAfter)
	query := badgerhold.Where("DomainHash").Eq(domainHash).
		And("Source").Eq(source).
		And("DiscoveredAt").Gt(cutoff).
		SortBy("DiscoveredAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *CacheStorage) UpsertMap(ctx context.Context, entry *models.MapCache) error {
	return s.db.Store().Upsert(entry.FingerprintKey(), entry)
}

func (s *CacheStorage) ListPagesByDomain(ctx context.Context, domain string) ([]*models.PageCache, error) {
	var rows []*models.PageCache
	query := badgerhold.Where("Domain").Eq(domain).SortBy("ScrapedAt").Reverse()
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}
