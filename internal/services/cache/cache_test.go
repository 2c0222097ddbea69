package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/models"
	"github.com/ternarybob/harvestyard/internal/services/cache"
	"github.com/ternarybob/harvestyard/internal/storage/fsstore"
)

type fakeCacheStorage struct {
	mu    sync.Mutex
	pages []*models.PageCache
	maps  []*models.MapCache
}

func newFakeCacheStorage() *fakeCacheStorage {
	return &fakeCacheStorage{}
}

func (s *fakeCacheStorage) GetFreshestPage(ctx context.Context, urlHash, optionsHash string, scrapedAfter int64) (*models.PageCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PageCache
	for _, p := range s.pages {
		if p.URLHash != urlHash || p.OptionsHash != optionsHash {
			continue
		}
		if p.ScrapedAt.UnixMilli() < scrapedAfter {
			continue
		}
		if best == nil || p.ScrapedAt.After(best.ScrapedAt) {
			best = p
		}
	}
	return best, nil
}

func (s *fakeCacheStorage) UpsertPage(ctx context.Context, entry *models.PageCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, entry)
	return nil
}

func (s *fakeCacheStorage) GetFreshestMap(ctx context.Context, domainHash string, source models.MapSource, discoveredAfter int64) (*models.MapCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.MapCache
	for _, m := range s.maps {
		if m.DomainHash != domainHash || m.Source != source {
			continue
		}
		if m.DiscoveredAt.UnixMilli() < discoveredAfter {
			continue
		}
		if best == nil || m.DiscoveredAt.After(best.DiscoveredAt) {
			best = m
		}
	}
	return best, nil
}

func (s *fakeCacheStorage) UpsertMap(ctx context.Context, entry *models.MapCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps = append(s.maps, entry)
	return nil
}

func (s *fakeCacheStorage) ListPagesByDomain(ctx context.Context, domain string) ([]*models.PageCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PageCache
	for _, p := range s.pages {
		if p.Domain == domain {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestHashOptions_OrderIndependent(t *testing.T) {
	a := cache.HashOptions(cache.ScrapeOptions{Engine: "cheerio", Formats: []string{"markdown", "html"}})
	b := cache.HashOptions(cache.ScrapeOptions{Engine: "cheerio", Formats: []string{"html", "markdown"}})
	require.Equal(t, a, b)
}

func TestHashOptions_DifferentEngineDiffers(t *testing.T) {
	a := cache.HashOptions(cache.ScrapeOptions{Engine: "cheerio"})
	b := cache.HashOptions(cache.ScrapeOptions{Engine: "playwright"})
	require.NotEqual(t, a, b)
}

func TestPageCacheService_SaveThenGetHit(t *testing.T) {
	ctx := context.Background()
	objects, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	storage := newFakeCacheStorage()
	svc := cache.NewPageCacheService(storage, objects, true, time.Hour, arbor.NewLogger())

	opts := cache.ScrapeOptions{Engine: "cheerio", Formats: []string{"markdown"}}
	err = svc.Save(ctx, cache.SaveInput{
		URL:          "https://example.com/page",
		Options:      opts,
		Payload:      []byte("hello world"),
		ContentHash:  "abc123",
		Meta:         cache.PageMetadata{StatusCode: 200, Title: "Example"},
		StoreInCache: true,
	})
	require.NoError(t, err)

	result, hit := svc.Get(ctx, "https://example.com/page", opts, nil)
	require.True(t, hit)
	require.Equal(t, []byte("hello world"), result.Payload)
}

func TestPageCacheService_Save_SkipsErrorStatus(t *testing.T) {
	ctx := context.Background()
	objects, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	storage := newFakeCacheStorage()
	svc := cache.NewPageCacheService(storage, objects, true, time.Hour, arbor.NewLogger())

	opts := cache.ScrapeOptions{Engine: "cheerio"}
	err = svc.Save(ctx, cache.SaveInput{
		URL:          "https://example.com/missing",
		Options:      opts,
		Payload:      []byte("not found"),
		ContentHash:  "deadbeef",
		Meta:         cache.PageMetadata{StatusCode: 404},
		StoreInCache: true,
	})
	require.NoError(t, err)

	_, hit := svc.Get(ctx, "https://example.com/missing", opts, nil)
	require.False(t, hit)
}

func TestPageCacheService_Get_ExplicitZeroMaxAgeAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	objects, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	storage := newFakeCacheStorage()
	svc := cache.NewPageCacheService(storage, objects, true, time.Hour, arbor.NewLogger())

	opts := cache.ScrapeOptions{Engine: "cheerio"}
	require.NoError(t, svc.Save(ctx, cache.SaveInput{
		URL: "https://example.com/p", Options: opts, Payload: []byte("x"),
		ContentHash: "h1", Meta: cache.PageMetadata{StatusCode: 200}, StoreInCache: true,
	}))

	zero := time.Duration(0)
	_, hit := svc.Get(ctx, "https://example.com/p", opts, &zero)
	require.False(t, hit)
}
