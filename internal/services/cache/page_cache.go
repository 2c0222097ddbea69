// Package cache implements the page and map cache layers described in
// spec §4.5: content-addressed metadata in the primary store, opaque
// payloads in the object store, with freshness windows modeled on the
// teacher's cache/service.go IsFresh dispatch.
package cache

import (
	"context"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvestyard/internal/interfaces"
	"github.com/ternarybob/harvestyard/internal/models"
)

// PageResult is the payload returned on a cache hit.
type PageResult struct {
	Payload  []byte
	CachedAt time.Time
	FromCache bool
}

// PageMetadata carries the fields extracted from a freshly scraped page,
// used to populate PageCache on Save.
type PageMetadata struct {
	Title              string
	Description        string
	OGDescription      string
	TwitterDescription string
	StatusCode         int
	ContentType        string
	HasScreenshot      bool
}

// EffectiveDescription returns Description, falling back to
// OGDescription then TwitterDescription, per spec §4.5.
func (m *PageMetadata) EffectiveDescription() string {
	if m.Description != "" {
		return m.Description
	}
	if m.OGDescription != "" {
		return m.OGDescription
	}
	return m.TwitterDescription
}

// PageCacheService implements the Get/Save contract for page cache.
type PageCacheService struct {
	storage        interfaces.CacheStorage
	objects        interfaces.ObjectStore
	logger         arbor.ILogger
	enabled        bool
	defaultMaxAge  time.Duration
}

func NewPageCacheService(storage interfaces.CacheStorage, objects interfaces.ObjectStore, enabled bool, defaultMaxAge time.Duration, logger arbor.ILogger) *PageCacheService {
	return &PageCacheService{
		storage:       storage,
		objects:       objects,
		enabled:       enabled,
		defaultMaxAge: defaultMaxAge,
		logger:        logger,
	}
}

// Get attempts a cache read. maxAge of nil uses the configured default;
// maxAge of 0 always misses (explicit force refresh).
func (s *PageCacheService) Get(ctx context.Context, url string, opts ScrapeOptions, maxAge *time.Duration) (*PageResult, bool) {
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

	urlHash := HashURL(url)
	optionsHash := HashOptions(opts)
	cutoff := time.Now().Add(-effectiveMaxAge).UnixMilli()

	entry, err := s.storage.GetFreshestPage(ctx, urlHash, optionsHash, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("page cache lookup failed")
		return nil, false
	}
	if entry == nil {
		return nil, false
	}

	payload, found, err := s.objects.Get(ctx, entry.ObjectKey)
	if err != nil || !found {
		s.logger.Warn().Str("url", url).Str("object_key", entry.ObjectKey).Msg("page cache row found but payload missing from object store")
		return nil, false
	}

	return &PageResult{Payload: payload, CachedAt: entry.ScrapedAt, FromCache: true}, true
}

// SaveInput carries everything needed to persist a fresh scrape result.
type SaveInput struct {
	URL           string
	Options       ScrapeOptions
	Payload       []byte
	ContentHash   string
	Meta          PageMetadata
	StoreInCache  bool
	HasProxy      bool
}

// Save writes a fresh result into the cache, skipping per the rules in
// spec §4.5 (disabled, status 0 or >= 400, or explicit opt-out).
func (s *PageCacheService) Save(ctx context.Context, in SaveInput) error {
	if !s.enabled || !in.StoreInCache {
		return nil
	}
	if in.Meta.StatusCode == 0 || in.Meta.StatusCode >= 400 {
		return nil
	}

	urlHash := HashURL(in.URL)
	optionsHash := HashOptions(in.Options)
	objectKey := urlHash + "-" + in.ContentHash

	if err := s.objects.Put(ctx, objectKey, in.Payload); err != nil {
		return err
	}

	entry := &models.PageCache{
		UUID:          urlHash + ":" + optionsHash,
		URLHash:       urlHash,
		OptionsHash:   optionsHash,
		Domain:        domainOf(in.URL),
		ContentHash:   in.ContentHash,
		Title:         in.Meta.Title,
		Description:   in.Meta.EffectiveDescription(),
		StatusCode:    in.Meta.StatusCode,
		ContentType:   in.Meta.ContentType,
		ContentLength: int64(len(in.Payload)),
		Engine:        models.Engine(in.Options.Engine),
		HasProxy:      in.HasProxy,
		HasScreenshot: in.Meta.HasScreenshot,
		ObjectKey:     objectKey,
		ScrapedAt:     time.Now(),
	}

	return s.storage.UpsertPage(ctx, entry)
}

func domainOf(rawURL string) string {
	// The full URL validation/normalization pipeline lives in the
	// out-of-scope HTTP handler layer, which hands this service an
	// already-validated URL; this is a best-effort fallback only.
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
