package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// HashURL returns a deterministic fingerprint for a normalized URL.
func HashURL(url string) string {
	return hashString(strings.ToLower(strings.TrimSpace(url)))
}

// HashDomain returns a deterministic fingerprint for a domain name.
func HashDomain(domain string) string {
	return hashString(strings.ToLower(strings.TrimSpace(domain)))
}

// ScrapeOptions is the subset of request options that participate in the
// cache fingerprint, per spec §4.5: engine, proxy mode, formats, wait
// conditions, include/exclude tags, json_options, extract_source.
type ScrapeOptions struct {
	Engine        string
	ProxyMode     string
	Formats       []string
	WaitUntil     string
	IncludeTags   []string
	ExcludeTags   []string
	OnlyMainText  bool
	JSONOptions   string
	ExtractSource string
}

// HashOptions builds a deterministic hash over the canonicalized request
// options, independent of slice ordering, so equivalent requests always
// produce the same options_hash.
func HashOptions(opts ScrapeOptions) string {
	formats := sortedCopy(opts.Formats)
	include := sortedCopy(opts.IncludeTags)
	exclude := sortedCopy(opts.ExcludeTags)

	canonical := fmt.Sprintf(
		"engine=%s|proxy=%s|formats=%s|wait=%s|include=%s|exclude=%s|onlymain=%t|json=%s|source=%s",
		opts.Engine, opts.ProxyMode, strings.Join(formats, ","), opts.WaitUntil,
		strings.Join(include, ","), strings.Join(exclude, ","), opts.OnlyMainText,
		opts.JSONOptions, opts.ExtractSource,
	)
	return hashString(canonical)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
