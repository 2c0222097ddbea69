package models

import "time"

// CrawlProgressState is the ephemeral, process-global set of counters
// tracked for one crawl Job in the shared KV service. It is never
// persisted in the primary store; it is rebuilt/discarded per crawl
// lifecycle.
type CrawlProgressState struct {
	JobID string `json:"job_id"`

	Enqueued  int64 `json:"enqueued"`
	Done      int64 `json:"done"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Enqueuing int64 `json:"enqueuing"` // active producers; floors at 0

	Finalized bool `json:"finalized"`
	Cancelled bool `json:"cancelled"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// QueueDrained reports whether every enqueued page has been accounted for
// and no producer is still adding children.
func (s *CrawlProgressState) QueueDrained() bool {
	return s.Enqueued > 0 && s.Done == s.Enqueued && s.Enqueuing == 0
}

// ReachedLimit reports whether done has reached a positive page limit.
func (s *CrawlProgressState) ReachedLimit(limit int) bool {
	return limit > 0 && s.Done >= int64(limit)
}

// CrawlSummary is the immutable snapshot persisted once a crawl finalizes.
type CrawlSummary struct {
	JobID      string     `json:"job_id"`
	Total      int64      `json:"total"`
	Succeeded  int64      `json:"succeeded"`
	Failed     int64      `json:"failed"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
