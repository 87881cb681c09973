package analytics

import "time"

type EventType string

const (
	EventSearch        EventType = "search"
	EventObjectSearch  EventType = "object_search"
	EventIndexReloaded EventType = "index_reloaded"
)

// SearchEvent describes one answered query.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Site      string    `json:"site"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Mode      string    `json:"mode"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// IndexPublishedEvent announces that a new index build for Site is
// available at its configured source.
type IndexPublishedEvent struct {
	Site        string    `json:"site"`
	BuildID     string    `json:"build_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
