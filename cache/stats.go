package cache

// Stats is a point-in-time snapshot of the cache counters. Counters are
// monotonic within a Manager lifetime and reset only by an explicit
// clear of the whole cache.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	TotalBytes int64 `json:"totalBytes"`
	EntryCount int   `json:"entryCount"`
	Evictions  int64 `json:"evictionCount"`
	Expired    int64 `json:"expiredCount"`
	// OverBudget counts inserts that were committed above the byte
	// budget because every resident entry was pinned at the time. That
	// is a policy note, not a failure.
	OverBudget int64 `json:"overBudgetInserts"`
}

// HitRate returns the hit ratio as a real number between 0.0 and 1.0.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// DocumentMetrics aggregates render performance for a single document.
type DocumentMetrics struct {
	DocumentID      string  `json:"documentId"`
	Renders         int64   `json:"renders"`
	AverageRenderMs float64 `json:"averageRenderTimeMs"`
	LastRenderMs    int64   `json:"lastRenderTimeMs"`
	CachedPages     int     `json:"cachedPages"`
	CachedBytes     int64   `json:"cachedBytes"`
}
