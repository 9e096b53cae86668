package cache

import "sort"

// selectVictims picks the entries to discard in order to free need
// bytes: least recently accessed first, with ties broken by larger byte
// size so fewer evictions free more space. Pinned entries are never
// selected. When docID is non-empty only that document's entries are
// considered.
//
// The caller holds the Manager mutex. The scan is a single pass over the
// live set plus one sort, so eviction cost is bounded per call.
func selectVictims(entries map[PageKey]*Entry, docID string, need int64) []*Entry {
	if need <= 0 {
		return nil
	}
	candidates := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e.pins > 0 {
			continue
		}
		if docID != "" && e.Key.DocumentID != docID {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].lastAccess.Equal(candidates[j].lastAccess) {
			return candidates[i].lastAccess.Before(candidates[j].lastAccess)
		}
		return candidates[i].ByteSize > candidates[j].ByteSize
	})

	var freed int64
	var victims []*Entry
	for _, e := range candidates {
		if freed >= need {
			break
		}
		victims = append(victims, e)
		freed += e.ByteSize
	}
	return victims
}
