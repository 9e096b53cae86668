package database

import (
	"github.com/drummonds/goPDFCache/cache"
)

// PageStore adapts a Repository to the cache manager's metadata store.
// It is a thin translation layer; all persistence semantics live in the
// Repository implementation.
type PageStore struct {
	db Repository
}

// NewPageStore wraps a Repository for use by the cache manager
func NewPageStore(db Repository) *PageStore {
	return &PageStore{db: db}
}

// UpsertPage writes or refreshes one page descriptor
func (s *PageStore) UpsertPage(d cache.Descriptor) error {
	return s.db.UpsertPage(&PageRecord{
		DocumentID:     d.Key.DocumentID,
		PageNumber:     d.Key.PageNumber,
		Scale:          d.Key.Scale,
		Rotation:       d.Key.Rotation,
		ByteSize:       d.ByteSize,
		RenderTimeMs:   d.RenderTimeMs,
		CreatedAt:      d.CreatedAt,
		LastAccessedAt: d.LastAccessedAt,
	})
}

// RemovePage deletes one page descriptor
func (s *PageStore) RemovePage(key cache.PageKey) error {
	return s.db.RemovePage(key.DocumentID, key.PageNumber, key.Scale, key.Rotation)
}

// RemovePagesForDocument deletes all page descriptors of a document
func (s *PageStore) RemovePagesForDocument(docID string) (int, error) {
	return s.db.RemovePagesForDocument(docID)
}

// ClearPages deletes every page descriptor
func (s *PageStore) ClearPages() error {
	return s.db.ClearPages()
}

// LoadPages returns every persisted page descriptor
func (s *PageStore) LoadPages() ([]cache.Descriptor, error) {
	records, err := s.db.GetAllPages()
	if err != nil {
		return nil, err
	}
	descs := make([]cache.Descriptor, 0, len(records))
	for _, rec := range records {
		descs = append(descs, cache.Descriptor{
			Key: cache.PageKey{
				DocumentID: rec.DocumentID,
				PageNumber: rec.PageNumber,
				Scale:      rec.Scale,
				Rotation:   rec.Rotation,
			},
			ByteSize:       rec.ByteSize,
			RenderTimeMs:   rec.RenderTimeMs,
			CreatedAt:      rec.CreatedAt,
			LastAccessedAt: rec.LastAccessedAt,
		})
	}
	return descs, nil
}
