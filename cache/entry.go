package cache

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one cached rasterized page. The payload is the PNG-encoded
// pixel buffer; its lifetime is tied to the entry, dropping the entry
// releases the buffer.
type Entry struct {
	Key        PageKey
	Width      int
	Height     int
	ByteSize   int64
	RenderTime time.Duration
	CreatedAt  time.Time

	// lastAccess and pins are guarded by the owning Manager's mutex.
	lastAccess time.Time
	pins       int

	// payload is nil for entries reloaded after a restart until the
	// first access rehydrates it from disk.
	payloadMu sync.Mutex
	payload   []byte
}

// Payload returns the PNG-encoded pixel buffer. The Manager guarantees
// the payload is hydrated before an entry is handed to a caller.
func (e *Entry) Payload() []byte {
	e.payloadMu.Lock()
	defer e.payloadMu.Unlock()
	return e.payload
}

// hydrate loads the payload bytes from disk if they are not already in
// memory. A size mismatch means the file was modified or truncated
// out-of-band, in which case the descriptor must not be trusted.
func (e *Entry) hydrate(path string) error {
	e.payloadMu.Lock()
	defer e.payloadMu.Unlock()
	if e.payload != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read cached payload: %w", err)
	}
	if int64(len(data)) != e.ByteSize {
		return fmt.Errorf("cached payload size mismatch: have %d bytes, expected %d", len(data), e.ByteSize)
	}
	e.payload = data
	return nil
}

// Descriptor is the persisted record of an entry, everything except the
// pixel payload. Descriptors survive process restarts so that cache
// accounting and recency do; they are an optimization hint only.
type Descriptor struct {
	Key            PageKey
	ByteSize       int64
	RenderTimeMs   int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}
