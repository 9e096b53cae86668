package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config carries everything a Manager needs at construction. The cache
// never reads the environment itself; the config package assembles this
// from whatever sources the deployment uses.
type Config struct {
	// Dir is the cache directory; payload files live under Dir/pages.
	Dir string
	// BudgetBytes is the hard byte budget for cached payloads.
	BudgetBytes int64
	// LowWaterFraction is the target occupancy after OptimizeMemory,
	// expressed as a fraction of BudgetBytes. Defaults to 0.75.
	LowWaterFraction float64
	// RenderTimeout bounds a single rendering-engine call. A render
	// exceeding it fails for all coalesced waiters and may be retried.
	// Defaults to 30s.
	RenderTimeout time.Duration
	// DefaultQuality is the render quality (1-100) used for documents
	// that never had SetRenderQuality called. Defaults to 100.
	DefaultQuality int
	// PreloadWorkers bounds concurrent preload renders. Defaults to 2.
	PreloadWorkers int
	// EntryTTL expires cached pages after this age. Zero disables
	// expiry.
	EntryTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.LowWaterFraction <= 0 || c.LowWaterFraction > 1 {
		c.LowWaterFraction = 0.75
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 30 * time.Second
	}
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		c.DefaultQuality = 100
	}
	if c.PreloadWorkers < 1 {
		c.PreloadWorkers = 2
	}
	return c
}

// RenderResult is what the rendering-engine collaborator produces for
// one page.
type RenderResult struct {
	PNG     []byte
	Width   int
	Height  int
	Elapsed time.Duration
}

// Renderer is the external rendering engine, consumed on cache misses.
// Implementations must honor ctx cancellation where they can; the
// Manager additionally enforces its own render timeout.
type Renderer interface {
	RenderPage(ctx context.Context, key PageKey) (*RenderResult, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, key PageKey) (*RenderResult, error)

func (f RendererFunc) RenderPage(ctx context.Context, key PageKey) (*RenderResult, error) {
	return f(ctx, key)
}

// MetadataStore is the durable record of entry descriptors. Mutations
// must be crash-atomic per descriptor. The Manager treats its contents
// as hints: a descriptor without a readable payload file is dropped on
// reload, never trusted.
type MetadataStore interface {
	UpsertPage(d Descriptor) error
	RemovePage(key PageKey) error
	RemovePagesForDocument(docID string) (int, error)
	ClearPages() error
	LoadPages() ([]Descriptor, error)
}

// CacheType selects the scope of an Invalidate call.
type CacheType string

const (
	// CacheTypePages removes the rendered pages of one document.
	CacheTypePages CacheType = "pages"
	// CacheTypeDocument removes a document's pages plus its quality
	// setting and performance counters, and cancels its preload.
	CacheTypeDocument CacheType = "document"
	// CacheTypeAll clears the whole cache and resets the counters.
	CacheTypeAll CacheType = "all"
)

type docPerf struct {
	renders       int64
	totalRenderMs int64
	lastRenderMs  int64
}

// Manager orchestrates lookup, miss-fill via the rendering engine,
// insertion, eviction and maintenance. It owns all concurrency control;
// callers never coordinate locking themselves.
//
// A single mutex protects the key index and the byte accounting.
// Render calls and payload disk I/O always happen outside of it, and
// concurrent misses for the same key coalesce onto one render.
type Manager struct {
	cfg      Config
	store    MetadataStore
	renderer Renderer
	logger   *slog.Logger

	flight singleflight.Group

	mu         sync.Mutex
	entries    map[PageKey]*Entry
	totalBytes int64
	hits       int64
	misses     int64
	evictions  int64
	expired    int64
	overBudget int64
	quality    map[string]int
	perf       map[string]*docPerf
	preloads   map[string]*preloadRun
}

// NewManager builds a Manager. It is explicitly constructed and
// dependency-injected; there is no package-level instance.
func NewManager(cfg Config, store MetadataStore, renderer Renderer, logger *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.BudgetBytes <= 0 {
		return nil, errors.New("cache byte budget must be positive")
	}
	if cfg.Dir == "" {
		return nil, errors.New("cache directory must be set")
	}
	if store == nil || renderer == nil {
		return nil, errors.New("metadata store and renderer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(cfg.Dir, "pages"), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create cache directory: %w", err)
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		renderer: renderer,
		logger:   logger,
		entries:  make(map[PageKey]*Entry),
		quality:  make(map[string]int),
		perf:     make(map[string]*docPerf),
		preloads: make(map[string]*preloadRun),
	}, nil
}

// Budget returns the configured byte budget.
func (m *Manager) Budget() int64 { return m.cfg.BudgetBytes }

func (m *Manager) pagesDir() string {
	return filepath.Join(m.cfg.Dir, "pages")
}

func (m *Manager) payloadPath(key PageKey) string {
	return filepath.Join(m.pagesDir(), key.payloadName())
}

// LoadPersisted restores the metadata index written by a previous run.
// Descriptors whose payload file is missing, unreadable or the wrong
// size are dropped; they will simply be re-rendered on demand. Payload
// bytes themselves are rehydrated lazily on first access.
func (m *Manager) LoadPersisted() error {
	descs, err := m.store.LoadPages()
	if err != nil {
		// A broken store must never be fatal; start cold instead.
		m.logger.Warn("unable to load cache metadata, starting with an empty cache", "error", err)
		return nil
	}
	now := time.Now()
	restored := 0
	for _, d := range descs {
		if err := d.Key.Validate(); err != nil {
			m.logger.Warn("dropping corrupt cache descriptor", "error", err)
			m.removeStored(d.Key)
			continue
		}
		if m.cfg.EntryTTL > 0 && now.Sub(d.CreatedAt) > m.cfg.EntryTTL {
			m.removeStored(d.Key)
			continue
		}
		fi, err := os.Stat(m.payloadPath(d.Key))
		if err != nil || fi.Size() != d.ByteSize {
			m.logger.Debug("dropping descriptor without intact payload", "key", d.Key.String())
			m.removeStored(d.Key)
			continue
		}
		e := &Entry{
			Key:        d.Key,
			ByteSize:   d.ByteSize,
			RenderTime: time.Duration(d.RenderTimeMs) * time.Millisecond,
			CreatedAt:  d.CreatedAt,
			lastAccess: d.LastAccessedAt,
		}
		m.mu.Lock()
		if _, exists := m.entries[d.Key]; !exists {
			m.entries[d.Key] = e
			m.totalBytes += e.ByteSize
			restored++
		}
		m.mu.Unlock()
	}

	// The budget may have shrunk since the last run.
	m.mu.Lock()
	removed := m.makeRoomLocked(0)
	m.mu.Unlock()
	m.cleanupRemoved(removed)

	m.logger.Info("cache metadata restored", "entries", restored, "totalBytes", m.Metrics().TotalBytes)
	return nil
}

// GetOrRender returns the cached entry for key, rendering it via the
// engine collaborator on a miss. The returned entry is pinned and must
// be handed back with Release when the caller is done with the payload.
// The second return value reports whether the request was served from
// cache.
//
// Concurrent calls for the same key coalesce onto a single render; the
// engine is invoked at most once per key at any time.
func (m *Manager) GetOrRender(ctx context.Context, key PageKey) (*Entry, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if e, ok := m.lookup(key); ok {
		if err := e.hydrate(m.payloadPath(key)); err != nil {
			// The payload vanished out-of-band; the descriptor was only
			// a hint. Drop it and fall through to a fresh render.
			m.logger.Warn("cached payload unreadable, re-rendering", "key", key.String(), "error", err)
			m.dropUnpin(e)
		} else {
			m.mu.Lock()
			m.hits++
			m.mu.Unlock()
			m.persistAccess(e)
			return e, true, nil
		}
	}

	v, err, _ := m.flight.Do(key.String(), func() (interface{}, error) {
		return m.renderAndStore(key)
	})
	if err != nil {
		return nil, false, err
	}
	e := v.(*Entry)
	m.mu.Lock()
	e.pins++
	e.lastAccess = time.Now()
	m.mu.Unlock()
	return e, false, nil
}

// Release unpins an entry returned by GetOrRender, making it eligible
// for eviction again.
func (m *Manager) Release(e *Entry) {
	if e == nil {
		return
	}
	m.mu.Lock()
	if e.pins > 0 {
		e.pins--
	}
	m.mu.Unlock()
}

// lookup returns a pinned live entry for key if present and not
// expired. It never increments hit/miss counters; the caller decides
// after hydration whether the access really was a hit.
func (m *Manager) lookup(key PageKey) (*Entry, bool) {
	now := time.Now()
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	// Pinned entries are never expired here; like SweepExpired, expiry
	// waits until the last holder releases.
	if m.cfg.EntryTTL > 0 && e.pins == 0 && now.Sub(e.CreatedAt) > m.cfg.EntryTTL {
		m.removeLocked(e)
		m.expired++
		m.mu.Unlock()
		m.cleanupRemoved([]*Entry{e})
		return nil, false
	}
	e.lastAccess = now
	e.pins++
	m.mu.Unlock()
	return e, true
}

// dropUnpin removes an entry handed out by lookup whose payload turned
// out to be unreadable.
func (m *Manager) dropUnpin(e *Entry) {
	m.mu.Lock()
	if e.pins > 0 {
		e.pins--
	}
	if live, ok := m.entries[e.Key]; ok && live == e {
		m.removeLocked(e)
	}
	m.mu.Unlock()
	m.cleanupRemoved([]*Entry{e})
}

// renderAndStore is the single-flight body: exactly one execution per
// key is in flight at a time, and every coalesced waiter receives its
// result.
func (m *Manager) renderAndStore(key PageKey) (*Entry, error) {
	// Another flight may have populated the slot between our caller's
	// lookup and this execution starting.
	if e, ok := m.lookup(key); ok {
		if err := e.hydrate(m.payloadPath(key)); err == nil {
			m.mu.Lock()
			m.hits++
			if e.pins > 0 {
				e.pins-- // the waiter pin is applied after Do returns
			}
			m.mu.Unlock()
			m.persistAccess(e)
			return e, nil
		}
		m.dropUnpin(e)
	}

	m.mu.Lock()
	m.misses++
	m.mu.Unlock()

	res, err := m.render(key)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	e := &Entry{
		Key:        key,
		Width:      res.Width,
		Height:     res.Height,
		ByteSize:   int64(len(res.PNG)),
		RenderTime: res.Elapsed,
		CreatedAt:  now,
		lastAccess: now,
		payload:    res.PNG,
	}

	// Eviction runs synchronously before the insert is committed.
	m.mu.Lock()
	removed := m.makeRoomLocked(e.ByteSize)
	m.entries[key] = e
	m.totalBytes += e.ByteSize
	m.recordRenderLocked(key.DocumentID, res.Elapsed)
	m.mu.Unlock()

	m.cleanupRemoved(removed)

	if err := m.persistEntry(e); err != nil {
		// The entry stays usable in memory; it just won't survive a
		// restart.
		m.logger.Warn("unable to persist cache entry", "key", key.String(), "error", err)
	}
	return e, nil
}

// render invokes the engine collaborator outside any lock, bounded by
// the configured timeout. On timeout the in-progress marker is cleared
// so a later request can retry, and all coalesced waiters see the same
// RenderFailure.
func (m *Manager) render(key PageKey) (*RenderResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RenderTimeout)
	defer cancel()

	type outcome struct {
		res *RenderResult
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := m.renderer.RenderPage(ctx, key)
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRenderFailure, out.err)
		}
		if out.res == nil || len(out.res.PNG) == 0 {
			return nil, fmt.Errorf("%w: engine returned an empty pixel buffer", ErrRenderFailure)
		}
		if out.res.Elapsed == 0 {
			out.res.Elapsed = time.Since(start)
		}
		return out.res, nil
	case <-ctx.Done():
		m.flight.Forget(key.String())
		return nil, fmt.Errorf("%w: render timed out after %s", ErrRenderFailure, m.cfg.RenderTimeout)
	}
}

// makeRoomLocked evicts least-recently-accessed unpinned entries until
// need more bytes fit under the budget. If everything left is pinned
// the cache may legitimately exceed the budget momentarily; that is a
// policy note, not a failure. Caller holds the mutex; the returned
// entries still need cleanupRemoved once the lock is released.
func (m *Manager) makeRoomLocked(need int64) []*Entry {
	if m.totalBytes+need <= m.cfg.BudgetBytes {
		return nil
	}
	required := m.totalBytes + need - m.cfg.BudgetBytes
	victims := selectVictims(m.entries, "", required)
	var freed int64
	for _, v := range victims {
		m.removeLocked(v)
		freed += v.ByteSize
	}
	m.evictions += int64(len(victims))
	if freed < required {
		m.overBudget++
		m.logger.Info("cache over budget, remaining entries are pinned",
			"missingBytes", required-freed, "totalBytes", m.totalBytes)
	}
	return victims
}

// removeLocked drops an entry from the index and the byte accounting.
// Payload file and metadata record removal happen later, outside the
// lock, via cleanupRemoved.
func (m *Manager) removeLocked(e *Entry) {
	delete(m.entries, e.Key)
	m.totalBytes -= e.ByteSize
}

// cleanupRemoved deletes payload files and metadata records for entries
// already removed from the index.
func (m *Manager) cleanupRemoved(removed []*Entry) {
	for _, e := range removed {
		if err := os.Remove(m.payloadPath(e.Key)); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("unable to remove payload file", "key", e.Key.String(), "error", err)
		}
		if err := m.store.RemovePage(e.Key); err != nil {
			m.logger.Warn("unable to remove cache metadata", "key", e.Key.String(), "error", err)
		}
	}
}

func (m *Manager) removeStored(key PageKey) {
	if err := os.Remove(m.payloadPath(key)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("unable to remove payload file", "key", key.String(), "error", err)
	}
	if err := m.store.RemovePage(key); err != nil {
		m.logger.Warn("unable to remove cache metadata", "key", key.String(), "error", err)
	}
}

func (m *Manager) persistEntry(e *Entry) error {
	path := m.payloadPath(e.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, e.Payload(), 0o644); err != nil {
		return fmt.Errorf("unable to write payload file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unable to commit payload file: %w", err)
	}
	return m.store.UpsertPage(m.descriptorOf(e))
}

// persistAccess pushes the bumped recency of a hit down to the metadata
// store so eviction order survives a restart.
func (m *Manager) persistAccess(e *Entry) {
	if err := m.store.UpsertPage(m.descriptorOf(e)); err != nil {
		m.logger.Warn("unable to persist access time", "key", e.Key.String(), "error", err)
	}
}

func (m *Manager) descriptorOf(e *Entry) Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Descriptor{
		Key:            e.Key,
		ByteSize:       e.ByteSize,
		RenderTimeMs:   e.RenderTime.Milliseconds(),
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.lastAccess,
	}
}

func (m *Manager) recordRenderLocked(docID string, elapsed time.Duration) {
	p, ok := m.perf[docID]
	if !ok {
		p = &docPerf{}
		m.perf[docID] = p
	}
	p.renders++
	p.totalRenderMs += elapsed.Milliseconds()
	p.lastRenderMs = elapsed.Milliseconds()
}

// Invalidate removes cached state for a document or for the whole
// cache. It is idempotent: invalidating an already-empty scope succeeds
// and removes nothing. Concurrent GetOrRender calls either observe an
// old entry fully (they pinned it first) or miss and re-render; a torn
// entry is never visible.
func (m *Manager) Invalidate(docID string, cacheType CacheType) (int, error) {
	switch cacheType {
	case CacheTypePages, CacheTypeDocument:
		if docID == "" {
			return 0, fmt.Errorf("document id required for cache type %q", cacheType)
		}
		m.mu.Lock()
		var removed []*Entry
		for _, e := range m.entries {
			if e.Key.DocumentID == docID {
				removed = append(removed, e)
			}
		}
		for _, e := range removed {
			m.removeLocked(e)
		}
		if cacheType == CacheTypeDocument {
			delete(m.quality, docID)
			delete(m.perf, docID)
			if run, ok := m.preloads[docID]; ok {
				run.cancel()
				delete(m.preloads, docID)
			}
		}
		m.mu.Unlock()

		for _, e := range removed {
			if err := os.Remove(m.payloadPath(e.Key)); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("unable to remove payload file", "key", e.Key.String(), "error", err)
			}
		}
		if _, err := m.store.RemovePagesForDocument(docID); err != nil {
			return len(removed), fmt.Errorf("unable to clear metadata for document %s: %w", docID, err)
		}
		return len(removed), nil

	case CacheTypeAll:
		m.mu.Lock()
		count := len(m.entries)
		for _, run := range m.preloads {
			run.cancel()
		}
		m.entries = make(map[PageKey]*Entry)
		m.quality = make(map[string]int)
		m.perf = make(map[string]*docPerf)
		m.preloads = make(map[string]*preloadRun)
		m.totalBytes = 0
		m.hits, m.misses, m.evictions, m.expired, m.overBudget = 0, 0, 0, 0, 0
		m.mu.Unlock()

		if err := os.RemoveAll(m.pagesDir()); err != nil {
			m.logger.Warn("unable to remove payload directory", "error", err)
		}
		if err := os.MkdirAll(m.pagesDir(), 0o755); err != nil {
			return count, fmt.Errorf("unable to recreate payload directory: %w", err)
		}
		if err := m.store.ClearPages(); err != nil {
			return count, fmt.Errorf("unable to clear cache metadata: %w", err)
		}
		return count, nil

	default:
		return 0, fmt.Errorf("unknown cache type %q", cacheType)
	}
}

// OptimizeMemory force-evicts unpinned entries down to the low-water
// mark below the budget, for one document or, with an empty docID,
// across all of them. It is the memory-pressure hook and returns the
// number of bytes freed.
func (m *Manager) OptimizeMemory(docID string) int64 {
	target := int64(float64(m.cfg.BudgetBytes) * m.cfg.LowWaterFraction)
	m.mu.Lock()
	var removed []*Entry
	if m.totalBytes > target {
		removed = selectVictims(m.entries, docID, m.totalBytes-target)
		for _, e := range removed {
			m.removeLocked(e)
		}
		m.evictions += int64(len(removed))
	}
	m.mu.Unlock()
	m.cleanupRemoved(removed)

	var freed int64
	for _, e := range removed {
		freed += e.ByteSize
	}
	if freed > 0 {
		m.logger.Info("memory optimized", "documentId", docID, "freedBytes", freed, "removed", len(removed))
	}
	return freed
}

// Metrics returns a point-in-time snapshot of the cache counters.
func (m *Manager) Metrics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:       m.hits,
		Misses:     m.misses,
		TotalBytes: m.totalBytes,
		EntryCount: len(m.entries),
		Evictions:  m.evictions,
		Expired:    m.expired,
		OverBudget: m.overBudget,
	}
}

// PerformanceMetrics returns the render statistics for one document.
func (m *Manager) PerformanceMetrics(docID string) DocumentMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm := DocumentMetrics{DocumentID: docID}
	if p, ok := m.perf[docID]; ok {
		dm.Renders = p.renders
		dm.LastRenderMs = p.lastRenderMs
		if p.renders > 0 {
			dm.AverageRenderMs = float64(p.totalRenderMs) / float64(p.renders)
		}
	}
	for _, e := range m.entries {
		if e.Key.DocumentID == docID {
			dm.CachedPages++
			dm.CachedBytes += e.ByteSize
		}
	}
	return dm
}

// SetRenderQuality changes the quality bucket (1-100) used for
// subsequent renders of a document. Existing entries are not touched.
func (m *Manager) SetRenderQuality(docID string, quality int) error {
	if docID == "" {
		return errors.New("document id required")
	}
	if quality < 1 || quality > 100 {
		return fmt.Errorf("render quality must be between 1 and 100, got %d", quality)
	}
	m.mu.Lock()
	m.quality[docID] = quality
	m.mu.Unlock()
	return nil
}

// RenderQuality returns the quality bucket in effect for a document.
func (m *Manager) RenderQuality(docID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.quality[docID]; ok {
		return q
	}
	return m.cfg.DefaultQuality
}

// EffectiveScale maps a requested scale through the document's quality
// bucket. Callers build PageKeys from the result so quality changes
// land in distinct cache slots.
func (m *Manager) EffectiveScale(docID string, scale float64) float64 {
	return scale * float64(m.RenderQuality(docID)) / 100
}

// SweepExpired removes unpinned entries older than the configured TTL.
// It is run periodically by the maintenance scheduler.
func (m *Manager) SweepExpired() int {
	if m.cfg.EntryTTL <= 0 {
		return 0
	}
	now := time.Now()
	m.mu.Lock()
	var removed []*Entry
	for _, e := range m.entries {
		if e.pins == 0 && now.Sub(e.CreatedAt) > m.cfg.EntryTTL {
			removed = append(removed, e)
		}
	}
	for _, e := range removed {
		m.removeLocked(e)
	}
	m.expired += int64(len(removed))
	m.mu.Unlock()
	m.cleanupRemoved(removed)
	return len(removed)
}

// SweepOrphans deletes payload files that no live entry references,
// e.g. left behind by a crash between an eviction and its file
// deletion.
func (m *Manager) SweepOrphans() int {
	names, err := os.ReadDir(m.pagesDir())
	if err != nil {
		m.logger.Warn("unable to scan payload directory", "error", err)
		return 0
	}
	m.mu.Lock()
	live := make(map[string]struct{}, len(m.entries))
	for key := range m.entries {
		live[key.payloadName()] = struct{}{}
	}
	m.mu.Unlock()

	removed := 0
	for _, entry := range names {
		if entry.IsDir() {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(m.pagesDir(), entry.Name())); err != nil {
			m.logger.Warn("unable to remove orphan payload file", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("removed orphan payload files", "count", removed)
	}
	return removed
}

// Close cancels outstanding preloads. Cached state stays on disk for
// the next run.
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, run := range m.preloads {
		run.cancel()
	}
	m.preloads = make(map[string]*preloadRun)
	m.mu.Unlock()
	return nil
}
