package cache

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// PreloadStatus is a snapshot of one preload job.
type PreloadStatus struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	StartPage  int            `json:"startPage"`
	EndPage    int            `json:"endPage"`
	Loaded     int            `json:"loadedPages"`
	Skipped    int            `json:"skippedPages"`
	Failed     map[int]string `json:"failedPages,omitempty"`
	Finished   bool           `json:"finished"`
	Canceled   bool           `json:"canceled"`
	StartedAt  time.Time      `json:"startedAt"`
}

// PreloadJob tracks one background page-range warm-up. A later preload
// for the same document supersedes it: no further pages are issued, but
// pages already being rendered complete and land in the cache.
type PreloadJob struct {
	ID         ulid.ULID
	DocumentID string
	StartPage  int
	EndPage    int
	startedAt  time.Time

	mu       sync.Mutex
	loaded   int
	skipped  int
	failed   map[int]string
	canceled bool
	finished bool

	done chan struct{}
}

// Done is closed when the job has finished or been superseded.
func (j *PreloadJob) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx expires.
func (j *PreloadJob) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the job's progress.
func (j *PreloadJob) Status() PreloadStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := PreloadStatus{
		ID:         j.ID.String(),
		DocumentID: j.DocumentID,
		StartPage:  j.StartPage,
		EndPage:    j.EndPage,
		Loaded:     j.loaded,
		Skipped:    j.skipped,
		Finished:   j.finished,
		Canceled:   j.canceled,
		StartedAt:  j.startedAt,
	}
	if len(j.failed) > 0 {
		st.Failed = make(map[int]string, len(j.failed))
		for p, msg := range j.failed {
			st.Failed[p] = msg
		}
	}
	return st
}

func (j *PreloadJob) recordLoaded(fromCache bool) {
	j.mu.Lock()
	if fromCache {
		j.skipped++
	} else {
		j.loaded++
	}
	j.mu.Unlock()
}

func (j *PreloadJob) recordFailed(page int, err error) {
	j.mu.Lock()
	if j.failed == nil {
		j.failed = make(map[int]string)
	}
	j.failed[page] = err.Error()
	j.mu.Unlock()
}

// preloadRun couples a job with its cancellation; keyed by document in
// Manager.preloads so a new run can supersede the old one.
type preloadRun struct {
	job    *PreloadJob
	ctx    context.Context
	cancel context.CancelFunc
}

// Preload warms pages startPage through endPage inclusive in the
// background, at the given scale and rotation, using a bounded worker
// pool. Individual page failures are recorded on the job, never raised;
// a preload is advisory. The previous preload for the same document, if
// still running, is superseded.
func (m *Manager) Preload(docID string, startPage, endPage int, scale float64, rotation int) (*PreloadJob, error) {
	if docID == "" {
		return nil, fmt.Errorf("%w: document id is empty", ErrInvalidKey)
	}
	if startPage < 0 || endPage < startPage {
		return nil, fmt.Errorf("%w: page range %d-%d", ErrInvalidKey, startPage, endPage)
	}
	// Validate scale and rotation once up front with a probe key.
	probe := PageKey{DocumentID: docID, PageNumber: startPage, Scale: scale, Rotation: rotation}
	if err := probe.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &PreloadJob{
		ID:         ulid.MustNew(ulid.Now(), rand.Reader),
		DocumentID: docID,
		StartPage:  startPage,
		EndPage:    endPage,
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	run := &preloadRun{job: job, ctx: ctx, cancel: cancel}

	m.mu.Lock()
	if prev, ok := m.preloads[docID]; ok {
		prev.cancel()
	}
	m.preloads[docID] = run
	m.mu.Unlock()

	pages := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.PreloadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pages {
				key := PageKey{DocumentID: docID, PageNumber: page, Scale: scale, Rotation: rotation}
				e, fromCache, err := m.GetOrRender(ctx, key)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						job.recordFailed(page, err)
					}
					continue
				}
				m.Release(e)
				job.recordLoaded(fromCache)
			}
		}()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("panic during page preload", "documentId", docID, "panic", r)
			}
		}()

	feed:
		for page := startPage; page <= endPage; page++ {
			select {
			case pages <- page:
			case <-ctx.Done():
				break feed
			}
		}
		close(pages)
		wg.Wait()

		job.mu.Lock()
		job.finished = true
		job.canceled = ctx.Err() != nil
		job.mu.Unlock()
		close(job.done)

		m.mu.Lock()
		if cur, ok := m.preloads[docID]; ok && cur == run {
			delete(m.preloads, docID)
		}
		m.mu.Unlock()

		st := job.Status()
		m.logger.Info("preload finished",
			"documentId", docID, "loaded", st.Loaded, "skipped", st.Skipped,
			"failed", len(st.Failed), "canceled", st.Canceled)
	}()

	return job, nil
}
