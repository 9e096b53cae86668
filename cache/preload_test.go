package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPreloadRange(t *testing.T) {
	boom := errors.New("corrupt page stream")
	r := &countingRenderer{fail: func(key PageKey) error {
		if key.PageNumber == 3 {
			return boom
		}
		return nil
	}}
	m := newTestManager(t, Config{PreloadWorkers: 2}, nil, r)

	job, err := m.Preload("doc", 1, 5, 1.0, 0)
	if err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("preload did not finish: %v", err)
	}

	st := job.Status()
	if !st.Finished || st.Canceled {
		t.Errorf("unexpected job state: %+v", st)
	}
	if st.Loaded != 4 {
		t.Errorf("loaded %d pages, expected 4", st.Loaded)
	}
	if msg, ok := st.Failed[3]; !ok {
		t.Error("page 3 failure not recorded")
	} else if msg == "" {
		t.Error("page 3 failure recorded without a reason")
	}

	// The failing page must not have poisoned its neighbors.
	for _, page := range []int{1, 2, 4, 5} {
		e, fromCache, err := m.GetOrRender(context.Background(), pageKey("doc", page))
		if err != nil {
			t.Fatalf("page %d not usable after preload: %v", page, err)
		}
		if !fromCache {
			t.Errorf("page %d missed the cache after preload", page)
		}
		m.Release(e)
	}
}

func TestPreloadSkipsCachedPages(t *testing.T) {
	r := &countingRenderer{}
	m := newTestManager(t, Config{PreloadWorkers: 1}, nil, r)

	m.Release(mustRender(t, m, pageKey("doc", 2)))

	job, err := m.Preload("doc", 1, 3, 1.0, 0)
	if err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := job.Wait(ctx); err != nil {
		t.Fatalf("preload did not finish: %v", err)
	}

	st := job.Status()
	if st.Loaded != 2 || st.Skipped != 1 {
		t.Errorf("loaded=%d skipped=%d, expected 2/1", st.Loaded, st.Skipped)
	}
	if got := r.calls.Load(); got != 3 {
		t.Errorf("engine invoked %d times, expected 3", got)
	}
}

func TestPreloadSuperseded(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	r := RendererFunc(func(ctx context.Context, key PageKey) (*RenderResult, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return &RenderResult{PNG: make([]byte, 64), Width: 10, Height: 10, Elapsed: time.Millisecond}, nil
	})
	m := newTestManager(t, Config{PreloadWorkers: 1}, nil, r)

	first, err := m.Preload("doc", 1, 100, 1.0, 0)
	if err != nil {
		t.Fatalf("first Preload failed: %v", err)
	}
	<-entered

	second, err := m.Preload("doc", 1, 5, 1.0, 0)
	if err != nil {
		t.Fatalf("second Preload failed: %v", err)
	}
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := first.Wait(ctx); err != nil {
		t.Fatalf("superseded preload did not finish: %v", err)
	}
	if err := second.Wait(ctx); err != nil {
		t.Fatalf("second preload did not finish: %v", err)
	}

	firstState := first.Status()
	if !firstState.Canceled {
		t.Error("superseded preload not marked canceled")
	}
	if firstState.Loaded+firstState.Skipped >= 100 {
		t.Error("superseded preload ran its full range")
	}
	if st := second.Status(); st.Canceled {
		t.Errorf("second preload unexpectedly canceled: %+v", st)
	}
}

func TestPreloadRejectsBadRange(t *testing.T) {
	m := newTestManager(t, Config{}, nil, &countingRenderer{})
	if _, err := m.Preload("doc", 5, 1, 1.0, 0); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for an inverted range, got %v", err)
	}
	if _, err := m.Preload("", 1, 5, 1.0, 0); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for an empty document id, got %v", err)
	}
	if _, err := m.Preload("doc", 1, 5, 0, 0); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for a zero scale, got %v", err)
	}
}
