package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/goPDFCache/cache"
	"github.com/drummonds/goPDFCache/config"
	"github.com/drummonds/goPDFCache/database"
	"github.com/drummonds/goPDFCache/engine/pdfrenderer"
)

// fakeEngine rasterizes synthetic pages so route tests don't need a
// real PDF engine.
type fakeEngine struct {
	pages       int
	renderCalls atomic.Int64
}

func (f *fakeEngine) RenderPage(ctx context.Context, filename string, page int, scale float64) (image.Image, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, err
	}
	if page < 0 || page >= f.pages {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", page, f.pages)
	}
	f.renderCalls.Add(1)
	w := int(100 * scale)
	h := int(140 * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (f *fakeEngine) PageCount(ctx context.Context, filename string) (int, error) {
	if _, err := os.Stat(filename); err != nil {
		return 0, err
	}
	return f.pages, nil
}

func (f *fakeEngine) PageMetrics(ctx context.Context, filename string, page int) (*pdfrenderer.PageMetrics, error) {
	if page < 0 || page >= f.pages {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", page, f.pages)
	}
	return &pdfrenderer.PageMetrics{WidthPoints: 612, HeightPoints: 792, PageCount: f.pages}, nil
}

func (f *fakeEngine) Close() error { return nil }

func newTestServer(t *testing.T, engineFake *fakeEngine) (*ServerHandler, *echo.Echo) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	Logger = logger
	database.Logger = logger

	serverConfig := config.ServerConfig{
		DatabaseType:     "sqlite",
		DatabaseDbname:   ":memory:",
		DocumentPath:     t.TempDir(),
		CachePath:        t.TempDir(),
		CacheBudgetBytes: 32 << 20,
		CacheLowWater:    0.75,
		RenderBackend:    "fake",
		RenderTimeout:    5,
		RenderQuality:    100,
		PreloadWorkers:   2,
		MaxDownloadMB:    10,
		CleanupSchedule:  "@every 1h",
		JobRetentionDays: 7,
		UseReverseProxy:  true,
		BaseURL:          "https://pdf.example.com",
	}

	db := database.NewRepository(serverConfig)
	t.Cleanup(func() { db.Close() })

	pageCache, err := cache.NewManager(serverConfig.CacheConfig(),
		database.NewPageStore(db),
		NewPageRenderer(db, engineFake),
		logger)
	if err != nil {
		t.Fatalf("Failed to create cache manager: %v", err)
	}
	t.Cleanup(func() { pageCache.Close() })

	e := echo.New()
	serverHandler := &ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Cache:        pageCache,
		Renderer:     engineFake,
	}

	e.POST("/api/pdf", serverHandler.RegisterDocument)
	e.GET("/api/pdf", serverHandler.GetAllDocuments)
	e.GET("/api/pdf/:id", serverHandler.GetDocument)
	e.DELETE("/api/pdf/:id", serverHandler.DeleteDocument)
	e.GET("/api/pdf/:id/page/:page", serverHandler.GetPage)
	e.GET("/api/pdf/:id/page/:page/metrics", serverHandler.GetPageMetrics)
	e.POST("/api/pdf/:id/preload", serverHandler.PreloadPages)
	e.GET("/api/pdf/:id/metrics", serverHandler.GetPerformanceMetrics)
	e.PUT("/api/pdf/:id/quality", serverHandler.SetRenderQuality)
	e.GET("/api/cache/metrics", serverHandler.GetCacheMetrics)
	e.DELETE("/api/cache", serverHandler.ClearCache)
	e.POST("/api/cache/optimize", serverHandler.OptimizeCacheMemory)
	e.GET("/api/jobs/:id", serverHandler.GetJob)
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/about", serverHandler.GetAboutInfo)

	return serverHandler, e
}

// createTestPDF writes a minimal valid PDF file for registration tests
func createTestPDF(t *testing.T, dir string, name string, text string) string {
	t.Helper()
	pdfContent := `%PDF-1.4
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R] /Count 1 >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>
endobj
trailer
<< /Size 4 /Root 1 0 R >>
%% ` + text + `
%%EOF`
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(pdfContent), 0644); err != nil {
		t.Fatalf("Failed to write test PDF: %v", err)
	}
	return path
}

func registerTestDocument(t *testing.T, e *echo.Echo, path string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"path": path})
	req := httptest.NewRequest(http.MethodPost, "/api/pdf", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Registration returned status %d: %s", rec.Code, rec.Body.String())
	}
	var response struct {
		Document struct {
			ULID string `json:"ulid"`
		} `json:"document"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse registration response: %v", err)
	}
	return response.Document.ULID
}

func TestRegisterDocument(t *testing.T) {
	serverHandler, e := newTestServer(t, &fakeEngine{pages: 3})
	srcDir := t.TempDir()
	pdfPath := createTestPDF(t, srcDir, "manual.pdf", "unique content one")

	t.Run("Registers a new PDF", func(t *testing.T) {
		docID := registerTestDocument(t, e, pdfPath)
		if docID == "" {
			t.Fatal("Registration returned an empty ULID")
		}

		req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GetDocument returned status %d", rec.Code)
		}
		var document struct {
			Name      string `json:"name"`
			PageCount int    `json:"pageCount"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &document); err != nil {
			t.Fatalf("Failed to parse document: %v", err)
		}
		if document.Name != "manual.pdf" {
			t.Errorf("Document name %q, expected manual.pdf", document.Name)
		}
		if document.PageCount != 3 {
			t.Errorf("Page count %d, expected 3", document.PageCount)
		}
	})

	t.Run("Duplicate bytes resolve to the existing document", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"path": pdfPath})
		req := httptest.NewRequest(http.MethodPost, "/api/pdf", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Duplicate registration returned status %d, expected 200", rec.Code)
		}
		var response struct {
			Duplicate bool `json:"duplicate"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if !response.Duplicate {
			t.Error("Expected duplicate flag on a re-registration")
		}

		// The duplicate must not leave a second copy in document storage.
		stored, err := os.ReadDir(serverHandler.ServerConfig.DocumentPath)
		if err != nil {
			t.Fatalf("Failed to list document storage: %v", err)
		}
		if len(stored) != 1 {
			t.Errorf("Document storage holds %d files after a duplicate registration, expected 1", len(stored))
		}
	})

	t.Run("Rejects a non-PDF file", func(t *testing.T) {
		notPDF := filepath.Join(srcDir, "notes.txt")
		if err := os.WriteFile(notPDF, []byte("just text"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		body, _ := json.Marshal(map[string]string{"path": notPDF})
		req := httptest.NewRequest(http.MethodPost, "/api/pdf", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("Non-PDF registration returned status %d, expected 422", rec.Code)
		}
	})

	t.Run("Rejects path and url together", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"path": pdfPath, "url": "http://example.com/a.pdf"})
		req := httptest.NewRequest(http.MethodPost, "/api/pdf", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Ambiguous registration returned status %d, expected 400", rec.Code)
		}
	})
}

func TestRegisterDocumentFromURL(t *testing.T) {
	_, e := newTestServer(t, &fakeEngine{pages: 2})
	srcDir := t.TempDir()
	pdfPath := createTestPDF(t, srcDir, "remote.pdf", "remote content")
	pdfBytes, err := os.ReadFile(pdfPath)
	if err != nil {
		t.Fatalf("Failed to read test PDF: %v", err)
	}

	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfBytes)
	}))
	defer fileServer.Close()

	body, _ := json.Marshal(map[string]string{"url": fileServer.URL + "/remote.pdf"})
	req := httptest.NewRequest(http.MethodPost, "/api/pdf", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("URL registration returned status %d: %s", rec.Code, rec.Body.String())
	}
	var response struct {
		Document struct {
			Name      string `json:"name"`
			SourceURL string `json:"sourceURL"`
		} `json:"document"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response.Document.Name != "remote.pdf" {
		t.Errorf("Document name %q, expected remote.pdf", response.Document.Name)
	}
	if response.Document.SourceURL == "" {
		t.Error("Source URL was not recorded")
	}
}

func TestGetPageCacheFlow(t *testing.T) {
	engineFake := &fakeEngine{pages: 3}
	_, e := newTestServer(t, engineFake)
	docID := registerTestDocument(t, e, createTestPDF(t, t.TempDir(), "doc.pdf", "page flow"))

	getPage := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/0"+query, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("First request renders and misses", func(t *testing.T) {
		rec := getPage("?scale=1.0")
		if rec.Code != http.StatusOK {
			t.Fatalf("GetPage returned status %d: %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("X-Cache header %q, expected MISS", got)
		}
		if got := rec.Header().Get(echo.HeaderContentType); got != "image/png" {
			t.Errorf("Content type %q, expected image/png", got)
		}
		if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
			t.Errorf("Response body is not a decodable PNG: %v", err)
		}
	})

	t.Run("Second request is a cache hit", func(t *testing.T) {
		before := engineFake.renderCalls.Load()
		rec := getPage("?scale=1.0")
		if rec.Code != http.StatusOK {
			t.Fatalf("GetPage returned status %d", rec.Code)
		}
		if got := rec.Header().Get("X-Cache"); got != "HIT" {
			t.Errorf("X-Cache header %q, expected HIT", got)
		}
		if after := engineFake.renderCalls.Load(); after != before {
			t.Errorf("Engine was invoked %d more times on a hit", after-before)
		}
	})

	t.Run("Rotation produces a distinct cache slot", func(t *testing.T) {
		rec := getPage("?scale=1.0&rotation=90")
		if rec.Code != http.StatusOK {
			t.Fatalf("GetPage returned status %d", rec.Code)
		}
		if got := rec.Header().Get("X-Cache"); got != "MISS" {
			t.Errorf("X-Cache header %q, expected MISS for a new rotation", got)
		}
	})

	t.Run("Invalid rotation is rejected", func(t *testing.T) {
		rec := getPage("?rotation=45")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Invalid rotation returned status %d, expected 400", rec.Code)
		}
	})

	t.Run("Out of range page is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/99", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Out of range page returned status %d, expected 404", rec.Code)
		}
	})

	t.Run("Unknown document is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/pdf/01JUNKJUNKJUNKJUNKJUNKJUNK/page/0", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Unknown document returned status %d, expected 404", rec.Code)
		}
	})
}

func TestGetPageMetrics(t *testing.T) {
	_, e := newTestServer(t, &fakeEngine{pages: 3})
	docID := registerTestDocument(t, e, createTestPDF(t, t.TempDir(), "doc.pdf", "metrics"))

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/0/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetPageMetrics returned status %d", rec.Code)
	}
	var metrics pdfrenderer.PageMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("Failed to parse metrics: %v", err)
	}
	if metrics.WidthPoints != 612 || metrics.HeightPoints != 792 {
		t.Errorf("Page geometry %+v, expected 612x792 points", metrics)
	}
	if metrics.PageCount != 3 {
		t.Errorf("Page count %d, expected 3", metrics.PageCount)
	}
}

func TestPreloadPages(t *testing.T) {
	engineFake := &fakeEngine{pages: 5}
	serverHandler, e := newTestServer(t, engineFake)
	docID := registerTestDocument(t, e, createTestPDF(t, t.TempDir(), "doc.pdf", "preload"))

	body, _ := json.Marshal(map[string]interface{}{"startPage": 0, "endPage": 4, "scale": 1.0})
	req := httptest.NewRequest(http.MethodPost, "/api/pdf/"+docID+"/preload", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Preload returned status %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("Failed to parse preload response: %v", err)
	}

	// Poll the job until the preload completes
	deadline := time.Now().Add(5 * time.Second)
	var finalStatus string
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+started.JobID, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GetJob returned status %d", rec.Code)
		}
		var job struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatalf("Failed to parse job: %v", err)
		}
		finalStatus = job.Status
		if finalStatus == "completed" || finalStatus == "failed" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if finalStatus != "completed" {
		t.Fatalf("Preload job finished with status %q, expected completed", finalStatus)
	}

	// Every preloaded page should now be a cache hit
	before := engineFake.renderCalls.Load()
	for page := 0; page < 5; page++ {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/pdf/%s/page/%d?scale=1.0", docID, page), nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GetPage %d returned status %d", page, rec.Code)
		}
		if got := rec.Header().Get("X-Cache"); got != "HIT" {
			t.Errorf("Page %d X-Cache %q, expected HIT after preload", page, got)
		}
	}
	if after := engineFake.renderCalls.Load(); after != before {
		t.Errorf("Engine was invoked %d more times after preload", after-before)
	}

	stats := serverHandler.Cache.Metrics()
	if stats.EntryCount != 5 {
		t.Errorf("Cache holds %d entries, expected 5 after preload", stats.EntryCount)
	}
}

func TestCacheMetricsAndClear(t *testing.T) {
	_, e := newTestServer(t, &fakeEngine{pages: 3})
	docID := registerTestDocument(t, e, createTestPDF(t, t.TempDir(), "doc.pdf", "clear"))

	// Render one page so there is something to measure
	req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/0", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetPage returned status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/cache/metrics", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetCacheMetrics returned status %d", rec.Code)
	}
	var metrics struct {
		Stats struct {
			Misses     int64 `json:"misses"`
			EntryCount int   `json:"entryCount"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("Failed to parse metrics: %v", err)
	}
	if metrics.Stats.Misses != 1 || metrics.Stats.EntryCount != 1 {
		t.Errorf("Metrics %+v, expected 1 miss and 1 entry", metrics.Stats)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/cache?type=all", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ClearCache returned status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/cache/metrics", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("Failed to parse metrics: %v", err)
	}
	if metrics.Stats.Misses != 0 || metrics.Stats.EntryCount != 0 {
		t.Errorf("Metrics %+v after clear-all, expected zeroed counters", metrics.Stats)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/cache?type=bogus", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Unknown cache type returned status %d, expected 400", rec.Code)
	}
}

func TestSetRenderQuality(t *testing.T) {
	engineFake := &fakeEngine{pages: 3}
	_, e := newTestServer(t, engineFake)
	docID := registerTestDocument(t, e, createTestPDF(t, t.TempDir(), "doc.pdf", "quality"))

	putQuality := func(quality int) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]int{"quality": quality})
		req := httptest.NewRequest(http.MethodPut, "/api/pdf/"+docID+"/quality", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := putQuality(150); rec.Code != http.StatusBadRequest {
		t.Errorf("Out-of-range quality returned status %d, expected 400", rec.Code)
	}

	// Warm the cache at full quality
	req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/0?scale=2.0", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetPage returned status %d", rec.Code)
	}

	if rec := putQuality(50); rec.Code != http.StatusOK {
		t.Fatalf("SetRenderQuality returned status %d: %s", rec.Code, rec.Body.String())
	}

	// Quality folds into the key, so the same request lands in a new slot
	req = httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/0?scale=2.0", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetPage returned status %d", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache %q after quality change, expected MISS", got)
	}
}

func TestDeleteDocumentDropsCachedPages(t *testing.T) {
	serverHandler, e := newTestServer(t, &fakeEngine{pages: 3})
	docID := registerTestDocument(t, e, createTestPDF(t, t.TempDir(), "doc.pdf", "delete"))

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/0", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetPage returned status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/pdf/"+docID, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("DeleteDocument returned status %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Deleted document returned status %d, expected 404", rec.Code)
	}

	if stats := serverHandler.Cache.Metrics(); stats.EntryCount != 0 {
		t.Errorf("Cache holds %d entries after document delete, expected 0", stats.EntryCount)
	}
}

func TestGetAboutInfo(t *testing.T) {
	serverHandler, e := newTestServer(t, &fakeEngine{pages: 1})

	req := httptest.NewRequest(http.MethodGet, "/api/about", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetAboutInfo returned status %d", rec.Code)
	}
	var about struct {
		DatabaseType string `json:"databaseType"`
		ProxyEnabled bool   `json:"proxyEnabled"`
		BaseURL      string `json:"baseURL"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &about); err != nil {
		t.Fatalf("Failed to parse about info: %v", err)
	}
	if about.DatabaseType != "sqlite" {
		t.Errorf("Database type %q, expected sqlite", about.DatabaseType)
	}
	if !about.ProxyEnabled {
		t.Error("Proxy flag not surfaced in about info")
	}
	if about.BaseURL != serverHandler.ServerConfig.BaseURL {
		t.Errorf("Base URL %q, expected %q", about.BaseURL, serverHandler.ServerConfig.BaseURL)
	}
}

func TestPerformanceMetricsRoute(t *testing.T) {
	_, e := newTestServer(t, &fakeEngine{pages: 3})
	docID := registerTestDocument(t, e, createTestPDF(t, t.TempDir(), "doc.pdf", "perf"))

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/page/0", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetPage returned status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/pdf/"+docID+"/metrics", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetPerformanceMetrics returned status %d", rec.Code)
	}
	var perf struct {
		Renders     int64 `json:"renders"`
		CachedPages int   `json:"cachedPages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &perf); err != nil {
		t.Fatalf("Failed to parse performance metrics: %v", err)
	}
	if perf.Renders != 1 {
		t.Errorf("Render count %d, expected 1", perf.Renders)
	}
	if perf.CachedPages != 1 {
		t.Errorf("Cached pages %d, expected 1", perf.CachedPages)
	}
}
