package engine

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/goPDFCache/cache"
	"github.com/drummonds/goPDFCache/config"
	"github.com/drummonds/goPDFCache/database"
	"github.com/drummonds/goPDFCache/engine/pdfrenderer"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Cache        *cache.Manager
	Renderer     pdfrenderer.Renderer
}

type registerRequest struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

type preloadRequest struct {
	StartPage int     `json:"startPage"`
	EndPage   int     `json:"endPage"`
	Scale     float64 `json:"scale"`
	Rotation  int     `json:"rotation"`
}

type qualityRequest struct {
	Quality int `json:"quality"`
}

type documentResponse struct {
	ULID         string    `json:"ulid"`
	Name         string    `json:"name"`
	ByteSize     int64     `json:"byteSize"`
	PageCount    int       `json:"pageCount"`
	SourceURL    string    `json:"sourceURL,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}

func toDocumentResponse(document database.Document) documentResponse {
	return documentResponse{
		ULID:         document.ULID.String(),
		Name:         document.Name,
		ByteSize:     document.ByteSize,
		PageCount:    document.PageCount,
		SourceURL:    document.SourceURL,
		RegisteredAt: document.RegisteredAt,
	}
}

// RegisterDocument registers a PDF from a local path or a URL so its
// pages can be rendered and cached. Duplicate uploads resolve to the
// already-registered document.
func (serverHandler *ServerHandler) RegisterDocument(c echo.Context) error {
	var request registerRequest
	if err := c.Bind(&request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}
	if (request.Path == "") == (request.URL == "") {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Exactly one of path or url is required",
		})
	}

	var document *database.Document
	var duplicate bool
	var err error
	if request.Path != "" {
		document, duplicate, err = serverHandler.RegisterDocumentFromPath(c.Request().Context(), request.Path)
	} else {
		document, duplicate, err = serverHandler.RegisterDocumentFromURL(c.Request().Context(), request.URL)
	}
	if err != nil {
		Logger.Error("Document registration failed", "error", err)
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error": err.Error(),
		})
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, map[string]interface{}{
		"document":  toDocumentResponse(*document),
		"duplicate": duplicate,
	})
}

// GetAllDocuments lists every registered document
func (serverHandler *ServerHandler) GetAllDocuments(c echo.Context) error {
	documents, err := database.FetchAllDocuments(serverHandler.DB)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to list documents",
		})
	}
	responses := make([]documentResponse, 0, len(documents))
	for _, document := range documents {
		responses = append(responses, toDocumentResponse(document))
	}
	return c.JSON(http.StatusOK, responses)
}

// GetDocument will return a document by ULID
func (serverHandler *ServerHandler) GetDocument(c echo.Context) error {
	ulidStr := c.Param("id")
	document, httpStatus, err := database.FetchDocument(ulidStr, serverHandler.DB)
	if err != nil {
		Logger.Error("GetDocument API call failed", "error", err)
		return c.JSON(httpStatus, map[string]interface{}{
			"error": "Document not found",
		})
	}
	return c.JSON(httpStatus, toDocumentResponse(document))
}

// DeleteDocument removes a document, its stored file, and its cached pages
func (serverHandler *ServerHandler) DeleteDocument(c echo.Context) error {
	ulidStr := c.Param("id")
	if err := serverHandler.DeleteDocumentAndCache(ulidStr); err != nil {
		Logger.Error("DeleteDocument API call failed", "ulid", ulidStr, "error", err)
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Document not found",
		})
	}
	return c.JSON(http.StatusOK, "Document Deleted")
}

// GetPage renders one page of a document as PNG, served from the cache
// when possible. Pages are zero-based. The X-Cache header reports
// whether the response was a cache hit.
func (serverHandler *ServerHandler) GetPage(c echo.Context) error {
	ulidStr := c.Param("id")
	document, httpStatus, err := database.FetchDocument(ulidStr, serverHandler.DB)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": "Document not found",
		})
	}

	pageNumber, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid page number",
		})
	}
	if pageNumber < 0 || pageNumber >= document.PageCount {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Page out of range",
		})
	}

	scale := 1.0
	if scaleParam := c.QueryParam("scale"); scaleParam != "" {
		if s, err := strconv.ParseFloat(scaleParam, 64); err == nil {
			scale = s
		} else {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "Invalid scale",
			})
		}
	}
	rotation := 0
	if rotationParam := c.QueryParam("rotation"); rotationParam != "" {
		if r, err := strconv.Atoi(rotationParam); err == nil {
			rotation = r
		} else {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "Invalid rotation",
			})
		}
	}

	key := cache.PageKey{
		DocumentID: ulidStr,
		PageNumber: pageNumber,
		Scale:      serverHandler.Cache.EffectiveScale(ulidStr, scale),
		Rotation:   rotation,
	}

	entry, hit, err := serverHandler.Cache.GetOrRender(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidKey) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": err.Error(),
			})
		}
		Logger.Error("Page render failed", "key", key.String(), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Render failed",
		})
	}
	defer serverHandler.Cache.Release(entry)

	if hit {
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
	c.Response().Header().Set("X-Page-Width", strconv.Itoa(entry.Width))
	c.Response().Header().Set("X-Page-Height", strconv.Itoa(entry.Height))
	return c.Blob(http.StatusOK, "image/png", entry.Payload())
}

// GetPageMetrics returns the intrinsic geometry of one page without
// rendering it
func (serverHandler *ServerHandler) GetPageMetrics(c echo.Context) error {
	ulidStr := c.Param("id")
	document, httpStatus, err := database.FetchDocument(ulidStr, serverHandler.DB)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": "Document not found",
		})
	}

	pageNumber, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid page number",
		})
	}

	metrics, err := serverHandler.Renderer.PageMetrics(c.Request().Context(), document.Path, pageNumber)
	if err != nil {
		Logger.Error("Page metrics lookup failed", "ulid", ulidStr, "page", pageNumber, "error", err)
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, metrics)
}

// PreloadPages starts a background render of a page range and returns
// a job that can be polled for progress. A new preload for the same
// document supersedes the previous one.
func (serverHandler *ServerHandler) PreloadPages(c echo.Context) error {
	ulidStr := c.Param("id")
	document, httpStatus, err := database.FetchDocument(ulidStr, serverHandler.DB)
	if err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": "Document not found",
		})
	}

	var request preloadRequest
	if err := c.Bind(&request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}
	if request.Scale == 0 {
		request.Scale = 1.0
	}
	if request.EndPage >= document.PageCount {
		request.EndPage = document.PageCount - 1
	}

	scale := serverHandler.Cache.EffectiveScale(ulidStr, request.Scale)
	preload, err := serverHandler.Cache.Preload(ulidStr, request.StartPage, request.EndPage, scale, request.Rotation)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	job, err := serverHandler.DB.CreateJob(database.JobTypePreload,
		"Preloading pages "+strconv.Itoa(request.StartPage)+"-"+strconv.Itoa(request.EndPage)+" of "+document.Name)
	if err != nil {
		Logger.Error("Failed to create preload job", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to create job",
		})
	}

	go serverHandler.preloadJobFuncWithTracking(job.ID, preload)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":   "Preload started",
		"jobId":     job.ID.String(),
		"preloadId": preload.ID.String(),
	})
}

// GetCacheMetrics returns the cache-wide counters
func (serverHandler *ServerHandler) GetCacheMetrics(c echo.Context) error {
	stats := serverHandler.Cache.Metrics()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stats":       stats,
		"hitRate":     stats.HitRate(),
		"budgetBytes": serverHandler.ServerConfig.CacheBudgetBytes,
	})
}

// ClearCache invalidates cached pages. The type parameter selects the
// scope: "pages" or "document" (with id) or "all".
func (serverHandler *ServerHandler) ClearCache(c echo.Context) error {
	cacheType := cache.CacheType(c.QueryParam("type"))
	if cacheType == "" {
		cacheType = cache.CacheTypeAll
	}
	docID := c.QueryParam("id")

	removed, err := serverHandler.Cache.Invalidate(docID, cacheType)
	if err != nil {
		Logger.Error("Cache invalidation failed", "type", cacheType, "id", docID, "error", err)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Cache cleared",
		"removed": removed,
	})
}

// OptimizeCacheMemory evicts down to the low-water mark, preferring
// pages of the named document when an id is given
func (serverHandler *ServerHandler) OptimizeCacheMemory(c echo.Context) error {
	docID := c.QueryParam("id")
	freed := serverHandler.Cache.OptimizeMemory(docID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":    "Memory optimized",
		"freedBytes": freed,
	})
}

// GetPerformanceMetrics returns per-document render timing
func (serverHandler *ServerHandler) GetPerformanceMetrics(c echo.Context) error {
	ulidStr := c.Param("id")
	if _, httpStatus, err := database.FetchDocument(ulidStr, serverHandler.DB); err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": "Document not found",
		})
	}
	return c.JSON(http.StatusOK, serverHandler.Cache.PerformanceMetrics(ulidStr))
}

// SetRenderQuality sets the document's render quality percentage. The
// quality folds into the cache key, so previously cached pages at other
// qualities stay valid.
func (serverHandler *ServerHandler) SetRenderQuality(c echo.Context) error {
	ulidStr := c.Param("id")
	if _, httpStatus, err := database.FetchDocument(ulidStr, serverHandler.DB); err != nil {
		return c.JSON(httpStatus, map[string]interface{}{
			"error": "Document not found",
		})
	}

	var request qualityRequest
	if err := c.Bind(&request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}
	if err := serverHandler.Cache.SetRenderQuality(ulidStr, request.Quality); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Render quality updated",
		"quality": request.Quality,
	})
}

// RunMaintenanceNow triggers the cache maintenance sweep manually
func (serverHandler *ServerHandler) RunMaintenanceNow(c echo.Context) error {
	Logger.Info("Manual cache maintenance triggered via API")

	job, err := serverHandler.DB.CreateJob(database.JobTypeCleanup, "Starting cache maintenance")
	if err != nil {
		Logger.Error("Failed to create maintenance job", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to create job",
		})
	}

	go serverHandler.maintenanceJobFuncWithTracking(job.ID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Maintenance started",
		"jobId":   job.ID.String(),
	})
}

// GetAboutInfo returns information about the application configuration
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	aboutInfo := map[string]interface{}{
		"databaseType":  serverHandler.ServerConfig.DatabaseType,
		"databaseHost":  serverHandler.ServerConfig.DatabaseHost,
		"databasePort":  serverHandler.ServerConfig.DatabasePort,
		"databaseName":  serverHandler.ServerConfig.DatabaseDbname,
		"documentPath":  serverHandler.ServerConfig.DocumentPath,
		"cachePath":     serverHandler.ServerConfig.CachePath,
		"renderBackend": serverHandler.ServerConfig.RenderBackend,
		"budgetBytes":   serverHandler.ServerConfig.CacheBudgetBytes,
		"proxyEnabled":  serverHandler.ServerConfig.UseReverseProxy,
		"baseURL":       serverHandler.ServerConfig.BaseURL,
	}
	return c.JSON(http.StatusOK, aboutInfo)
}
