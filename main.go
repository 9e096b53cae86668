package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	cache "github.com/drummonds/goPDFCache/cache"
	config "github.com/drummonds/goPDFCache/config"
	database "github.com/drummonds/goPDFCache/database"
	engine "github.com/drummonds/goPDFCache/engine"
	pdfrenderer "github.com/drummonds/goPDFCache/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
}

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("🚀  EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println("• Perfect for testing and development")
		fmt.Println("• No persistent data storage")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	// Setup database (handles ephemeral, postgres, cockroachdb, sqlite)
	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db := database.NewRepository(serverConfig)
	defer db.Close()
	Logger.Info("Database setup complete")

	// Setup the render engine
	renderer, err := pdfrenderer.NewRenderer(serverConfig.RenderBackend)
	if err != nil {
		Logger.Error("Failed to initialize render backend", "backend", serverConfig.RenderBackend, "error", err)
		os.Exit(1)
	}
	defer renderer.Close()
	Logger.Info("Render backend ready", "backend", serverConfig.RenderBackend)

	// Setup the page cache on top of the database and render engine
	pageCache, err := cache.NewManager(serverConfig.CacheConfig(),
		database.NewPageStore(db),
		engine.NewPageRenderer(db, renderer),
		logger)
	if err != nil {
		Logger.Error("Failed to initialize page cache", "error", err)
		os.Exit(1)
	}
	defer pageCache.Close()
	if err := pageCache.LoadPersisted(); err != nil {
		Logger.Error("Failed to reload persisted cache state", "error", err)
		os.Exit(1)
	}
	Logger.Info("Page cache ready", "budgetBytes", serverConfig.CacheBudgetBytes)

	e := echo.New()
	Logger.Info("Echo created")

	// Custom 404 handler: this is an API-only server, always answer JSON
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		if code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}

		e.DefaultHTTPErrorHandler(err, c)
	}

	serverHandler := engine.ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Cache:        pageCache,
		Renderer:     renderer,
	}
	Logger.Info("About to run startup checks")
	if err := serverHandler.StartupChecks(); err != nil { //Run all the sanity checks
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete, initializing schedules")
	serverHandler.InitializeSchedules() //initialize all the cron jobs
	Logger.Info("Schedules initialized")

	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))

	// Document API routes
	e.POST("/api/pdf", serverHandler.RegisterDocument)
	e.GET("/api/pdf", serverHandler.GetAllDocuments)
	e.GET("/api/pdf/:id", serverHandler.GetDocument)
	e.DELETE("/api/pdf/:id", serverHandler.DeleteDocument)

	// Page render API routes
	e.GET("/api/pdf/:id/page/:page", serverHandler.GetPage)
	e.GET("/api/pdf/:id/page/:page/metrics", serverHandler.GetPageMetrics)
	e.POST("/api/pdf/:id/preload", serverHandler.PreloadPages)
	e.GET("/api/pdf/:id/metrics", serverHandler.GetPerformanceMetrics)
	e.PUT("/api/pdf/:id/quality", serverHandler.SetRenderQuality)

	// Cache API routes
	e.GET("/api/cache/metrics", serverHandler.GetCacheMetrics)
	e.DELETE("/api/cache", serverHandler.ClearCache)
	e.POST("/api/cache/optimize", serverHandler.OptimizeCacheMemory)

	// Admin API routes
	e.POST("/api/maintenance", serverHandler.RunMaintenanceNow)
	e.GET("/api/about", serverHandler.GetAboutInfo)

	// Job tracking API routes
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/jobs/active", serverHandler.GetActiveJobs)
	e.GET("/api/jobs/:id", serverHandler.GetJob)

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	Logger.Info("Starting HTTP server")

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)

		// Check if error is "address already in use"
		if startErr != nil && isAddressInUse(startErr) {
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			// Increment port for next attempt
			portNum := 0
			fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
			portNum++
			serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)

			if attempt == maxRetries-1 {
				Logger.Error("Failed to find available port after maximum retries",
					"start_port", startPort,
					"end_port", serverConfig.ListenAddrPort,
					"max_retries", maxRetries)
				os.Exit(1)
			}
		} else if startErr != nil {
			// Some other error occurred
			Logger.Error("Failed to start server", "error", startErr)
			os.Exit(1)
		} else {
			// Server started successfully
			break
		}
	}

	// If we got here and startErr is nil, server started successfully
	if startErr == nil && serverConfig.ListenAddrPort != startPort {
		Logger.Warn("Server started on alternative port due to conflicts",
			"requested_port", startPort,
			"actual_port", serverConfig.ListenAddrPort)
	}
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
