package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/drummonds/goPDFCache/cache"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseDbname   string
	DatabaseSslmode  string
	DocumentPath     string // where registered source PDFs are stored
	CachePath        string // where rendered page payloads are stored
	CacheBudgetBytes int64
	CacheLowWater    float64
	CacheTTLDays     int
	RenderBackend    string // pdfium or fitz
	RenderTimeout    int    // seconds per page render
	RenderQuality    int    // default render quality 1-100
	PreloadWorkers   int
	MaxDownloadMB    int64  // cap on remote PDF registration size
	CleanupSchedule  string // cron expression for cache maintenance
	JobRetentionDays int
	UseReverseProxy  bool
	BaseURL          string
}

// CacheConfig maps the server settings onto the cache manager's config.
func (sc ServerConfig) CacheConfig() cache.Config {
	return cache.Config{
		Dir:              sc.CachePath,
		BudgetBytes:      sc.CacheBudgetBytes,
		LowWaterFraction: sc.CacheLowWater,
		RenderTimeout:    time.Duration(sc.RenderTimeout) * time.Second,
		DefaultQuality:   sc.RenderQuality,
		PreloadWorkers:   sc.PreloadWorkers,
		EntryTTL:         time.Duration(sc.CacheTTLDays) * 24 * time.Hour,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvInt64 gets a 64-bit integer environment variable with a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "gopdfcache")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "gopdfcache")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	// Document storage configuration
	documentPathRelative := filepath.ToSlash(getEnv("DOCUMENT_PATH", "documents"))
	documentPathAbs, err := filepath.Abs(documentPathRelative)
	if err != nil {
		logger.Error("Error creating document path", "path", documentPathRelative, "error", err)
	}
	serverConfigLive.DocumentPath = documentPathAbs

	// Cache configuration
	cachePathRelative := filepath.ToSlash(getEnv("CACHE_PATH", "pagecache"))
	cachePathAbs, err := filepath.Abs(cachePathRelative)
	if err != nil {
		logger.Error("Error creating cache path", "path", cachePathRelative, "error", err)
	}
	serverConfigLive.CachePath = cachePathAbs
	serverConfigLive.CacheBudgetBytes = getEnvInt64("CACHE_BUDGET_BYTES", 256<<20)
	serverConfigLive.CacheLowWater = getEnvFloat("CACHE_LOW_WATER", 0.75)
	serverConfigLive.CacheTTLDays = getEnvInt("CACHE_TTL_DAYS", 30)

	// Render configuration
	serverConfigLive.RenderBackend = getEnv("RENDER_BACKEND", "pdfium")
	serverConfigLive.RenderTimeout = getEnvInt("RENDER_TIMEOUT_SECONDS", 30)
	serverConfigLive.RenderQuality = getEnvInt("RENDER_QUALITY", 100)
	serverConfigLive.PreloadWorkers = getEnvInt("PRELOAD_WORKERS", 2)
	serverConfigLive.MaxDownloadMB = getEnvInt64("MAX_DOWNLOAD_MB", 100)

	// Maintenance configuration
	serverConfigLive.CleanupSchedule = getEnv("CLEANUP_SCHEDULE", "@every 1h")
	serverConfigLive.JobRetentionDays = getEnvInt("JOB_RETENTION_DAYS", 7)

	// Reverse proxy configuration
	serverConfigLive.UseReverseProxy = getEnvBool("PROXY_ENABLED", false)
	serverConfigLive.BaseURL = getEnv("BASE_URL", "")

	fmt.Println("\n========================================")
	fmt.Println("   goPDFCache - PDF Page Render Cache")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
		if outboundIP, err := GetPreferredOutboundIP(); err == nil {
			fmt.Printf("Reachable on the LAN at: http://%s:%s\n", outboundIP.String(), serverConfigLive.ListenAddrPort)
		}
	}
	if serverConfigLive.UseReverseProxy && serverConfigLive.BaseURL != "" {
		fmt.Printf("Behind reverse proxy at: %s\n", serverConfigLive.BaseURL)
	}
	fmt.Printf("Cache budget: %d MB\n", serverConfigLive.CacheBudgetBytes>>20)
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "gopdfcache.log"))
	fmt.Println("Initializing...")

	logger.Info("About to setup database", "type", serverConfigLive.DatabaseType)

	return serverConfigLive, logger
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "gopdfcache.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// GetPreferredOutboundIP gets preferred outbound IP of this machine
func GetPreferredOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}
