package engine

import (
	"fmt"
	"os"

	"github.com/drummonds/goPDFCache/config"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	if err := documentDirectoryChecks(serverHandler.ServerConfig); err != nil {
		return err
	}
	if err := cacheDirectoryChecks(serverHandler.ServerConfig); err != nil {
		return err
	}
	return nil
}

// documentDirectoryChecks ensures the document storage directory exists
func documentDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.DocumentPath == "" {
		Logger.Warn("Document path not configured")
		return nil
	}

	// Check if directory exists
	docInfo, err := os.Stat(serverConfig.DocumentPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create the directory
			Logger.Info("Creating document directory", "path", serverConfig.DocumentPath)
			err = os.MkdirAll(serverConfig.DocumentPath, 0755)
			if err != nil {
				Logger.Error("Failed to create document directory", "path", serverConfig.DocumentPath, "error", err)
				return err
			}
			Logger.Info("Document directory created successfully", "path", serverConfig.DocumentPath)
			return nil
		}
		Logger.Error("Error checking document directory", "path", serverConfig.DocumentPath, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !docInfo.IsDir() {
		Logger.Error("Document path exists but is not a directory", "path", serverConfig.DocumentPath)
		return fmt.Errorf("document path is not a directory: %s", serverConfig.DocumentPath)
	}

	Logger.Info("Document directory exists", "path", serverConfig.DocumentPath)
	return nil
}

// cacheDirectoryChecks ensures the page cache directory exists
func cacheDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.CachePath == "" {
		Logger.Warn("Cache path not configured")
		return nil
	}

	cacheInfo, err := os.Stat(serverConfig.CachePath)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating cache directory", "path", serverConfig.CachePath)
			err = os.MkdirAll(serverConfig.CachePath, 0755)
			if err != nil {
				Logger.Error("Failed to create cache directory", "path", serverConfig.CachePath, "error", err)
				return err
			}
			Logger.Info("Cache directory created successfully", "path", serverConfig.CachePath)
			return nil
		}
		Logger.Error("Error checking cache directory", "path", serverConfig.CachePath, "error", err)
		return err
	}

	if !cacheInfo.IsDir() {
		Logger.Error("Cache path exists but is not a directory", "path", serverConfig.CachePath)
		return fmt.Errorf("cache path is not a directory: %s", serverConfig.CachePath)
	}

	Logger.Info("Cache directory exists", "path", serverConfig.CachePath)
	return nil
}
