package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/drummonds/goPDFCache/cache"
	"github.com/drummonds/goPDFCache/database"
)

var pdfMagic = []byte("%PDF-")

// RegisterDocumentFromPath registers a PDF already on the local
// filesystem. The file is copied into document storage under its new
// ULID so later path changes at the source cannot break cached pages.
// Returns the existing document when the same bytes are already
// registered.
func (serverHandler *ServerHandler) RegisterDocumentFromPath(ctx context.Context, filePath string) (*database.Document, bool, error) {
	// Hash straight off disk so duplicate registrations never load the
	// file into memory.
	fileHash, err := database.HashFile(filePath)
	if err != nil {
		return nil, false, fmt.Errorf("unable to read source file: %w", err)
	}
	if existing, duplicate := database.CheckDuplicateDocument(fileHash, serverHandler.DB); duplicate {
		Logger.Info("Document already registered, returning existing entry", "path", filePath, "ulid", existing.ULID.String())
		return existing, true, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, false, fmt.Errorf("unable to read source file: %w", err)
	}
	return serverHandler.registerDocumentBytes(ctx, filepath.Base(filePath), "", data)
}

// RegisterDocumentFromURL downloads a PDF and registers it. Downloads
// are capped at MaxDownloadMB.
func (serverHandler *ServerHandler) RegisterDocumentFromURL(ctx context.Context, sourceURL string) (*database.Document, bool, error) {
	Logger.Info("Downloading document for registration", "url", sourceURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid document URL: %w", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, false, fmt.Errorf("unable to download document: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("download failed with status %s", response.Status)
	}

	maxBytes := serverHandler.ServerConfig.MaxDownloadMB * 1024 * 1024
	data, err := io.ReadAll(io.LimitReader(response.Body, maxBytes+1))
	if err != nil {
		return nil, false, fmt.Errorf("unable to read download body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, false, fmt.Errorf("download exceeds the %dMB limit", serverHandler.ServerConfig.MaxDownloadMB)
	}

	name := filepath.Base(request.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = "document.pdf"
	}
	return serverHandler.registerDocumentBytes(ctx, name, sourceURL, data)
}

// registerDocumentBytes is the shared tail of both registration paths.
// The second return value reports whether an already-registered
// document was found for the same bytes.
func (serverHandler *ServerHandler) registerDocumentBytes(ctx context.Context, name string, sourceURL string, data []byte) (*database.Document, bool, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, false, fmt.Errorf("file %s is not a PDF", name)
	}

	fileHash := database.HashBytes(data)
	if existing, duplicate := database.CheckDuplicateDocument(fileHash, serverHandler.DB); duplicate {
		Logger.Info("Document already registered, returning existing entry", "name", name, "ulid", existing.ULID.String())
		return existing, true, nil
	}

	now := time.Now()
	documentULID, err := database.CalculateUUID(now)
	if err != nil {
		return nil, false, fmt.Errorf("unable to generate document ULID: %w", err)
	}

	storedPath := filepath.Join(serverHandler.ServerConfig.DocumentPath, documentULID.String()+".pdf")
	if err := os.WriteFile(storedPath, data, 0644); err != nil {
		return nil, false, fmt.Errorf("unable to store document: %w", err)
	}

	pageCount, err := serverHandler.Renderer.PageCount(ctx, storedPath)
	if err != nil {
		os.Remove(storedPath)
		return nil, false, fmt.Errorf("unable to open stored PDF: %w", err)
	}

	document := &database.Document{
		Name:         name,
		Path:         storedPath,
		ULID:         documentULID,
		Hash:         fileHash,
		ByteSize:     int64(len(data)),
		PageCount:    pageCount,
		SourceURL:    sourceURL,
		RegisteredAt: now,
	}
	if err := serverHandler.DB.SaveDocument(document); err != nil {
		os.Remove(storedPath)
		Logger.Error("Failed to add document to database", "name", name, "error", err)
		return nil, false, err
	}

	Logger.Info("Registered new document", "name", name, "ulid", documentULID.String(), "pages", pageCount)
	return document, false, nil
}

// DeleteDocumentAndCache removes a registered document, its stored
// file, and every cached page rendered from it.
func (serverHandler *ServerHandler) DeleteDocumentAndCache(ulidStr string) error {
	document, _, err := database.FetchDocument(ulidStr, serverHandler.DB)
	if err != nil {
		return err
	}

	removed, err := serverHandler.Cache.Invalidate(ulidStr, cache.CacheTypeDocument)
	if err != nil {
		Logger.Error("Unable to invalidate cached pages for document", "ulid", ulidStr, "error", err)
		return err
	}
	Logger.Debug("Invalidated cached pages for document", "ulid", ulidStr, "count", removed)

	if err := database.DeleteDocument(ulidStr, serverHandler.DB); err != nil {
		return err
	}

	if err := os.Remove(document.Path); err != nil && !os.IsNotExist(err) {
		Logger.Error("Unable to delete document from file system", "path", document.Path, "error", err)
		return err
	}

	Logger.Info("Deleted document and cached pages", "ulid", ulidStr, "name", document.Name)
	return nil
}
