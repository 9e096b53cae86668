package database

import (
	"crypto/md5"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// Document is one registered PDF. Rendered pages are keyed by the
// document's ULID string, so cached pages always trace back to a row
// here.
type Document struct {
	ID           int
	Name         string
	Path         string // full path to the stored source PDF
	ULID         ulid.ULID
	Hash         string // md5 of the source bytes, used for duplicate detection
	ByteSize     int64
	PageCount    int
	SourceURL    string // where the PDF was downloaded from, if it was
	RegisteredAt time.Time
}

// PageRecord is the persisted descriptor of one cached rendered page.
// The pixel payload itself lives on disk; this row carries the byte
// accounting and recency that must survive a restart.
type PageRecord struct {
	DocumentID     string
	PageNumber     int
	Scale          float64
	Rotation       int
	ByteSize       int64
	RenderTimeMs   int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// Repository defines database operations
type Repository interface {
	Close() error
	// Document registry
	SaveDocument(doc *Document) error
	GetDocumentByULID(ulid string) (*Document, error)
	GetDocumentByHash(hash string) (*Document, error)
	GetAllDocuments() ([]Document, error)
	DeleteDocument(ulid string) error
	// Page cache metadata
	UpsertPage(rec *PageRecord) error
	RemovePage(docID string, pageNumber int, scale float64, rotation int) error
	RemovePagesForDocument(docID string) (int, error)
	ClearPages() error
	GetAllPages() ([]PageRecord, error)
	// Job tracking methods
	CreateJob(jobType JobType, message string) (*Job, error)
	UpdateJobProgress(jobID ulid.ULID, progress int, currentStep string) error
	UpdateJobStatus(jobID ulid.ULID, status JobStatus, message string) error
	UpdateJobError(jobID ulid.ULID, errorMsg string) error
	CompleteJob(jobID ulid.ULID, result string) error
	GetJob(jobID ulid.ULID) (*Job, error)
	GetRecentJobs(limit, offset int) ([]Job, error)
	GetActiveJobs() ([]Job, error)
	DeleteOldJobs(olderThan time.Duration) (int, error)
}

// FetchDocument fetches the requested document by ULID
func FetchDocument(docULIDSt string, db Repository) (Document, int, error) {
	foundDocument, err := db.GetDocumentByULID(docULIDSt)
	if err != nil {
		if err == sql.ErrNoRows {
			Logger.Error("Unable to find the requested document", "ulid", docULIDSt, "error", err)
			return Document{}, http.StatusNotFound, err
		}
		Logger.Error("Database error fetching document", "error", err)
		return Document{}, http.StatusInternalServerError, err
	}
	return *foundDocument, http.StatusOK, nil
}

// FetchAllDocuments fetches all the documents in the database
func FetchAllDocuments(db Repository) ([]Document, error) {
	allDocuments, err := db.GetAllDocuments()
	if err != nil {
		Logger.Error("Unable to list registered documents", "error", err)
		return nil, err
	}
	return allDocuments, nil
}

// DeleteDocument removes the requested document by ULID
func DeleteDocument(docULIDSt string, db Repository) error {
	err := db.DeleteDocument(docULIDSt)
	if err != nil {
		Logger.Error("Unable to delete requested document", "error", err)
		return err
	}
	return nil
}

// CheckDuplicateDocument reports whether a document with the same source
// hash is already registered.
func CheckDuplicateDocument(fileHash string, db Repository) (*Document, bool) {
	document, err := db.GetDocumentByHash(fileHash)
	if err != nil || document == nil {
		return nil, false
	}
	return document, true
}

// HashFile calculates the md5 hash of a file on disk
func HashFile(fileName string) (string, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := md5.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// HashBytes calculates the md5 hash of an in-memory payload
func HashBytes(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// CalculateUUID for the incoming document
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
