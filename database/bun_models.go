package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunDocument represents the documents table for Bun ORM
type BunDocument struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID           int       `bun:"id,pk,autoincrement"`
	Name         string    `bun:"name,notnull"`
	Path         string    `bun:"path,notnull,unique"`
	ULID         string    `bun:"ulid,notnull,unique"` // Stored as string in DB
	Hash         string    `bun:"hash,notnull"`
	ByteSize     int64     `bun:"byte_size,notnull,default:0"`
	PageCount    int       `bun:"page_count,notnull,default:0"`
	SourceURL    string    `bun:"source_url,nullzero"`
	RegisteredAt time.Time `bun:"registered_at,notnull,default:current_timestamp"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ToDocument converts BunDocument to Document
func (bd *BunDocument) ToDocument() (*Document, error) {
	parsedULID, err := ulid.Parse(bd.ULID)
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:           bd.ID,
		Name:         bd.Name,
		Path:         bd.Path,
		ULID:         parsedULID,
		Hash:         bd.Hash,
		ByteSize:     bd.ByteSize,
		PageCount:    bd.PageCount,
		SourceURL:    bd.SourceURL,
		RegisteredAt: bd.RegisteredAt,
	}, nil
}

// FromDocument converts Document to BunDocument
func FromDocument(doc *Document) *BunDocument {
	return &BunDocument{
		ID:           doc.ID,
		Name:         doc.Name,
		Path:         doc.Path,
		ULID:         doc.ULID.String(),
		Hash:         doc.Hash,
		ByteSize:     doc.ByteSize,
		PageCount:    doc.PageCount,
		SourceURL:    doc.SourceURL,
		RegisteredAt: doc.RegisteredAt,
	}
}

// BunPage represents the page_cache table for Bun ORM. One row per
// cached rendered page; the (document, page, scale, rotation) tuple is
// the cache identity and is unique.
type BunPage struct {
	bun.BaseModel `bun:"table:page_cache,alias:pc"`

	ID             int       `bun:"id,pk,autoincrement"`
	DocumentID     string    `bun:"document_id,notnull"`
	PageNumber     int       `bun:"page_number,notnull"`
	Scale          float64   `bun:"scale,notnull"`
	Rotation       int       `bun:"rotation,notnull,default:0"`
	ByteSize       int64     `bun:"byte_size,notnull"`
	RenderTimeMs   int64     `bun:"render_time_ms,notnull,default:0"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
	LastAccessedAt time.Time `bun:"last_accessed_at,notnull,default:current_timestamp"`
}

// ToPageRecord converts BunPage to PageRecord
func (bp *BunPage) ToPageRecord() *PageRecord {
	return &PageRecord{
		DocumentID:     bp.DocumentID,
		PageNumber:     bp.PageNumber,
		Scale:          bp.Scale,
		Rotation:       bp.Rotation,
		ByteSize:       bp.ByteSize,
		RenderTimeMs:   bp.RenderTimeMs,
		CreatedAt:      bp.CreatedAt,
		LastAccessedAt: bp.LastAccessedAt,
	}
}

// FromPageRecord converts PageRecord to BunPage
func FromPageRecord(rec *PageRecord) *BunPage {
	return &BunPage{
		DocumentID:     rec.DocumentID,
		PageNumber:     rec.PageNumber,
		Scale:          rec.Scale,
		Rotation:       rec.Rotation,
		ByteSize:       rec.ByteSize,
		RenderTimeMs:   rec.RenderTimeMs,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.LastAccessedAt,
	}
}

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,default:'pending'"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	TotalSteps  int        `bun:"total_steps,default:0"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		Status:      JobStatus(bj.Status),
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		TotalSteps:  bj.TotalSteps,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
