package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/disintegration/imaging"

	"github.com/drummonds/goPDFCache/cache"
	"github.com/drummonds/goPDFCache/database"
	"github.com/drummonds/goPDFCache/engine/pdfrenderer"
)

// PageRenderer resolves a cache key to a registered document and
// rasterizes the requested page. It is the cache's render collaborator;
// the cache owns timeouts and coalescing, this only does the work.
type PageRenderer struct {
	db     database.Repository
	engine pdfrenderer.Renderer
}

// NewPageRenderer creates the render collaborator backing the cache
func NewPageRenderer(db database.Repository, engine pdfrenderer.Renderer) *PageRenderer {
	return &PageRenderer{db: db, engine: engine}
}

// RenderPage rasterizes one page to PNG bytes
func (pr *PageRenderer) RenderPage(ctx context.Context, key cache.PageKey) (*cache.RenderResult, error) {
	document, err := pr.db.GetDocumentByULID(key.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("document %s is not registered: %w", key.DocumentID, err)
	}

	start := time.Now()
	img, err := pr.engine.RenderPage(ctx, document.Path, key.PageNumber, key.Scale)
	if err != nil {
		return nil, fmt.Errorf("render failed for %s: %w", key.String(), err)
	}

	img = applyRotation(img, key.Rotation)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("unable to encode PNG for %s: %w", key.String(), err)
	}

	bounds := img.Bounds()
	return &cache.RenderResult{
		PNG:     buf.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Elapsed: time.Since(start),
	}, nil
}

// applyRotation turns the page clockwise by the requested degrees.
// imaging rotates counterclockwise, so the quarter turns are swapped.
func applyRotation(img image.Image, rotation int) image.Image {
	switch rotation {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
