package pdfrenderer

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements page rasterization using go-fitz (MuPDF).
// Faster than the WebAssembly backend but requires CGo.
type FitzRenderer struct{}

// NewFitzRenderer creates a new MuPDF-based renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// RenderPage rasterizes one page of a PDF file at 72*scale DPI
func (r *FitzRenderer) RenderPage(ctx context.Context, filename string, page int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := fitz.New(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", page, doc.NumPage())
	}

	img, err := doc.ImageDPI(page, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", page, err)
	}

	return img, nil
}

// PageCount returns the number of pages in a PDF file
func (r *FitzRenderer) PageCount(ctx context.Context, filename string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	doc, err := fitz.New(filename)
	if err != nil {
		return 0, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer doc.Close()

	return doc.NumPage(), nil
}

// PageMetrics returns the intrinsic geometry of one page in points
func (r *FitzRenderer) PageMetrics(ctx context.Context, filename string, page int) (*PageMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := fitz.New(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", page, doc.NumPage())
	}

	// Bound reports the page box at 72 DPI, which makes pixels and
	// points the same unit.
	bound, err := doc.Bound(page)
	if err != nil {
		return nil, fmt.Errorf("unable to get page bounds: %w", err)
	}

	return &PageMetrics{
		WidthPoints:  float64(bound.Dx()),
		HeightPoints: float64(bound.Dy()),
		PageCount:    doc.NumPage(),
	}, nil
}

// Close cleans up resources used by the MuPDF renderer. Documents are
// opened per call, so there is nothing held open here.
func (r *FitzRenderer) Close() error {
	return nil
}
