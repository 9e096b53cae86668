package pdfrenderer

import (
	"context"
	"fmt"
	"image"
)

// PageMetrics describes a page's intrinsic geometry in PDF points
// (1/72 inch), independent of any render scale.
type PageMetrics struct {
	WidthPoints  float64 `json:"widthPoints"`
	HeightPoints float64 `json:"heightPoints"`
	PageCount    int     `json:"pageCount"`
}

// Renderer defines the interface for rasterizing PDF pages
type Renderer interface {
	// RenderPage rasterizes one zero-based page of a PDF file. A scale
	// of 1.0 renders at 72 DPI, 2.0 at 144 DPI, and so on.
	RenderPage(ctx context.Context, filename string, page int, scale float64) (image.Image, error)

	// PageCount returns the number of pages in a PDF file
	PageCount(ctx context.Context, filename string) (int, error)

	// PageMetrics returns the intrinsic geometry of one page
	PageMetrics(ctx context.Context, filename string, page int) (*PageMetrics, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// NewRenderer creates a renderer for the named backend. The default is
// the PDFium WebAssembly backend (pure Go, no CGo); "fitz" selects the
// MuPDF backend which needs CGo but renders faster.
func NewRenderer(backend string) (Renderer, error) {
	switch backend {
	case "", "pdfium":
		return NewPDFiumRenderer()
	case "fitz":
		return NewFitzRenderer()
	default:
		return nil, fmt.Errorf("unknown render backend %q (supported: pdfium, fitz)", backend)
	}
}
