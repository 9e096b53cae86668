package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements page rasterization using go-pdfium with
// WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	pool     pdfium.Pool
	instance pdfium.Pdfium

	// The worker instance is not safe for concurrent use; callers may
	// render different pages in parallel so every engine call is
	// serialized here.
	mu sync.Mutex
}

// NewPDFiumRenderer creates a new PDFium-based renderer using WebAssembly
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	// Single worker; concurrency is handled by the caller's cache, the
	// engine itself runs one page at a time.
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

// RenderPage rasterizes one page of a PDF file at 72*scale DPI
func (r *PDFiumRenderer) RenderPage(ctx context.Context, filename string, page int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdfBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}

	dpi := int(math.Round(72 * scale))
	if dpi < 1 {
		dpi = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	pageRender, err := r.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: dpi,
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: doc.Document,
				Index:    page,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", page, err)
	}
	defer pageRender.Cleanup()

	// The result image references WebAssembly memory that Cleanup
	// releases, so copy the pixels out before returning.
	src := pageRender.Result.Image
	bounds := src.Bounds()
	copied := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			copied.Set(x, y, src.At(x, y))
		}
	}

	return copied, nil
}

// PageCount returns the number of pages in a PDF file
func (r *PDFiumRenderer) PageCount(ctx context.Context, filename string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pdfBytes, err := os.ReadFile(filename)
	if err != nil {
		return 0, fmt.Errorf("unable to read PDF file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		return 0, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	pageCountResp, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		return 0, fmt.Errorf("unable to get page count: %w", err)
	}

	return pageCountResp.PageCount, nil
}

// PageMetrics returns the intrinsic geometry of one page in points
func (r *PDFiumRenderer) PageMetrics(ctx context.Context, filename string, page int) (*PageMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdfBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	pageCountResp, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}
	if page < 0 || page >= pageCountResp.PageCount {
		return nil, fmt.Errorf("page %d out of range, document has %d pages", page, pageCountResp.PageCount)
	}

	sizeResp, err := r.instance.GetPageSize(&requests.GetPageSize{
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: doc.Document,
				Index:    page,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get page size: %w", err)
	}

	return &PageMetrics{
		WidthPoints:  sizeResp.Width,
		HeightPoints: sizeResp.Height,
		PageCount:    pageCountResp.PageCount,
	}, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.instance = nil
	return nil
}
