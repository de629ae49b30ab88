package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	// Raster decoders for the scan formats we accept.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/raster"
)

// Document is a lazily rasterized page sequence. Pages are 1-based and may
// be requested more than once; the sequence is restartable. Close releases
// any scratch space the document holds on disk.
type Document interface {
	PageCount() int
	Page(ctx context.Context, n int) (*raster.Grayscale, error)
	Close() error
}

// Open validates the declared type and prepares a page sequence over data.
// The declared type may be an extension ("pdf", ".png") or a MIME type
// ("image/jpeg"). An unknown type returns ErrUnsupportedFormat; a container
// that cannot be decoded returns ErrCorruptDocument.
func Open(kind string, data []byte) (Document, error) {
	switch k := normalizeKind(kind); k {
	case "pdf":
		return openPDF(data)
	case "png", "jpeg", "tiff", "bmp":
		return openImage(k, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}
}

func normalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.TrimPrefix(k, "image/")
	k = strings.TrimPrefix(k, "application/")
	k = strings.TrimPrefix(k, ".")
	switch k {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return k
}

// imageDocument serves a single-page raster scan. The image is decoded on
// each Page call rather than held decoded, so a document can sit in a job
// queue without pinning a full-resolution raster.
type imageDocument struct {
	kind string
	data []byte
}

func openImage(kind string, data []byte) (Document, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s header: %v", ErrCorruptDocument, kind, err)
	}
	if format != kind {
		return nil, fmt.Errorf("%w: declared %s but content is %s", ErrCorruptDocument, kind, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrCorruptDocument, kind)
	}
	return &imageDocument{kind: kind, data: data}, nil
}

func (d *imageDocument) PageCount() int { return 1 }

func (d *imageDocument) Page(ctx context.Context, n int) (*raster.Grayscale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("page %d out of range for single-page %s", n, d.kind)
	}
	img, _, err := image.Decode(bytes.NewReader(d.data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s page: %w", d.kind, err)
	}
	return raster.FromImage(img), nil
}

func (d *imageDocument) Close() error { return nil }

// pdfDocument extracts each page's scanned raster on demand from an
// optimized copy of the source held in a scratch directory.
type pdfDocument struct {
	workDir   string
	optimized string
	pages     int
}

func openPDF(data []byte) (Document, error) {
	workDir, err := os.MkdirTemp("", "scan-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	srcPath := filepath.Join(workDir, "source.pdf")
	if err := os.WriteFile(srcPath, data, 0644); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to stage source pdf: %w", err)
	}

	// Optimization doubles as validation and normalizes scanner output that
	// bends the PDF spec.
	optimized := filepath.Join(workDir, "optimized.pdf")
	if err := api.OptimizeFile(srcPath, optimized, newPDFConf()); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("%w: pdf validation: %v", ErrCorruptDocument, err)
	}

	pages, err := api.PageCountFile(optimized)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("%w: pdf page count: %v", ErrCorruptDocument, err)
	}
	if pages == 0 {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("%w: pdf has no pages", ErrCorruptDocument)
	}

	return &pdfDocument{workDir: workDir, optimized: optimized, pages: pages}, nil
}

func newPDFConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (d *pdfDocument) PageCount() int { return d.pages }

func (d *pdfDocument) Page(ctx context.Context, n int) (*raster.Grayscale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 1 || n > d.pages {
		return nil, fmt.Errorf("page %d out of range [1,%d]", n, d.pages)
	}

	pageDir := filepath.Join(d.workDir, fmt.Sprintf("page-%05d", n))
	if err := os.MkdirAll(pageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create page scratch dir: %w", err)
	}
	defer os.RemoveAll(pageDir)

	if err := api.ExtractImagesFile(d.optimized, pageDir, []string{strconv.Itoa(n)}, newPDFConf()); err != nil {
		return nil, fmt.Errorf("extracting images from page %d: %w", n, err)
	}

	// A scanned page carries one full-page raster; if the producer embedded
	// several (logos, stamps), the largest is the scan.
	entries, err := os.ReadDir(pageDir)
	if err != nil {
		return nil, fmt.Errorf("reading page scratch dir: %w", err)
	}
	var best image.Image
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(pageDir, entry.Name()))
		if err != nil {
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			continue
		}
		if best == nil || area(img) > area(best) {
			best = img
		}
	}
	if best == nil {
		return nil, fmt.Errorf("page %d has no decodable raster", n)
	}
	return raster.FromImage(best), nil
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}

func (d *pdfDocument) Close() error {
	return os.RemoveAll(d.workDir)
}
