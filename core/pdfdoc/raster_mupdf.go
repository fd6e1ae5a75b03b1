//go:build mupdf

package pdfdoc

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/gen2brain/go-fitz"
	"seehuhn.de/go/pdf"
)

// rasterState holds the MuPDF view of the document. It is opened lazily
// from the original file bytes, so pending edits are not rendered.
type rasterState struct {
	doc *fitz.Document
}

func (h *Handle) closeRaster() {
	if h.raster.doc != nil {
		h.raster.doc.Close()
		h.raster.doc = nil
	}
}

// rasterize renders the page with MuPDF at 72*scale DPI.
func (h *Handle) rasterize(i int, _ pdf.Dict, scale float64) (*image.RGBA, error) {
	if h.raster.doc == nil {
		doc, err := fitz.NewFromMemory(h.raw)
		if err != nil {
			return nil, fmt.Errorf("mupdf open: %w", err)
		}
		h.raster.doc = doc
	}
	img, err := h.raster.doc.ImageDPI(i, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("mupdf render: %w", err)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
