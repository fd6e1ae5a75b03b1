// Package document defines the boundary to the document parsing and
// rendering library: opening a file, reading page geometry, rasterizing a
// page, and the few mutations the exporter needs.
package document

import (
	"context"
	"fmt"
	"image"
	"os"

	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// Size is a width and height in some coordinate space.
type Size struct {
	W, H float64
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.W > 0 && s.H > 0
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.W, s.H)
}

// Box is an axis-aligned rectangle. In document space (X, Y) is the
// bottom-left corner; in view space it is the top-left corner.
type Box struct {
	X, Y, W, H float64
}

// Library opens documents.
type Library interface {
	Open(path string) (Handle, error)
}

// Handle is an open document. A Handle is owned by one goroutine at a time.
type Handle interface {
	// PageCount returns the number of pages.
	PageCount() int

	// PageRect returns the unrotated page size in document units.
	PageRect(page int) (Size, error)

	// Rasterize renders a page at the given scale (1.0 = one pixel per
	// document unit). The result has its origin at (0, 0).
	Rasterize(ctx context.Context, page int, scale float64) (*image.RGBA, error)

	// SetRotation adds degrees (a multiple of 90) to the page's rotation.
	SetRotation(page int, degrees int) error

	// CompositeImage draws encoded image bytes into box, given in document
	// space with a bottom-left origin.
	CompositeImage(page int, img []byte, box Box) error

	// Save writes the document, including all mutations, to path.
	Save(path string) error

	// Close releases the document.
	Close() error
}

// AssetLoader loads stamp images referenced by placements.
type AssetLoader interface {
	LoadImageBytes(ref string) ([]byte, error)
}

// FileAssets loads stamp images from the filesystem.
type FileAssets struct{}

// readFile is a variable to allow testing of read errors.
var readFile = os.ReadFile

// LoadImageBytes reads ref as a file path. A missing file yields a
// NotFoundError.
func (FileAssets) LoadImageBytes(ref string) ([]byte, error) {
	data, err := readFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &pderrors.NotFoundError{Resource: "stamp image", ID: ref, Err: err}
		}
		return nil, pderrors.NewIO("read", ref, err)
	}
	return data, nil
}

// AssetFunc adapts a function to AssetLoader.
type AssetFunc func(ref string) ([]byte, error)

// LoadImageBytes calls f(ref).
func (f AssetFunc) LoadImageBytes(ref string) ([]byte, error) {
	return f(ref)
}
