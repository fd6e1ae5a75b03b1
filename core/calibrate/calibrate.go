// Package calibrate converts between view space (on-screen pixels, origin at
// the top-left, y down) and document space (page units, origin at the
// bottom-left, y up) for one page at one viewport size.
package calibrate

import (
	"fmt"

	"github.com/FocuswithJustin/PageDesk/core/document"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// PageSizer reports page geometry. document.Handle satisfies it.
type PageSizer interface {
	PageRect(page int) (document.Size, error)
}

// Context holds the scale factors derived from a document rect and a view
// rect. ScaleX and ScaleY are independent.
type Context struct {
	Document document.Size
	View     document.Size
	ScaleX   float64
	ScaleY   float64
}

func (c Context) String() string {
	return fmt.Sprintf("doc=%v view=%v scale=(%g,%g)", c.Document, c.View, c.ScaleX, c.ScaleY)
}

// Calibrator maps coordinates for a single page. The zero value is
// uncalibrated; every conversion fails with ErrNotCalibrated until both the
// document rect and the view rect are known.
type Calibrator struct {
	ctx     Context
	hasDoc  bool
	hasView bool
}

// New returns an empty Calibrator.
func New() *Calibrator {
	return &Calibrator{}
}

// ForPage returns a Calibrator pre-populated with the page rect of page.
func ForPage(doc PageSizer, page int) (*Calibrator, error) {
	size, err := doc.PageRect(page)
	if err != nil {
		return nil, err
	}
	c := New()
	if err := c.SetDocumentRect(size); err != nil {
		return nil, err
	}
	return c, nil
}

// Calibrated returns a Calibrator for the given rects in one step.
func Calibrated(doc, view document.Size) (*Calibrator, error) {
	c := New()
	if err := c.SetDocumentRect(doc); err != nil {
		return nil, err
	}
	if err := c.SetViewRect(view); err != nil {
		return nil, err
	}
	return c, nil
}

// SetDocumentRect sets the page size in document units.
func (c *Calibrator) SetDocumentRect(size document.Size) error {
	if !size.Valid() {
		return &pderrors.ValidationError{Field: "document_rect", Value: size.String(), Message: "dimensions must be positive"}
	}
	c.ctx.Document = size
	c.hasDoc = true
	c.recompute()
	return nil
}

// SetViewRect sets the on-screen size of the page and recomputes the scale
// factors.
func (c *Calibrator) SetViewRect(size document.Size) error {
	if !size.Valid() {
		return &pderrors.ValidationError{Field: "view_rect", Value: size.String(), Message: "dimensions must be positive"}
	}
	c.ctx.View = size
	c.hasView = true
	c.recompute()
	return nil
}

func (c *Calibrator) recompute() {
	if c.hasDoc && c.hasView {
		c.ctx.ScaleX = c.ctx.Document.W / c.ctx.View.W
		c.ctx.ScaleY = c.ctx.Document.H / c.ctx.View.H
	}
}

// IsCalibrated reports whether both rects are set.
func (c *Calibrator) IsCalibrated() bool {
	return c.hasDoc && c.hasView
}

// Context returns the current calibration.
func (c *Calibrator) Context() (Context, error) {
	if !c.IsCalibrated() {
		return Context{}, pderrors.ErrNotCalibrated
	}
	return c.ctx, nil
}

// ViewToDocument maps a view point to document space:
// doc_x = x * ScaleX, doc_y = page_h - y * ScaleY.
func (c *Calibrator) ViewToDocument(x, y float64) (float64, float64, error) {
	if !c.IsCalibrated() {
		return 0, 0, pderrors.ErrNotCalibrated
	}
	return x * c.ctx.ScaleX, c.ctx.Document.H - y*c.ctx.ScaleY, nil
}

// DocumentToView is the inverse of ViewToDocument.
func (c *Calibrator) DocumentToView(x, y float64) (float64, float64, error) {
	if !c.IsCalibrated() {
		return 0, 0, pderrors.ErrNotCalibrated
	}
	return x / c.ctx.ScaleX, (c.ctx.Document.H - y) / c.ctx.ScaleY, nil
}

// ScaleDimensions converts a view-space width and height to document units.
func (c *Calibrator) ScaleDimensions(w, h float64) (float64, float64, error) {
	if !c.IsCalibrated() {
		return 0, 0, pderrors.ErrNotCalibrated
	}
	return w * c.ctx.ScaleX, h * c.ctx.ScaleY, nil
}

// ClampToPage moves b inside [0, page_w] x [0, page_h], then shrinks its
// width and height only if it still overflows the page.
func (c *Calibrator) ClampToPage(b document.Box) (document.Box, error) {
	if !c.hasDoc {
		return document.Box{}, pderrors.ErrNotCalibrated
	}
	return clamp(b, c.ctx.Document), nil
}

func clamp(b document.Box, page document.Size) document.Box {
	b.W = max(b.W, 0)
	b.H = max(b.H, 0)

	// Translate into the page first.
	if b.X+b.W > page.W {
		b.X = page.W - b.W
	}
	if b.Y+b.H > page.H {
		b.Y = page.H - b.H
	}
	b.X = max(b.X, 0)
	b.Y = max(b.Y, 0)

	// Shrink only what still does not fit.
	b.W = min(b.W, page.W-b.X)
	b.H = min(b.H, page.H-b.Y)
	return b
}

// PlacementBox converts a view rectangle anchored at its top-left corner into
// a document box anchored at its bottom-left corner, clamped to the page.
func (c *Calibrator) PlacementBox(view document.Box) (document.Box, error) {
	x, top, err := c.ViewToDocument(view.X, view.Y)
	if err != nil {
		return document.Box{}, err
	}
	w, h, err := c.ScaleDimensions(view.W, view.H)
	if err != nil {
		return document.Box{}, err
	}
	return clamp(document.Box{X: x, Y: top - h, W: w, H: h}, c.ctx.Document), nil
}
