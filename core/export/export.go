// Package export writes an edited copy of a document: page rotations are
// applied and stamp images composited at their calibrated positions.
//
// The compositor is the only component that writes document files. Output
// goes to a temporary file next to the destination and is renamed into place
// only after a successful save, so an earlier good file is never replaced by
// a partial one.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/FocuswithJustin/PageDesk/core/calibrate"
	"github.com/FocuswithJustin/PageDesk/core/document"
	"github.com/FocuswithJustin/PageDesk/core/edits"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
	"github.com/FocuswithJustin/PageDesk/internal/logging"
)

// File operations are variables to allow testing of failure paths.
var (
	createTemp = os.CreateTemp
	rename     = os.Rename
	remove     = os.Remove
)

// Viewport describes the view the placements were made in.
type Viewport struct {
	// Pages holds the scene size of individual pages in view units.
	Pages map[int]document.Size `json:"pages,omitempty"`

	// Zoom is used for pages without a scene size: the view is the page
	// rect times Zoom. Zero means 1.
	Zoom float64 `json:"zoom,omitempty"`
}

// ViewFor returns the view size for page given its document size.
func (v Viewport) ViewFor(page int, doc document.Size) document.Size {
	if s, ok := v.Pages[page]; ok && s.Valid() {
		return s
	}
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return document.Size{W: doc.W * zoom, H: doc.H * zoom}
}

// Request is one export job.
type Request struct {
	Source      string
	Destination string
	Rotations   map[int]int
	Placements  map[int][]edits.Placement
	Viewport    Viewport
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	out := r
	out.Rotations = make(map[int]int, len(r.Rotations))
	for p, a := range r.Rotations {
		out.Rotations[p] = a
	}
	out.Placements = make(map[int][]edits.Placement, len(r.Placements))
	for p, list := range r.Placements {
		out.Placements[p] = append([]edits.Placement(nil), list...)
	}
	out.Viewport.Pages = make(map[int]document.Size, len(r.Viewport.Pages))
	for p, s := range r.Viewport.Pages {
		out.Viewport.Pages[p] = s
	}
	return out
}

// Skip reasons recorded in a Summary.
const (
	ReasonOutOfRange   = "page out of range"
	ReasonAssetMissing = "image not loadable"
	ReasonComposite    = "image not composited"
	ReasonCalibration  = "page not calibrated"
)

// Skipped is a placement left out of the output.
type Skipped struct {
	Page   int
	Image  string
	Reason string
	Err    error
}

// Summary describes a completed export. It is not modified after Run
// returns.
type Summary struct {
	TotalPages       int
	TotalStamps      int
	PagesWithStamps  int
	RotatedPageCount int
	Skipped          []Skipped
	Duration         time.Duration
}

// ProgressFunc receives (pages done, pages total) after every page.
type ProgressFunc func(done, total int)

// Compositor produces edited documents.
type Compositor struct {
	lib    document.Library
	assets document.AssetLoader
}

// New creates a Compositor. Stamp images are loaded through assets.
func New(lib document.Library, assets document.AssetLoader) *Compositor {
	return &Compositor{lib: lib, assets: assets}
}

// Run executes req. Missing or unreadable stamp images are skipped and
// listed in the summary; open and write failures return an ExportError.
// Cancellation is checked between pages and returns the context error with
// no output written.
func (c *Compositor) Run(ctx context.Context, req Request, progress ProgressFunc) (*Summary, error) {
	req = req.Clone()
	start := time.Now()
	if req.Source == "" || req.Destination == "" {
		return nil, pderrors.NewValidation("request", "source and destination are required")
	}

	h, err := c.lib.Open(req.Source)
	if err != nil {
		return nil, pderrors.NewExport("open", req.Source, err)
	}
	defer h.Close()

	total := h.PageCount()
	sum := &Summary{TotalPages: total}
	c.skipOutOfRange(ctx, req, total, sum)

	for page := 0; page < total; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rot := edits.Positive(edits.Normalize(float64(req.Rotations[page])))
		if rot != 0 {
			if err := h.SetRotation(page, rot); err != nil {
				return nil, pderrors.NewExport("rotate", req.Source, err)
			}
			sum.RotatedPageCount++
		}

		if stamped := c.compositePage(ctx, h, page, req, sum); stamped > 0 {
			sum.TotalStamps += stamped
			sum.PagesWithStamps++
		}

		if progress != nil {
			progress(page+1, total)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := save(h, req.Destination); err != nil {
		return nil, err
	}

	sum.Duration = time.Since(start)
	logging.ExportFinished(ctx, req.Source, req.Destination, sum.Duration,
		"pages", sum.TotalPages,
		"stamps", sum.TotalStamps,
		"rotated", sum.RotatedPageCount,
		"skipped", len(sum.Skipped))
	return sum, nil
}

// skipOutOfRange records placements on pages the document does not have.
func (c *Compositor) skipOutOfRange(ctx context.Context, req Request, total int, sum *Summary) {
	var pages []int
	for page := range req.Placements {
		if page < 0 || page >= total {
			pages = append(pages, page)
		}
	}
	sort.Ints(pages)
	for _, page := range pages {
		for _, p := range req.Placements[page] {
			err := pderrors.NewRange(page, total)
			sum.Skipped = append(sum.Skipped, Skipped{Page: page, Image: p.Image, Reason: ReasonOutOfRange, Err: err})
			logging.AssetSkipped(ctx, page, p.Image, err)
		}
	}
}

// compositePage stamps every placement of page and returns how many were
// composited.
func (c *Compositor) compositePage(ctx context.Context, h document.Handle, page int, req Request, sum *Summary) int {
	list := edits.Ordered(req.Placements[page])
	if len(list) == 0 {
		return 0
	}

	skip := func(p edits.Placement, reason string, err error) {
		sum.Skipped = append(sum.Skipped, Skipped{Page: page, Image: p.Image, Reason: reason, Err: err})
		logging.AssetSkipped(ctx, page, p.Image, err, "reason", reason)
	}

	cal, err := calibrate.ForPage(h, page)
	if err == nil {
		docRect, _ := h.PageRect(page)
		err = cal.SetViewRect(req.Viewport.ViewFor(page, docRect))
	}
	if err != nil {
		for _, p := range list {
			skip(p, ReasonCalibration, err)
		}
		return 0
	}

	n := 0
	for _, p := range list {
		box, err := cal.PlacementBox(p.ViewBox())
		if err != nil {
			skip(p, ReasonCalibration, err)
			continue
		}
		data, err := c.assets.LoadImageBytes(p.Image)
		if err != nil {
			skip(p, ReasonAssetMissing, pderrors.NewAsset(page, p.Image, err))
			continue
		}
		if err := h.CompositeImage(page, data, box); err != nil {
			skip(p, ReasonComposite, pderrors.NewAsset(page, p.Image, err))
			continue
		}
		n++
	}
	return n
}

// save writes h to a temporary file in dst's directory and renames it over
// dst.
func save(h document.Handle, dst string) error {
	dir := filepath.Dir(dst)
	tmp, err := createTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return pderrors.NewExport("create", dst, err)
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		remove(tmpName)
		return pderrors.NewExport("create", dst, err)
	}

	if err := h.Save(tmpName); err != nil {
		remove(tmpName)
		return pderrors.NewExport("write", dst, err)
	}
	if err := rename(tmpName, dst); err != nil {
		remove(tmpName)
		return pderrors.NewExport("rename", dst, err)
	}
	return nil
}

// String formats the summary for logs and the CLI.
func (s *Summary) String() string {
	return fmt.Sprintf("%d pages, %d rotated, %d stamps on %d pages, %d skipped",
		s.TotalPages, s.RotatedPageCount, s.TotalStamps, s.PagesWithStamps, len(s.Skipped))
}
