// Package pdfdoc implements document.Library for PDF files on top of
// seehuhn.de/go/pdf. Documents are read fully into memory; mutations made by
// SetRotation and CompositeImage are kept in memory until Save.
package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/pagetree"

	"github.com/FocuswithJustin/PageDesk/core/document"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// letter is used when a page has no usable MediaBox.
var letter = document.Size{W: 612, H: 792}

// readFile is a variable to allow testing of read errors.
var readFile = os.ReadFile

// Library opens PDF files.
type Library struct{}

// New returns a PDF document library.
func New() *Library {
	return &Library{}
}

// Open reads the PDF at path.
func (l *Library) Open(path string) (document.Handle, error) {
	raw, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pderrors.NewOpen(path, "missing file", err)
		}
		return nil, pderrors.NewOpen(path, "unreadable file", err)
	}
	return OpenBytes(path, raw)
}

// OpenBytes parses an in-memory PDF. name is used in error messages only.
func OpenBytes(name string, raw []byte) (*Handle, error) {
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		return nil, pderrors.NewOpen(name, "unsupported format", nil)
	}
	data, err := pdf.Read(bytes.NewReader(raw), nil)
	if err != nil {
		return nil, pderrors.NewOpen(name, "corrupt stream", err)
	}
	g := getter{data}
	n, err := pagetree.NumPages(g)
	if err != nil {
		return nil, pderrors.NewOpen(name, "corrupt page tree", err)
	}
	return &Handle{
		name:  name,
		raw:   raw,
		data:  data,
		g:     g,
		pages: n,
		dicts: make(map[int]pdf.Dict),
	}, nil
}

// getter adapts *pdf.Data to pdf.Getter.
type getter struct {
	d *pdf.Data
}

func (g getter) GetMeta() *pdf.MetaInfo {
	return g.d.GetMeta()
}

func (g getter) Get(ref pdf.Reference) (pdf.Object, error) {
	return g.d.Get(ref, true)
}

// Handle is an open PDF document. Its methods are safe for concurrent use.
type Handle struct {
	mu     sync.Mutex
	name   string
	raw    []byte
	data   *pdf.Data
	g      getter
	pages  int
	dicts  map[int]pdf.Dict
	closed bool

	// per-page content wrapping done by CompositeImage
	wrapped   map[int]bool
	nextStamp int

	raster rasterState
}

// PageCount implements document.Handle.
func (h *Handle) PageCount() int {
	return h.pages
}

// page returns the page dictionary with inherited attributes filled in.
// Must be called with h.mu held.
func (h *Handle) page(i int) (pdf.Dict, error) {
	if h.closed {
		return nil, pderrors.ErrClosed
	}
	if err := pderrors.CheckIndex(i, h.pages); err != nil {
		return nil, err
	}
	if d, ok := h.dicts[i]; ok {
		return d, nil
	}
	d, err := pagetree.GetPage(h.g, i)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", i, err)
	}
	h.dicts[i] = d
	return d, nil
}

// maxRasterPixels bounds the bitmap Rasterize will allocate (roughly a
// 16k x 16k page).
const maxRasterPixels = 1 << 28

// mediaBox returns the page's MediaBox, falling back to US Letter.
func (h *Handle) mediaBox(dict pdf.Dict) pdf.Rectangle {
	rect, err := pdf.GetRectangle(h.g, dict["MediaBox"])
	if err != nil || rect == nil || rect.URx <= rect.LLx || rect.URy <= rect.LLy {
		return pdf.Rectangle{URx: letter.W, URy: letter.H}
	}
	return *rect
}

// PageRect implements document.Handle. The size ignores /Rotate.
func (h *Handle) PageRect(i int) (document.Size, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dict, err := h.page(i)
	if err != nil {
		return document.Size{}, err
	}
	box := h.mediaBox(dict)
	return document.Size{W: box.URx - box.LLx, H: box.URy - box.LLy}, nil
}

// Rotation returns the page's /Rotate value normalized to [0, 360).
func (h *Handle) Rotation(i int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dict, err := h.page(i)
	if err != nil {
		return 0, err
	}
	return h.rotation(dict), nil
}

func (h *Handle) rotation(dict pdf.Dict) int {
	r, err := pdf.GetInt(h.g, dict["Rotate"])
	if err != nil {
		return 0
	}
	return ((int(r) % 360) + 360) % 360
}

// SetRotation implements document.Handle.
func (h *Handle) SetRotation(i int, degrees int) error {
	if degrees%90 != 0 {
		return pderrors.NewValidation("rotation", fmt.Sprintf("%d is not a multiple of 90", degrees))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	dict, err := h.page(i)
	if err != nil {
		return err
	}
	dict["Rotate"] = pdf.Integer(((h.rotation(dict)+degrees)%360 + 360) % 360)
	return nil
}

// Rasterize implements document.Handle.
func (h *Handle) Rasterize(ctx context.Context, i int, scale float64) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, pderrors.NewValidation("scale", "must be positive")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	dict, err := h.page(i)
	if err != nil {
		return nil, err
	}
	box := h.mediaBox(dict)
	if w, ht := math.Ceil((box.URx-box.LLx)*scale), math.Ceil((box.URy-box.LLy)*scale); w*ht > maxRasterPixels {
		return nil, pderrors.NewRender(i, fmt.Errorf("bitmap %gx%g exceeds %d pixels", w, ht, maxRasterPixels))
	}
	img, err := h.rasterize(i, dict, scale)
	if err != nil {
		return nil, pderrors.NewRender(i, err)
	}
	return img, nil
}

// Save implements document.Handle.
func (h *Handle) Save(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return pderrors.ErrClosed
	}
	f, err := os.Create(path)
	if err != nil {
		return pderrors.NewIO("create", path, err)
	}
	if err := h.data.Write(f); err != nil {
		f.Close()
		return pderrors.NewIO("write", path, err)
	}
	if err := f.Close(); err != nil {
		return pderrors.NewIO("close", path, err)
	}
	return nil
}

// Close implements document.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.closeRaster()
	h.dicts = nil
	return h.data.Close()
}

var (
	_ document.Library = (*Library)(nil)
	_ document.Handle  = (*Handle)(nil)
)
