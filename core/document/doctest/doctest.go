// Package doctest provides an in-memory document.Library for tests.
package doctest

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"sync"
	"time"

	"github.com/FocuswithJustin/PageDesk/core/document"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// Doc describes a fake document.
type Doc struct {
	Pages []document.Size

	// FailPages makes Rasterize fail for the given pages.
	FailPages map[int]error

	// RenderDelay is slept (respecting cancellation) on every Rasterize.
	RenderDelay time.Duration

	// SaveErr makes Save fail.
	SaveErr error
}

// Pages returns n pages of the given size.
func Pages(n int, w, h float64) []document.Size {
	pages := make([]document.Size, n)
	for i := range pages {
		pages[i] = document.Size{W: w, H: h}
	}
	return pages
}

// Composite records one CompositeImage call.
type Composite struct {
	Page  int
	Image string
	Box   document.Box
}

// Saved is the JSON form written by Handle.Save.
type Saved struct {
	Pages      int
	Rotations  map[int]int
	Composites []Composite
}

// Library is a thread-safe fake document.Library.
type Library struct {
	mu       sync.Mutex
	docs     map[string]*Doc
	opened   []*Handle
	rendered []string

	// OnRasterize, if set, is called before each page render.
	OnRasterize func(path string, page int)
}

// NewLibrary creates an empty fake library.
func NewLibrary() *Library {
	return &Library{docs: make(map[string]*Doc)}
}

// Add registers a document under path.
func (l *Library) Add(path string, doc *Doc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs[path] = doc
}

// Open implements document.Library.
func (l *Library) Open(path string) (document.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.docs[path]
	if !ok {
		return nil, pderrors.NewOpen(path, "missing file", os.ErrNotExist)
	}
	h := &Handle{lib: l, path: path, doc: doc, rotations: make(map[int]int)}
	l.opened = append(l.opened, h)
	return h, nil
}

// Handles returns every handle opened so far.
func (l *Library) Handles() []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Handle(nil), l.opened...)
}

// Rendered returns "path#page" for every completed Rasterize call in order.
func (l *Library) Rendered() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.rendered...)
}

// Handle is a fake document.Handle.
type Handle struct {
	lib  *Library
	path string
	doc  *Doc

	mu         sync.Mutex
	closed     bool
	rotations  map[int]int
	composites []Composite
}

// Path returns the path the handle was opened from.
func (h *Handle) Path() string { return h.path }

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Rotations returns the accumulated rotation per page.
func (h *Handle) Rotations() map[int]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int]int, len(h.rotations))
	for k, v := range h.rotations {
		out[k] = v
	}
	return out
}

// Composites returns the recorded CompositeImage calls.
func (h *Handle) Composites() []Composite {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Composite(nil), h.composites...)
}

// PageCount implements document.Handle.
func (h *Handle) PageCount() int {
	return len(h.doc.Pages)
}

// PageRect implements document.Handle.
func (h *Handle) PageRect(page int) (document.Size, error) {
	if err := pderrors.CheckIndex(page, len(h.doc.Pages)); err != nil {
		return document.Size{}, err
	}
	return h.doc.Pages[page], nil
}

// PageColor is the fill color Rasterize uses for a page.
func PageColor(page int) color.RGBA {
	return color.RGBA{R: uint8(page * 40), G: uint8(255 - page*40), B: 128, A: 255}
}

// Rasterize implements document.Handle.
func (h *Handle) Rasterize(ctx context.Context, page int, scale float64) (*image.RGBA, error) {
	if err := pderrors.CheckIndex(page, len(h.doc.Pages)); err != nil {
		return nil, err
	}
	if h.lib.OnRasterize != nil {
		h.lib.OnRasterize(h.path, page)
	}
	if h.doc.RenderDelay > 0 {
		select {
		case <-time.After(h.doc.RenderDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := h.doc.FailPages[page]; ok {
		return nil, pderrors.NewRender(page, err)
	}

	size := h.doc.Pages[page]
	w := int(math.Ceil(size.W * scale))
	hh := int(math.Ceil(size.H * scale))
	img := image.NewRGBA(image.Rect(0, 0, w, hh))
	c := PageColor(page)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}

	h.lib.mu.Lock()
	h.lib.rendered = append(h.lib.rendered, fmt.Sprintf("%s#%d", h.path, page))
	h.lib.mu.Unlock()
	return img, nil
}

// SetRotation implements document.Handle.
func (h *Handle) SetRotation(page int, degrees int) error {
	if err := pderrors.CheckIndex(page, len(h.doc.Pages)); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotations[page] = ((h.rotations[page]+degrees)%360 + 360) % 360
	return nil
}

// CompositeImage implements document.Handle. Images whose bytes start with
// "bad" are rejected as undecodable.
func (h *Handle) CompositeImage(page int, img []byte, box document.Box) error {
	if err := pderrors.CheckIndex(page, len(h.doc.Pages)); err != nil {
		return err
	}
	if len(img) >= 3 && string(img[:3]) == "bad" {
		return fmt.Errorf("decode stamp: unknown format")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.composites = append(h.composites, Composite{Page: page, Image: string(img), Box: box})
	return nil
}

// Save implements document.Handle by writing a JSON summary of the handle.
func (h *Handle) Save(path string) error {
	if h.doc.SaveErr != nil {
		return h.doc.SaveErr
	}
	h.mu.Lock()
	saved := Saved{
		Pages:      len(h.doc.Pages),
		Rotations:  h.rotations,
		Composites: h.composites,
	}
	data, err := json.Marshal(saved)
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Close implements document.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// ReadSaved decodes a file written by Handle.Save.
func ReadSaved(path string) (*Saved, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Saved
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

var (
	_ document.Library = (*Library)(nil)
	_ document.Handle  = (*Handle)(nil)
)
