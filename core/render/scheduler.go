// Package render sequences page rendering for one bound document.
//
// The Scheduler owns the document handle and the bitmap cache. Callers ask
// for pages with RequestPage; cache hits are answered immediately, misses
// become jobs that a worker takes with TakeJob and completes with Render.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/FocuswithJustin/PageDesk/core/cache"
	"github.com/FocuswithJustin/PageDesk/core/document"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
	"github.com/FocuswithJustin/PageDesk/core/pagerange"
	"github.com/FocuswithJustin/PageDesk/internal/logging"
	"github.com/FocuswithJustin/PageDesk/internal/validation"
)

// State is the scheduler lifecycle state.
type State int

const (
	Unbound State = iota
	Bound
	Closed
)

func (s State) String() string {
	switch s {
	case Bound:
		return "bound"
	case Closed:
		return "closed"
	default:
		return "unbound"
	}
}

// DefaultZoom is the rasterization scale used when none is configured.
const DefaultZoom = 2.0

// DefaultPreloadRadius is the number of pages preloaded on each side.
const DefaultPreloadRadius = 3

// Job is a queued page render.
type Job struct {
	Page     int
	Priority bool
}

// Result is the answer to RequestPage: either a bitmap or a pending marker.
type Result struct {
	Page    int
	Bitmap  *image.RGBA
	Pending bool
}

// Config configures a Scheduler.
type Config struct {
	// Zoom is the rasterization scale (1 = 72 dpi).
	Zoom float64

	// Cache bounds the in-memory bitmap cache.
	Cache cache.Config

	// Overflow, if set, receives bitmaps evicted from memory.
	Overflow cache.Overflow[string, *image.RGBA]

	// Validate, if set, is run on a path before the library opens it.
	Validate func(path string) error
}

// DefaultConfig returns the default scheduler configuration. Paths are
// sniffed for a PDF header before opening.
func DefaultConfig() Config {
	return Config{
		Zoom:     DefaultZoom,
		Cache:    cache.DefaultConfig(),
		Validate: validation.ValidateDocument,
	}
}

// Scheduler decides what to render now and what later for one document.
// All methods are safe for concurrent use.
type Scheduler struct {
	lib      document.Library
	zoom     float64
	validate func(string) error
	cache    *cache.BoundedCache[string, *image.RGBA]

	mu         sync.Mutex
	state      State
	path       string
	handle     document.Handle
	pages      int
	generation uint64

	high, low []int
	queued    map[int]bool // page -> priority
	inflight  map[int]bool
	wake      chan struct{}
}

// New creates an unbound scheduler.
func New(lib document.Library, config Config) *Scheduler {
	if config.Zoom <= 0 {
		config.Zoom = DefaultZoom
	}
	opts := []cache.Option[string, *image.RGBA]{
		cache.WithObserver[string, *image.RGBA](func(key string, ev cache.Event) {
			logging.CacheEvent(ev.String(), key)
		}),
	}
	if config.Overflow != nil {
		opts = append(opts, cache.WithOverflow[string, *image.RGBA](config.Overflow))
	}
	return &Scheduler{
		lib:      lib,
		zoom:     config.Zoom,
		validate: config.Validate,
		cache:    cache.NewBitmapCache(config.Cache, opts...),
		queued:   make(map[int]bool),
		inflight: make(map[int]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Bind closes any previously bound document, opens path and clears the
// cache. It returns the page count of the new document.
func (s *Scheduler) Bind(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return 0, pderrors.ErrClosed
	}

	s.unbindLocked()

	if s.validate != nil {
		if err := s.validate(path); err != nil {
			return 0, openError(path, err)
		}
	}
	h, err := s.lib.Open(path)
	if err != nil {
		if errors.Is(err, pderrors.ErrOpenFailed) {
			return 0, err
		}
		return 0, pderrors.NewOpen(path, "corrupt stream", err)
	}

	s.handle = h
	s.path = path
	s.pages = h.PageCount()
	s.state = Bound
	logging.Info("document_bound", "path", path, "pages", s.pages)
	return s.pages, nil
}

func openError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return pderrors.NewOpen(path, "missing file", err)
	case errors.Is(err, validation.ErrUnsupported):
		return pderrors.NewOpen(path, "unsupported format", err)
	default:
		return pderrors.NewOpen(path, "invalid file", err)
	}
}

// unbindLocked releases the current document. Must be called with s.mu held.
func (s *Scheduler) unbindLocked() {
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			logging.Warn("document_close_failed", "path", s.path, "error", err)
		}
	}
	s.handle = nil
	s.path = ""
	s.pages = 0
	s.generation++
	s.high, s.low = nil, nil
	s.queued = make(map[int]bool)
	s.inflight = make(map[int]bool)
	s.cache.Clear()
	if s.state != Closed {
		s.state = Unbound
	}
}

// Close releases the document and cache. Later calls fail with ErrClosed.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return nil
	}
	s.state = Closed
	s.unbindLocked()
	return nil
}

// checkLocked verifies the scheduler is bound. Must be called with s.mu held.
func (s *Scheduler) checkLocked() error {
	switch s.state {
	case Closed:
		return pderrors.ErrClosed
	case Unbound:
		return pderrors.NewValidation("document", "no document bound")
	}
	return nil
}

func (s *Scheduler) key(page int) string {
	return fmt.Sprintf("%s#%d@%g", s.path, page, s.zoom)
}

// RequestPage returns the cached bitmap for page, or enqueues a render job
// and returns a pending result. Out of range pages are an error. The cache
// is consulted without holding the scheduler lock.
func (s *Scheduler) RequestPage(page int, priority bool) (Result, error) {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	if err := pderrors.CheckIndex(page, s.pages); err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	key := s.key(page)
	gen := s.generation
	s.mu.Unlock()

	if img, ok := s.cache.Get(key); ok {
		return Result{Page: page, Bitmap: img}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		if err := s.checkLocked(); err != nil {
			return Result{}, err
		}
		return Result{}, pderrors.NewValidation("document", "document changed during request")
	}
	s.enqueueLocked(page, priority)
	return Result{Page: page, Pending: true}, nil
}

// enqueueLocked adds a job, merging with a queued or running one.
// Must be called with s.mu held.
func (s *Scheduler) enqueueLocked(page int, priority bool) bool {
	if s.inflight[page] {
		return false
	}
	if wasPriority, ok := s.queued[page]; ok {
		if !priority || wasPriority {
			return false
		}
		s.low = removePage(s.low, page)
		s.high = append(s.high, page)
		s.queued[page] = true
		s.signal()
		return true
	}
	if priority {
		s.high = append(s.high, page)
	} else {
		s.low = append(s.low, page)
	}
	s.queued[page] = priority
	s.signal()
	return true
}

func removePage(list []int, page int) []int {
	for i, p := range list {
		if p == page {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Preload enqueues low-priority jobs for indices, skipping pages that are
// out of range, cached, queued or being rendered. It returns the number of
// jobs added.
func (s *Scheduler) Preload(indices []int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return 0, err
	}
	n := 0
	for _, page := range indices {
		if page < 0 || page >= s.pages {
			continue
		}
		if s.cache.Contains(s.key(page)) {
			continue
		}
		if _, queued := s.queued[page]; queued {
			continue
		}
		if s.enqueueLocked(page, false) {
			n++
		}
	}
	return n, nil
}

// PreloadAround preloads the pages within radius of current.
func (s *Scheduler) PreloadAround(current, radius int) (int, error) {
	s.mu.Lock()
	pages := s.pages
	s.mu.Unlock()
	return s.Preload(pagerange.Around(current, radius, pages))
}

// TakeJob removes and returns the next job. Priority jobs come first, FIFO
// within a class.
func (s *Scheduler) TakeJob() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Bound {
		return Job{}, false
	}

	var job Job
	switch {
	case len(s.high) > 0:
		job = Job{Page: s.high[0], Priority: true}
		s.high = s.high[1:]
	case len(s.low) > 0:
		job = Job{Page: s.low[0]}
		s.low = s.low[1:]
	default:
		return Job{}, false
	}
	delete(s.queued, job.Page)
	s.inflight[job.Page] = true
	return job, true
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.high) + len(s.low)
}

// Wake returns a channel that receives when jobs have been queued.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.wake
}

// Render returns the bitmap for page, rasterizing and caching it on a miss.
func (s *Scheduler) Render(ctx context.Context, page int) (*image.RGBA, error) {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := pderrors.CheckIndex(page, s.pages); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key := s.key(page)
	gen := s.generation
	h := s.handle
	s.mu.Unlock()

	if img, ok := s.cache.Get(key); ok {
		s.finish(gen, page, key, nil)
		return img, nil
	}

	img, err := h.Rasterize(ctx, page, s.zoom)
	if err != nil {
		s.finish(gen, page, key, nil)
		if ctx.Err() != nil || errors.Is(err, pderrors.ErrRenderFailed) {
			return nil, err
		}
		return nil, pderrors.NewRender(page, err)
	}
	s.finish(gen, page, key, img)
	return img, nil
}

// finish caches img and clears the in-flight mark. A bitmap stored after the
// document was rebound is removed again.
func (s *Scheduler) finish(gen uint64, page int, key string, img *image.RGBA) {
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}

	if img != nil {
		s.cache.Put(key, img)
	}

	s.mu.Lock()
	stale = gen != s.generation
	if !stale {
		delete(s.inflight, page)
	}
	s.mu.Unlock()
	if stale && img != nil {
		s.cache.Remove(key)
	}
}

// Cached reports whether page is in memory.
func (s *Scheduler) Cached(page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Bound {
		return false
	}
	return s.cache.Contains(s.key(page))
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path returns the bound document path, or "" when unbound.
func (s *Scheduler) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// PageCount returns the bound document's page count.
func (s *Scheduler) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

// Zoom returns the rasterization scale.
func (s *Scheduler) Zoom() float64 {
	return s.zoom
}

// Stats returns bitmap cache statistics.
func (s *Scheduler) Stats() cache.Stats {
	return s.cache.Stats()
}
