// Package desk wires the rendering pipeline into one runtime: document
// library, bitmap cache and overflow, scheduler, worker pool and editing
// state. A Runtime is built once at startup, passed by reference, and torn
// down with Shutdown.
package desk

import (
	"fmt"
	"sync"
	"time"

	"github.com/FocuswithJustin/PageDesk/core/cache"
	"github.com/FocuswithJustin/PageDesk/core/cas"
	"github.com/FocuswithJustin/PageDesk/core/document"
	"github.com/FocuswithJustin/PageDesk/core/edits"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
	"github.com/FocuswithJustin/PageDesk/core/export"
	"github.com/FocuswithJustin/PageDesk/core/pdfdoc"
	"github.com/FocuswithJustin/PageDesk/core/render"
	"github.com/FocuswithJustin/PageDesk/core/worker"
	"github.com/FocuswithJustin/PageDesk/internal/logging"
	"github.com/FocuswithJustin/PageDesk/internal/validation"
)

// Config holds runtime settings.
type Config struct {
	CacheMaxItems    int           `json:"cache_max_items"`
	CacheMaxBytes    int64         `json:"cache_max_bytes"`
	OverflowDir      string        `json:"overflow_dir,omitempty"`
	Zoom             float64       `json:"zoom"`
	ThumbnailScale   float64       `json:"thumbnail_scale"`
	ThumbnailMaxEdge int           `json:"thumbnail_max_edge"`
	ThumbnailTTL     time.Duration `json:"thumbnail_ttl"`
	PreloadRadius    int           `json:"preload_radius"`
	MaxLoadPages     int           `json:"max_load_pages"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout"`
	EventBuffer      int           `json:"event_buffer"`
}

// DefaultConfig returns the default runtime settings.
func DefaultConfig() Config {
	c := cache.DefaultConfig()
	w := worker.DefaultConfig()
	return Config{
		CacheMaxItems:    c.MaxSize,
		CacheMaxBytes:    c.MaxBytes,
		Zoom:             render.DefaultZoom,
		ThumbnailScale:   w.ThumbnailScale,
		ThumbnailMaxEdge: w.ThumbnailMaxEdge,
		ThumbnailTTL:     w.ThumbnailTTL,
		PreloadRadius:    render.DefaultPreloadRadius,
		ShutdownTimeout:  w.ShutdownTimeout,
		EventBuffer:      w.EventBuffer,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.CacheMaxItems < 0:
		return pderrors.NewValidation("cache_max_items", "must not be negative")
	case c.CacheMaxBytes < 0:
		return pderrors.NewValidation("cache_max_bytes", "must not be negative")
	case c.Zoom <= 0:
		return pderrors.NewValidation("zoom", "must be positive")
	case c.ThumbnailScale <= 0:
		return pderrors.NewValidation("thumbnail_scale", "must be positive")
	case c.PreloadRadius < 0:
		return pderrors.NewValidation("preload_radius", "must not be negative")
	case c.ShutdownTimeout <= 0:
		return pderrors.NewValidation("shutdown_timeout", "must be positive")
	}
	return nil
}

// Option customizes a Runtime.
type Option func(*options)

type options struct {
	lib      document.Library
	assets   document.AssetLoader
	validate func(string) error
}

// WithLibrary replaces the PDF library.
func WithLibrary(lib document.Library) Option {
	return func(o *options) { o.lib = lib }
}

// WithAssets replaces the stamp image loader.
func WithAssets(a document.AssetLoader) Option {
	return func(o *options) { o.assets = a }
}

// WithValidator replaces the check run on a path before it is opened.
// nil disables the check.
func WithValidator(fn func(string) error) Option {
	return func(o *options) { o.validate = fn }
}

// Runtime is the process-wide rendering state.
type Runtime struct {
	cfg        Config
	scheduler  *render.Scheduler
	pool       *worker.Pool
	overflow   *cas.BitmapOverflow
	rotations  *edits.Rotations
	placements *edits.Placements

	mu   sync.Mutex
	shut bool
}

// New builds a Runtime.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		lib:      pdfdoc.New(),
		assets:   document.FileAssets{},
		validate: validation.ValidateDocument,
	}
	for _, opt := range opts {
		opt(&o)
	}

	rc := render.Config{
		Zoom:     cfg.Zoom,
		Cache:    cache.Config{MaxSize: cfg.CacheMaxItems, MaxBytes: cfg.CacheMaxBytes},
		Validate: o.validate,
	}
	var overflow *cas.BitmapOverflow
	if cfg.OverflowDir != "" {
		var err error
		overflow, err = cas.NewBitmapOverflow(cfg.OverflowDir)
		if err != nil {
			return nil, fmt.Errorf("overflow store: %w", err)
		}
		rc.Overflow = overflow
	}

	pool := worker.New(o.lib, o.assets, worker.Config{
		ShutdownTimeout:  cfg.ShutdownTimeout,
		EventBuffer:      cfg.EventBuffer,
		ThumbnailScale:   cfg.ThumbnailScale,
		ThumbnailMaxEdge: cfg.ThumbnailMaxEdge,
		ThumbnailTTL:     cfg.ThumbnailTTL,
	})

	return &Runtime{
		cfg:        cfg,
		scheduler:  render.New(o.lib, rc),
		pool:       pool,
		overflow:   overflow,
		rotations:  edits.NewRotations(),
		placements: edits.NewPlacements(),
	}, nil
}

func (r *Runtime) check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shut {
		return pderrors.ErrClosed
	}
	return nil
}

// Bind switches to the document at path. The load worker of the previous
// document is stopped before the new one starts. Rotations and placements
// are reset.
func (r *Runtime) Bind(path string) (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	if prev := r.scheduler.Path(); prev != "" {
		r.pool.StopWorker(prev)
	}
	n, err := r.scheduler.Bind(path)
	if err != nil {
		return 0, err
	}
	r.rotations.Reset()
	r.placements.Reset()
	r.pool.StartLoad(path, r.scheduler, r.cfg.MaxLoadPages)
	return n, nil
}

// RequestPage returns a cached page or queues it for the load worker.
func (r *Runtime) RequestPage(index int, priority bool) (render.Result, error) {
	if err := r.check(); err != nil {
		return render.Result{}, err
	}
	return r.scheduler.RequestPage(index, priority)
}

// Preload queues low-priority renders for indices.
func (r *Runtime) Preload(indices []int) (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	return r.scheduler.Preload(indices)
}

// PreloadAround preloads the configured radius around current.
func (r *Runtime) PreloadAround(current int) (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	return r.scheduler.PreloadAround(current, r.cfg.PreloadRadius)
}

// Rotations returns the editing-layer rotations.
func (r *Runtime) Rotations() *edits.Rotations {
	return r.rotations
}

// Placements returns the editing-layer stamp placements.
func (r *Runtime) Placements() *edits.Placements {
	return r.placements
}

// StartExport starts an export job for req.
func (r *Runtime) StartExport(req export.Request) (string, error) {
	if err := r.check(); err != nil {
		return "", err
	}
	return r.pool.StartExport(req)
}

// ExportCurrent exports the bound document with the current rotations and
// placements.
func (r *Runtime) ExportCurrent(dst string, viewport export.Viewport) (string, error) {
	src := r.scheduler.Path()
	if src == "" {
		return "", pderrors.NewValidation("document", "no document bound")
	}
	return r.StartExport(export.Request{
		Source:      src,
		Destination: dst,
		Rotations:   r.rotations.Snapshot(),
		Placements:  r.placements.ByPage(),
		Viewport:    viewport,
	})
}

// StartThumbnails renders first-page thumbnails of paths.
func (r *Runtime) StartThumbnails(paths []string) (string, error) {
	if err := r.check(); err != nil {
		return "", err
	}
	return r.pool.StartThumbnails(paths), nil
}

// Cancel cancels the export of path, or else its load worker.
func (r *Runtime) Cancel(path string) bool {
	return r.pool.Cancel(path)
}

// Events returns the worker event channel.
func (r *Runtime) Events() <-chan worker.Event {
	return r.pool.Events()
}

// Active reports whether a load worker runs for path.
func (r *Runtime) Active(path string) bool {
	return r.pool.Active(path)
}

// LiveWorkers returns the number of running workers.
func (r *Runtime) LiveWorkers() int {
	return r.pool.LiveWorkers()
}

// PageCount returns the bound document's page count.
func (r *Runtime) PageCount() int {
	return r.scheduler.PageCount()
}

// Stats returns bitmap cache statistics.
func (r *Runtime) Stats() cache.Stats {
	return r.scheduler.Stats()
}

// Shutdown stops every worker, closes the document and clears all caches.
// Later calls are no-ops.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	if r.shut {
		r.mu.Unlock()
		return nil
	}
	r.shut = true
	r.mu.Unlock()

	start := time.Now()
	r.pool.Cleanup()
	err := r.scheduler.Close()
	if r.overflow != nil {
		if cerr := r.overflow.Clear(); cerr != nil && err == nil {
			err = cerr
		}
	}
	r.rotations.Reset()
	r.placements.Reset()
	logging.Info("runtime_shutdown", "duration_ms", time.Since(start).Milliseconds())
	return err
}
