// Package worker runs background rendering and export jobs.
//
// A Pool supervises at most one load worker per document path, one
// thumbnail worker and one export worker per source path. Workers report
// through a single event channel and are stopped cooperatively: cancellation
// is checked between pages, and stopping waits a bounded time for the worker
// to exit.
package worker

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/PageDesk/core/document"
	"github.com/FocuswithJustin/PageDesk/core/export"
	"github.com/FocuswithJustin/PageDesk/core/render"
	"github.com/FocuswithJustin/PageDesk/internal/cache"
	"github.com/FocuswithJustin/PageDesk/internal/logging"
)

// Kind identifies a worker type.
type Kind string

const (
	KindLoad       Kind = "load"
	KindThumbnails Kind = "thumbnails"
	KindExport     Kind = "export"
)

// Status is the state of a worker.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// JobInfo describes a live worker.
type JobInfo struct {
	ID      string
	Kind    Kind
	Path    string
	Status  Status
	Started time.Time
}

// Source is the page supply a load worker drives. *render.Scheduler
// implements it.
type Source interface {
	PageCount() int
	Render(ctx context.Context, page int) (*image.RGBA, error)
	TakeJob() (render.Job, bool)
	Wake() <-chan struct{}
}

// Config configures a Pool.
type Config struct {
	// ShutdownTimeout bounds how long stopping a worker waits for it.
	ShutdownTimeout time.Duration

	// EventBuffer is the capacity of the event channel.
	EventBuffer int

	// ThumbnailScale is the rasterization scale for thumbnails.
	ThumbnailScale float64

	// ThumbnailMaxEdge bounds the longest thumbnail edge in pixels.
	ThumbnailMaxEdge int

	// ThumbnailTTL is how long a thumbnail is memoized.
	ThumbnailTTL time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout:  time.Second,
		EventBuffer:      64,
		ThumbnailScale:   0.25,
		ThumbnailMaxEdge: 256,
		ThumbnailTTL:     10 * time.Minute,
	}
}

type worker struct {
	info   JobInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool supervises background workers.
type Pool struct {
	cfg        Config
	lib        document.Library
	compositor *export.Compositor
	thumbs     *cache.TTLCache[string, *image.RGBA]
	events     chan Event

	// ops serializes starting and stopping so that two workers for the
	// same path never coexist.
	ops sync.Mutex

	mu      sync.Mutex
	loads   map[string]*worker
	exports map[string]*worker
	thumb   *worker
}

// New creates a Pool. lib is used for thumbnails and exports, assets for
// loading stamp images during export.
func New(lib document.Library, assets document.AssetLoader, cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.EventBuffer < 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.ThumbnailScale <= 0 {
		cfg.ThumbnailScale = def.ThumbnailScale
	}
	if cfg.ThumbnailTTL <= 0 {
		cfg.ThumbnailTTL = def.ThumbnailTTL
	}
	return &Pool{
		cfg:        cfg,
		lib:        lib,
		compositor: export.New(lib, assets),
		thumbs:     cache.New[string, *image.RGBA](cfg.ThumbnailTTL),
		events:     make(chan Event, cfg.EventBuffer),
		loads:      make(map[string]*worker),
		exports:    make(map[string]*worker),
	}
}

// Events returns the channel workers report on.
func (p *Pool) Events() <-chan Event {
	return p.events
}

func (p *Pool) newWorker(kind Kind, path string) (*worker, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		info: JobInfo{
			ID:      uuid.New().String(),
			Kind:    kind,
			Path:    path,
			Status:  StatusRunning,
			Started: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ctx = logging.WithJobID(ctx, w.info.ID)
	logging.WorkerEvent(ctx, "start", string(kind), path)
	return w, ctx
}

// send delivers ev unless ctx is cancelled first. It reports whether the
// event was delivered.
func (p *Pool) send(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case p.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendFinal delivers a terminal event, waiting at most the shutdown timeout
// for room in the channel.
func (p *Pool) sendFinal(ev Event) {
	t := time.NewTimer(p.cfg.ShutdownTimeout)
	defer t.Stop()
	select {
	case p.events <- ev:
	case <-t.C:
		logging.Warn("event_dropped", "type", ev.Type.String(), "job_id", ev.JobID, "path", ev.Path)
	}
}

// finish records the worker's final status and forgets it.
func (p *Pool) finish(ctx context.Context, w *worker, status Status) {
	p.mu.Lock()
	w.info.Status = status
	switch w.info.Kind {
	case KindLoad:
		if p.loads[w.info.Path] == w {
			delete(p.loads, w.info.Path)
		}
	case KindExport:
		if p.exports[w.info.Path] == w {
			delete(p.exports, w.info.Path)
		}
	case KindThumbnails:
		if p.thumb == w {
			p.thumb = nil
		}
	}
	p.mu.Unlock()
	logging.WorkerEvent(ctx, "finish", string(w.info.Kind), w.info.Path, "status", string(status))
	close(w.done)
}

// stop cancels the given workers and waits for them, sharing one shutdown
// timeout between them.
func (p *Pool) stop(workers ...*worker) int {
	n := 0
	for _, w := range workers {
		if w != nil {
			w.cancel()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	deadline := time.NewTimer(p.cfg.ShutdownTimeout)
	defer deadline.Stop()
	for _, w := range workers {
		if w == nil {
			continue
		}
		select {
		case <-w.done:
		case <-deadline.C:
			ctx := logging.WithJobID(context.Background(), w.info.ID)
			logging.WorkerEvent(ctx, "timeout", string(w.info.Kind), w.info.Path,
				"timeout_ms", p.cfg.ShutdownTimeout.Milliseconds())
			// Later workers get no extra time.
			deadline.Reset(0)
		}
	}
	return n
}

// StartLoad starts a load worker for path, first stopping any worker
// already running for it. The worker renders pages 0..min(maxPages,
// pages)-1 in ascending order (0 means all, negative means none), then keeps serving
// jobs queued on src until stopped. It returns the job ID.
func (p *Pool) StartLoad(path string, src Source, maxPages int) string {
	p.ops.Lock()
	defer p.ops.Unlock()

	p.mu.Lock()
	old := p.loads[path]
	delete(p.loads, path)
	p.mu.Unlock()
	p.stop(old)

	w, ctx := p.newWorker(KindLoad, path)
	p.mu.Lock()
	p.loads[path] = w
	p.mu.Unlock()

	go p.runLoad(ctx, w, old, src, maxPages)
	return w.info.ID
}

// awaitPrevious blocks until prev, a worker replaced by the caller, has
// exited. A worker that overran the shutdown timeout may still be inside a
// render. It reports false if ctx ends first.
func awaitPrevious(ctx context.Context, prev *worker) bool {
	if prev == nil {
		return true
	}
	select {
	case <-prev.done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) runLoad(ctx context.Context, w *worker, prev *worker, src Source, maxPages int) {
	status := StatusCancelled
	defer func() { p.finish(ctx, w, status) }()

	if !awaitPrevious(ctx, prev) {
		return
	}

	path, id := w.info.Path, w.info.ID
	limit := src.PageCount()
	switch {
	case maxPages < 0:
		limit = 0
	case maxPages > 0 && maxPages < limit:
		limit = maxPages
	}

	for page := 0; page < limit; page++ {
		p.serveJobs(ctx, w, src)
		if ctx.Err() != nil {
			return
		}
		img, err := src.Render(ctx, page)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.RenderFailed(ctx, path, page, err)
			p.send(ctx, Event{Type: RenderFailed, JobID: id, Path: path, Page: page, Err: err})
		} else {
			p.send(ctx, Event{Type: PageReady, JobID: id, Path: path, Page: page, Bitmap: img})
		}
		p.send(ctx, Event{Type: LoadProgress, JobID: id, Path: path, Page: page, Done: page + 1, Total: limit})
	}
	p.send(ctx, Event{Type: LoadDone, JobID: id, Path: path, Done: limit, Total: limit})

	for {
		p.serveJobs(ctx, w, src)
		select {
		case <-ctx.Done():
			return
		case <-src.Wake():
		}
	}
}

// serveJobs renders every job queued on src, priority jobs first.
func (p *Pool) serveJobs(ctx context.Context, w *worker, src Source) {
	for ctx.Err() == nil {
		job, ok := src.TakeJob()
		if !ok {
			return
		}
		img, err := src.Render(ctx, job.Page)
		if ctx.Err() != nil {
			return
		}
		ev := Event{JobID: w.info.ID, Path: w.info.Path, Page: job.Page, Requested: true}
		if err != nil {
			logging.RenderFailed(ctx, w.info.Path, job.Page, err, "priority", job.Priority)
			ev.Type, ev.Err = RenderFailed, err
		} else {
			ev.Type, ev.Bitmap = PageReady, img
		}
		p.send(ctx, ev)
	}
}

// StopWorker stops the load worker for path, waiting at most the shutdown
// timeout. It reports whether a worker was running.
func (p *Pool) StopWorker(path string) bool {
	p.ops.Lock()
	defer p.ops.Unlock()

	p.mu.Lock()
	w := p.loads[path]
	delete(p.loads, path)
	p.mu.Unlock()
	return p.stop(w) > 0
}

// Cancel cancels the export for path if one is running, otherwise it stops
// the load worker. It reports whether anything was stopped.
func (p *Pool) Cancel(path string) bool {
	p.ops.Lock()
	p.mu.Lock()
	w := p.exports[path]
	delete(p.exports, path)
	p.mu.Unlock()
	if w != nil {
		defer p.ops.Unlock()
		return p.stop(w) > 0
	}
	p.ops.Unlock()
	return p.StopWorker(path)
}

// Cleanup stops every worker.
func (p *Pool) Cleanup() {
	p.ops.Lock()
	defer p.ops.Unlock()

	p.mu.Lock()
	var all []*worker
	for _, w := range p.loads {
		all = append(all, w)
	}
	for _, w := range p.exports {
		all = append(all, w)
	}
	if p.thumb != nil {
		all = append(all, p.thumb)
	}
	p.loads = make(map[string]*worker)
	p.exports = make(map[string]*worker)
	p.thumb = nil
	p.mu.Unlock()

	if n := p.stop(all...); n > 0 {
		logging.Info("workers_stopped", "count", n)
	}
}

// Active reports whether a load worker is running for path.
func (p *Pool) Active(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loads[path]
	return ok
}

// Exporting reports whether an export is running for path.
func (p *Pool) Exporting(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.exports[path]
	return ok
}

// LiveWorkers returns the number of running workers.
func (p *Pool) LiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.loads) + len(p.exports)
	if p.thumb != nil {
		n++
	}
	return n
}

// Jobs returns the running workers.
func (p *Pool) Jobs() []JobInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []JobInfo
	for _, w := range p.loads {
		out = append(out, w.info)
	}
	for _, w := range p.exports {
		out = append(out, w.info)
	}
	if p.thumb != nil {
		out = append(out, p.thumb.info)
	}
	return out
}
