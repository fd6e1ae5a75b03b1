package worker

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/FocuswithJustin/PageDesk/internal/logging"
)

// statFile is a variable to allow testing without real files.
var statFile = os.Stat

// StartThumbnails stops any running thumbnail batch and starts a new one
// over paths. Each file yields one ThumbnailReady or ThumbnailFailed event;
// the batch ends with ThumbnailsDone. It returns the job ID.
func (p *Pool) StartThumbnails(paths []string) string {
	p.ops.Lock()
	defer p.ops.Unlock()

	p.mu.Lock()
	old := p.thumb
	p.thumb = nil
	p.mu.Unlock()
	p.stop(old)

	w, ctx := p.newWorker(KindThumbnails, "")
	p.mu.Lock()
	p.thumb = w
	p.mu.Unlock()

	go p.runThumbnails(ctx, w, old, append([]string(nil), paths...))
	return w.info.ID
}

func (p *Pool) runThumbnails(ctx context.Context, w *worker, prev *worker, paths []string) {
	status := StatusCancelled
	defer func() { p.finish(ctx, w, status) }()

	if !awaitPrevious(ctx, prev) {
		return
	}

	ok := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		img, err := p.thumbnail(ctx, path)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.WarnContext(ctx, "thumbnail_failed", "path", path, "error", err.Error())
			p.send(ctx, Event{Type: ThumbnailFailed, JobID: w.info.ID, Path: path, Err: err})
			continue
		}
		ok++
		p.send(ctx, Event{Type: ThumbnailReady, JobID: w.info.ID, Path: path, Bitmap: img})
	}
	status = StatusCompleted
	p.send(ctx, Event{Type: ThumbnailsDone, JobID: w.info.ID, Done: ok, Total: len(paths)})
}

// thumbnail renders the first page of path, memoized by path and
// modification time.
func (p *Pool) thumbnail(ctx context.Context, path string) (*image.RGBA, error) {
	key := path
	if info, err := statFile(path); err == nil {
		key = fmt.Sprintf("%s@%d", path, info.ModTime().UnixNano())
	}
	if img, ok := p.thumbs.Get(key); ok {
		return img, nil
	}

	h, err := p.lib.Open(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	if h.PageCount() == 0 {
		return nil, fmt.Errorf("%s has no pages", path)
	}
	img, err := h.Rasterize(ctx, 0, p.cfg.ThumbnailScale)
	if err != nil {
		return nil, err
	}
	img = FitThumbnail(img, p.cfg.ThumbnailMaxEdge)
	p.thumbs.Set(key, img)
	return img, nil
}

// FitThumbnail scales img down so that its longest edge is at most maxEdge
// pixels. Images that already fit, and maxEdge <= 0, return img unchanged.
func FitThumbnail(img *image.RGBA, maxEdge int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}
	scale := float64(maxEdge) / float64(max(w, h))
	tw := max(1, int(math.Round(float64(w)*scale)))
	th := max(1, int(math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
