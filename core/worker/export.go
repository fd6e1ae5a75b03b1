package worker

import (
	"context"
	"errors"

	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
	"github.com/FocuswithJustin/PageDesk/core/export"
	"github.com/FocuswithJustin/PageDesk/internal/logging"
)

// StartExport runs req in its own worker. At most one export runs per
// source path. The request is deep-copied before the worker starts. The
// worker sends ExportProgress after every page, then exactly one of
// ExportDone, ExportFailed or ExportCancelled.
func (p *Pool) StartExport(req export.Request) (string, error) {
	p.ops.Lock()
	defer p.ops.Unlock()

	p.mu.Lock()
	_, busy := p.exports[req.Source]
	p.mu.Unlock()
	if busy {
		return "", pderrors.NewValidation("export", "an export of "+req.Source+" is already running")
	}

	req = req.Clone()
	w, ctx := p.newWorker(KindExport, req.Source)
	p.mu.Lock()
	p.exports[req.Source] = w
	p.mu.Unlock()

	go p.runExport(ctx, w, req)
	return w.info.ID, nil
}

func (p *Pool) runExport(ctx context.Context, w *worker, req export.Request) {
	id, path := w.info.ID, w.info.Path

	sum, err := p.compositor.Run(ctx, req, func(done, total int) {
		p.send(ctx, Event{Type: ExportProgress, JobID: id, Path: path, Done: done, Total: total})
	})

	final := Event{JobID: id, Path: path}
	status := StatusCompleted
	switch {
	case err == nil:
		final.Type, final.Summary = ExportDone, sum
		final.Done, final.Total = sum.TotalPages, sum.TotalPages
	case errors.Is(err, context.Canceled):
		status = StatusCancelled
		final.Type, final.Err = ExportCancelled, err
		logging.WorkerEvent(ctx, "cancelled", string(KindExport), path)
	default:
		status = StatusFailed
		final.Type, final.Err = ExportFailed, err
		logging.ErrorContext(ctx, "export_failed", "path", path, "destination", req.Destination, "error", err.Error())
	}
	p.finish(ctx, w, status)
	p.sendFinal(final)
}
