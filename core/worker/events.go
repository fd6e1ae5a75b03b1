package worker

import (
	"image"

	"github.com/FocuswithJustin/PageDesk/core/export"
)

// EventType identifies what an Event reports.
type EventType int

const (
	// PageReady carries a rendered page. Requested is set for pages served
	// from the scheduler queue rather than the load agenda.
	PageReady EventType = iota
	// LoadProgress follows every page of the load agenda.
	LoadProgress
	// LoadDone is sent once the load agenda is complete.
	LoadDone
	// RenderFailed reports a page that could not be rasterized.
	RenderFailed
	// ThumbnailReady carries the first page thumbnail of one file.
	ThumbnailReady
	// ThumbnailFailed reports a file whose thumbnail could not be made.
	ThumbnailFailed
	// ThumbnailsDone ends a thumbnail batch.
	ThumbnailsDone
	// ExportProgress follows every exported page.
	ExportProgress
	// ExportDone carries the export summary.
	ExportDone
	// ExportFailed reports a job-level export error.
	ExportFailed
	// ExportCancelled reports an export stopped before completion.
	ExportCancelled
)

var eventNames = [...]string{
	PageReady:       "page_ready",
	LoadProgress:    "load_progress",
	LoadDone:        "load_done",
	RenderFailed:    "render_failed",
	ThumbnailReady:  "thumbnail_ready",
	ThumbnailFailed: "thumbnail_failed",
	ThumbnailsDone:  "thumbnails_done",
	ExportProgress:  "export_progress",
	ExportDone:      "export_done",
	ExportFailed:    "export_failed",
	ExportCancelled: "export_cancelled",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event is a worker notification.
type Event struct {
	Type      EventType
	JobID     string
	Path      string
	Page      int
	Requested bool

	// Done and Total report progress for LoadProgress, ExportProgress and
	// the batch completion events.
	Done  int
	Total int

	Bitmap  *image.RGBA
	Summary *export.Summary
	Err     error
}
