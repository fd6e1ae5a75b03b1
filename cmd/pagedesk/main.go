// Command pagedesk is the CLI for PageDesk.
// It inspects PDF documents, renders pages and thumbnails to PNG, and
// exports documents with rotations and image stamps applied.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/PageDesk/core/document"
	"github.com/FocuswithJustin/PageDesk/core/edits"
	"github.com/FocuswithJustin/PageDesk/core/export"
	"github.com/FocuswithJustin/PageDesk/core/pagerange"
	"github.com/FocuswithJustin/PageDesk/core/pdfdoc"
	"github.com/FocuswithJustin/PageDesk/core/worker"
	"github.com/FocuswithJustin/PageDesk/internal/desk"
	"github.com/FocuswithJustin/PageDesk/internal/logging"
	"github.com/FocuswithJustin/PageDesk/internal/validation"
)

const version = "0.1.0"

// Injection points for tests.
var (
	stdout           io.Writer = os.Stdout
	newLibrary                 = func() document.Library { return pdfdoc.New() }
	validateDocument           = validation.ValidateDocument
)

// Globals holds flags shared by every command.
type Globals struct {
	Config    kong.ConfigFlag `help:"JSON configuration file" type:"path"`
	LogLevel  string          `name:"log-level" help:"Log level (debug, info, warn, error)" default:"warn" enum:"debug,info,warn,error" env:"PAGEDESK_LOG_LEVEL"`
	LogFormat string          `name:"log-format" help:"Log format (json, text)" default:"text" enum:"json,text" env:"PAGEDESK_LOG_FORMAT"`

	CacheItems      int           `name:"cache-items" help:"Maximum cached page bitmaps" default:"64" env:"PAGEDESK_CACHE_ITEMS"`
	CacheBytes      int64         `name:"cache-bytes" help:"Maximum cached bitmap bytes" default:"268435456" env:"PAGEDESK_CACHE_BYTES"`
	OverflowDir     string        `name:"overflow-dir" help:"Directory for evicted bitmaps (disabled if empty)" type:"path" env:"PAGEDESK_OVERFLOW_DIR"`
	Zoom            float64       `help:"Render zoom factor" default:"2.0" env:"PAGEDESK_ZOOM"`
	ThumbScale      float64       `name:"thumb-scale" help:"Thumbnail render scale" default:"0.25" env:"PAGEDESK_THUMB_SCALE"`
	ThumbMaxEdge    int           `name:"thumb-max-edge" help:"Longest thumbnail edge in pixels" default:"256" env:"PAGEDESK_THUMB_MAX_EDGE"`
	PreloadRadius   int           `name:"preload-radius" help:"Pages preloaded around the current page" default:"3" env:"PAGEDESK_PRELOAD_RADIUS"`
	ShutdownTimeout time.Duration `name:"shutdown-timeout" help:"How long stopping a worker may take" default:"1s" env:"PAGEDESK_SHUTDOWN_TIMEOUT"`
}

// CLI defines the command-line interface for pagedesk.
var CLI struct {
	Globals

	Info    InfoCmd    `cmd:"" help:"Print page count and page sizes"`
	Render  RenderCmd  `cmd:"" help:"Render pages to PNG files"`
	Thumbs  ThumbsCmd  `cmd:"" help:"Render first-page thumbnails to PNG files"`
	Export  ExportCmd  `cmd:"" help:"Export a document with rotations and stamps applied"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

func (g *Globals) initLogging() error {
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(g.LogFormat)
	if err != nil {
		return err
	}
	logging.InitLogger(level, format)
	return nil
}

// runtimeConfig maps the flags onto a runtime configuration. The CLI
// renders on demand only, so the background load agenda is disabled.
func (g *Globals) runtimeConfig() desk.Config {
	cfg := desk.DefaultConfig()
	cfg.CacheMaxItems = g.CacheItems
	cfg.CacheMaxBytes = g.CacheBytes
	cfg.OverflowDir = g.OverflowDir
	cfg.Zoom = g.Zoom
	cfg.ThumbnailScale = g.ThumbScale
	cfg.ThumbnailMaxEdge = g.ThumbMaxEdge
	cfg.PreloadRadius = g.PreloadRadius
	cfg.ShutdownTimeout = g.ShutdownTimeout
	cfg.MaxLoadPages = -1
	return cfg
}

func (g *Globals) newRuntime() (*desk.Runtime, error) {
	return desk.New(g.runtimeConfig(),
		desk.WithLibrary(newLibrary()),
		desk.WithValidator(validateDocument),
	)
}

// signalContext returns a context cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// InfoCmd prints document geometry.
type InfoCmd struct {
	Doc string `arg:"" help:"PDF document" type:"existingfile"`
}

func (c *InfoCmd) Run(g *Globals) error {
	if validateDocument != nil {
		if err := validateDocument(c.Doc); err != nil {
			return fmt.Errorf("invalid document: %w", err)
		}
	}
	h, err := newLibrary().Open(c.Doc)
	if err != nil {
		return err
	}
	defer h.Close()

	rotator, hasRotation := h.(interface{ Rotation(int) (int, error) })
	fmt.Fprintf(stdout, "Document: %s\n", c.Doc)
	fmt.Fprintf(stdout, "  Pages: %d\n", h.PageCount())
	for i := 0; i < h.PageCount(); i++ {
		size, err := h.PageRect(i)
		if err != nil {
			fmt.Fprintf(stdout, "  Page %d: %v\n", i+1, err)
			continue
		}
		line := fmt.Sprintf("  Page %d: %s", i+1, size)
		if hasRotation {
			if r, err := rotator.Rotation(i); err == nil && r != 0 {
				line += fmt.Sprintf(" rotated %d", r)
			}
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

// RenderCmd renders pages through the scheduler and worker pool.
type RenderCmd struct {
	Doc     string `arg:"" help:"PDF document" type:"existingfile"`
	Pages   string `help:"Pages to render, e.g. \"1-3,7,10-\"" default:"all"`
	Preload string `help:"Pages to preload at low priority"`
	Out     string `required:"" help:"Output directory" type:"path"`
}

func (c *RenderCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := g.newRuntime()
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	count, err := rt.Bind(c.Doc)
	if err != nil {
		return err
	}
	pages, err := pagerange.Parse(c.Pages, count)
	if err != nil {
		return fmt.Errorf("invalid --pages: %w", err)
	}
	if err := os.MkdirAll(c.Out, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	pending := make(map[int]bool)
	written := 0
	for _, p := range pages {
		res, err := rt.RequestPage(p, true)
		if err != nil {
			return err
		}
		if res.Pending {
			pending[p] = true
			continue
		}
		if err := writePNG(pagePath(c.Out, p), res.Bitmap); err != nil {
			return err
		}
		written++
	}
	if c.Preload != "" {
		extra, err := pagerange.Parse(c.Preload, count)
		if err != nil {
			return fmt.Errorf("invalid --preload: %w", err)
		}
		if _, err := rt.Preload(extra); err != nil {
			return err
		}
	}

	var failed []string
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-rt.Events():
			if !pending[ev.Page] || ev.Path != c.Doc {
				continue
			}
			switch ev.Type {
			case worker.PageReady:
				delete(pending, ev.Page)
				if err := writePNG(pagePath(c.Out, ev.Page), ev.Bitmap); err != nil {
					return err
				}
				written++
			case worker.RenderFailed:
				delete(pending, ev.Page)
				failed = append(failed, fmt.Sprintf("page %d: %v", ev.Page+1, ev.Err))
			}
		}
	}

	fmt.Fprintf(stdout, "Rendered %d of %d pages to %s\n", written, len(pages), c.Out)
	if len(failed) > 0 {
		return fmt.Errorf("%d pages failed:\n  %s", len(failed), strings.Join(failed, "\n  "))
	}
	return nil
}

// ThumbsCmd renders a thumbnail of the first page of each document.
type ThumbsCmd struct {
	Docs []string `arg:"" help:"PDF documents"`
	Out  string   `required:"" help:"Output directory" type:"path"`
}

func (c *ThumbsCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := g.newRuntime()
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if err := os.MkdirAll(c.Out, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	id, err := rt.StartThumbnails(c.Docs)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-rt.Events():
			if ev.JobID != id {
				continue
			}
			switch ev.Type {
			case worker.ThumbnailReady:
				out := filepath.Join(c.Out, thumbName(ev.Path))
				if err := writePNG(out, ev.Bitmap); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s -> %s\n", ev.Path, out)
			case worker.ThumbnailFailed:
				fmt.Fprintf(stdout, "%s: %v\n", ev.Path, ev.Err)
			case worker.ThumbnailsDone:
				fmt.Fprintf(stdout, "Thumbnails: %d of %d\n", ev.Done, ev.Total)
				if ev.Done < ev.Total {
					return fmt.Errorf("%d thumbnails failed", ev.Total-ev.Done)
				}
				return nil
			}
		}
	}
}

// EditsFile is the JSON form of the edits applied by export. Page keys are
// zero-based.
type EditsFile struct {
	Rotations  map[int]float64   `json:"rotations,omitempty"`
	Placements []edits.Placement `json:"placements,omitempty"`
	Viewport   export.Viewport   `json:"viewport"`
}

// loadEdits reads an edits file. An empty path yields no edits.
func loadEdits(path string) (*EditsFile, error) {
	var e EditsFile
	if path == "" {
		return &e, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read edits: %w", err)
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse edits: %w", err)
	}
	return &e, nil
}

// ExportCmd writes a copy of a document with edits applied.
type ExportCmd struct {
	Src   string `arg:"" help:"Source PDF document" type:"existingfile"`
	Dst   string `arg:"" help:"Destination path" type:"path"`
	Edits string `help:"JSON file with rotations, placements and viewport" type:"existingfile"`
}

func (c *ExportCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	ed, err := loadEdits(c.Edits)
	if err != nil {
		return err
	}
	if err := validation.ValidatePath(c.Dst); err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}

	rt, err := g.newRuntime()
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	if _, err := rt.Bind(c.Src); err != nil {
		return err
	}
	pages := make([]int, 0, len(ed.Rotations))
	for p := range ed.Rotations {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	for _, p := range pages {
		rt.Rotations().Set(p, ed.Rotations[p])
	}
	for _, pl := range ed.Placements {
		rt.Placements().Add(pl)
	}

	id, err := rt.ExportCurrent(c.Dst, ed.Viewport)
	if err != nil {
		return err
	}

	done := ctx.Done()
	for {
		select {
		case <-done:
			rt.Cancel(c.Src)
			done = nil
		case ev := <-rt.Events():
			if ev.JobID != id {
				continue
			}
			switch ev.Type {
			case worker.ExportProgress:
				logging.Debug("export_progress", "done", ev.Done, "total", ev.Total)
			case worker.ExportDone:
				printSummary(c.Dst, ev.Summary)
				return nil
			case worker.ExportCancelled:
				return errors.New("export cancelled")
			case worker.ExportFailed:
				return fmt.Errorf("export failed: %w", ev.Err)
			}
		}
	}
}

func printSummary(dst string, s *export.Summary) {
	fmt.Fprintf(stdout, "Exported: %s\n", dst)
	fmt.Fprintf(stdout, "  %s\n", s)
	for _, sk := range s.Skipped {
		fmt.Fprintf(stdout, "  skipped page %d %s: %s\n", sk.Page+1, sk.Image, sk.Reason)
	}
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(stdout, "pagedesk version %s\n", version)
	return nil
}

func pagePath(dir string, page int) string {
	return filepath.Join(dir, fmt.Sprintf("page-%04d.png", page+1))
}

func thumbName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".png"
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("pagedesk"),
		kong.Description("PageDesk - PDF page rendering and export"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Configuration(kong.JSON, "~/.config/pagedesk/config.json"),
	)
	ctx.FatalIfErrorf(CLI.Globals.initLogging())
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
