package pdfdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"seehuhn.de/go/pdf"

	"github.com/FocuswithJustin/PageDesk/core/document"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// buildPDF assembles a PDF file from numbered object bodies (object i+1 is
// objects[i]) with a correct cross-reference table.
func buildPDF(objects []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func stream(content string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
}

// samplePDF has two pages: a 200x100 page (MediaBox inherited from the page
// tree) with a blue square at (10,10)-(60,60), and a 300x400 page rotated 90
// degrees with a red diagonal stroke.
func samplePDF() []byte {
	return buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 200 100] >>",
		"<< /Type /Page /Parent 2 0 R /Resources << >> /Contents 5 0 R >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 400] /Rotate 90 /Resources << >> /Contents 6 0 R >>",
		stream("0 0 1 rg 10 10 50 50 re f"),
		stream("1 0 0 RG 4 w 0 0 m 300 400 l S"),
	})
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.pdf")
	if err := os.WriteFile(path, samplePDF(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openSample(t *testing.T) *Handle {
	t.Helper()
	h, err := New().Open(writeSample(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h.(*Handle)
}

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpen(t *testing.T) {
	h := openSample(t)

	if got := h.PageCount(); got != 2 {
		t.Fatalf("PageCount() = %d, want 2", got)
	}

	tests := []struct {
		page     int
		want     document.Size
		rotation int
	}{
		{0, document.Size{W: 200, H: 100}, 0},
		{1, document.Size{W: 300, H: 400}, 90},
	}
	for _, tt := range tests {
		got, err := h.PageRect(tt.page)
		if err != nil {
			t.Fatalf("PageRect(%d) error = %v", tt.page, err)
		}
		if got != tt.want {
			t.Errorf("PageRect(%d) = %v, want %v", tt.page, got, tt.want)
		}
		rot, err := h.Rotation(tt.page)
		if err != nil || rot != tt.rotation {
			t.Errorf("Rotation(%d) = %d, %v; want %d", tt.page, rot, err, tt.rotation)
		}
	}

	if _, err := h.PageRect(2); !errors.Is(err, pderrors.ErrOutOfRange) {
		t.Errorf("PageRect(2) error = %v, want ErrOutOfRange", err)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	os.WriteFile(text, []byte("hello"), 0644)
	broken := filepath.Join(dir, "broken.pdf")
	os.WriteFile(broken, []byte("%PDF-1.7\nthis is not a pdf body\n"), 0644)

	tests := []struct {
		name  string
		path  string
		cause error
	}{
		{"missing", filepath.Join(dir, "missing.pdf"), fs.ErrNotExist},
		{"wrong format", text, nil},
		{"corrupt", broken, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Open(tt.path)
			if !errors.Is(err, pderrors.ErrOpenFailed) {
				t.Fatalf("Open() error = %v, want ErrOpenFailed", err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("Open() error = %v, want cause %v", err, tt.cause)
			}
		})
	}
}

func TestRasterize(t *testing.T) {
	h := openSample(t)

	img, err := h.Rasterize(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 200, 100) {
		t.Fatalf("bounds = %v, want 200x100", img.Bounds())
	}
	blue := color.RGBA{0, 0, 255, 255}
	white := color.RGBA{255, 255, 255, 255}
	// PDF (35,35) is row 100-35 = 65 from the top.
	if got := img.RGBAAt(35, 65); got != blue {
		t.Errorf("inside square = %v, want %v", got, blue)
	}
	if got := img.RGBAAt(150, 20); got != white {
		t.Errorf("outside square = %v, want %v", got, white)
	}
	if got := img.RGBAAt(35, 20); got != white {
		t.Errorf("above square = %v, want %v", got, white)
	}

	img2, err := h.Rasterize(context.Background(), 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if img2.Bounds() != image.Rect(0, 0, 400, 200) {
		t.Errorf("bounds at scale 2 = %v, want 400x200", img2.Bounds())
	}
	if got := img2.RGBAAt(70, 130); got != blue {
		t.Errorf("scaled inside square = %v, want %v", got, blue)
	}
}

func TestRasterizeStroke(t *testing.T) {
	h := openSample(t)
	img, err := h.Rasterize(context.Background(), 1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 150, 200) {
		t.Fatalf("bounds = %v, want 150x200 (unrotated)", img.Bounds())
	}
	// The diagonal passes through the page center.
	c := img.RGBAAt(75, 100)
	if c.R < 200 || c.G > 80 || c.B > 80 {
		t.Errorf("center of diagonal = %v, want red", c)
	}
	if got := img.RGBAAt(140, 190); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("corner = %v, want white", got)
	}
}

func TestRasterizeErrors(t *testing.T) {
	h := openSample(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Rasterize(ctx, 0, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Rasterize error = %v, want context.Canceled", err)
	}
	if _, err := h.Rasterize(context.Background(), 0, 0); !errors.Is(err, pderrors.ErrInvalidInput) {
		t.Errorf("zero scale error = %v, want ErrInvalidInput", err)
	}
	if _, err := h.Rasterize(context.Background(), 7, 1); !errors.Is(err, pderrors.ErrOutOfRange) {
		t.Errorf("page 7 error = %v, want ErrOutOfRange", err)
	}
}

func TestSetRotation(t *testing.T) {
	h := openSample(t)

	if err := h.SetRotation(0, 90); err != nil {
		t.Fatal(err)
	}
	if err := h.SetRotation(1, -90); err != nil {
		t.Fatal(err)
	}
	if err := h.SetRotation(0, 45); !errors.Is(err, pderrors.ErrInvalidInput) {
		t.Errorf("SetRotation(45) error = %v, want ErrInvalidInput", err)
	}

	if r, _ := h.Rotation(0); r != 90 {
		t.Errorf("Rotation(0) = %d, want 90", r)
	}
	if r, _ := h.Rotation(1); r != 0 {
		t.Errorf("Rotation(1) = %d, want 0", r)
	}
}

func TestCompositeAndSave(t *testing.T) {
	h := openSample(t)

	stamp := pngBytes(t, 4, 2, color.NRGBA{R: 255, A: 128})
	if err := h.CompositeImage(0, stamp, document.Box{X: 10, Y: 10, W: 40, H: 20}); err != nil {
		t.Fatalf("CompositeImage() error = %v", err)
	}
	if err := h.CompositeImage(0, pngBytes(t, 1, 1, color.NRGBA{G: 255, A: 255}), document.Box{X: 100, Y: 50, W: 10, H: 10}); err != nil {
		t.Fatalf("second CompositeImage() error = %v", err)
	}
	if err := h.SetRotation(0, 180); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out.pdf")
	if err := h.Save(out); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reopened, err := New().Open(out)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	r := reopened.(*Handle)

	if r.PageCount() != 2 {
		t.Fatalf("PageCount() = %d, want 2", r.PageCount())
	}
	if rot, _ := r.Rotation(0); rot != 180 {
		t.Errorf("saved Rotation(0) = %d, want 180", rot)
	}

	r.mu.Lock()
	dict, err := r.page(0)
	r.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	resources, err := pdf.GetDict(r.g, dict["Resources"])
	if err != nil {
		t.Fatal(err)
	}
	xobjects, err := pdf.GetDict(r.g, resources["XObject"])
	if err != nil {
		t.Fatal(err)
	}
	if len(xobjects) != 2 {
		t.Errorf("page 0 has %d XObjects, want 2", len(xobjects))
	}
	contents, err := pdf.GetArray(r.g, dict["Contents"])
	if err != nil {
		t.Fatal(err)
	}
	// q, original, Q, two stamps
	if len(contents) != 5 {
		t.Errorf("page 0 has %d content streams, want 5", len(contents))
	}

	// Page 1 is untouched.
	r.mu.Lock()
	dict1, _ := r.page(1)
	r.mu.Unlock()
	if _, err := pdf.GetArray(r.g, dict1["Contents"]); err == nil {
		if arr, _ := pdf.GetArray(r.g, dict1["Contents"]); arr != nil {
			t.Error("page 1 contents should not be wrapped")
		}
	}

	// The original square still renders.
	img, err := r.Rasterize(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("Rasterize(saved) error = %v", err)
	}
	if got := img.RGBAAt(35, 65); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("saved square = %v, want blue", got)
	}
}

func openPDF(t *testing.T, data []byte) *Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	h, err := New().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h.(*Handle)
}

func TestCompositeOffsetMediaBox(t *testing.T) {
	h := openPDF(t, buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [100 100 400 500] /Resources << >> /Contents 4 0 R >>",
		stream("0 0 1 rg 100 100 10 10 re f"),
	}))
	if size, _ := h.PageRect(0); size != (document.Size{W: 300, H: 400}) {
		t.Fatalf("PageRect(0) = %v, want 300x400", size)
	}

	stamp := pngBytes(t, 2, 2, color.NRGBA{R: 255, A: 255})
	if err := h.CompositeImage(0, stamp, document.Box{X: 0, Y: 350, W: 50, H: 50}); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out.pdf")
	if err := h.Save(out); err != nil {
		t.Fatal(err)
	}

	reopened, err := New().Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	r := reopened.(*Handle)
	r.mu.Lock()
	defer r.mu.Unlock()
	dict, err := r.page(0)
	if err != nil {
		t.Fatal(err)
	}
	contents, err := pdf.GetArray(r.g, dict["Contents"])
	if err != nil || len(contents) == 0 {
		t.Fatalf("contents = %v, %v", contents, err)
	}
	rd, err := pdf.GetStreamReader(r.g, contents[len(contents)-1])
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	body, err := io.ReadAll(rd)
	if err != nil {
		t.Fatal(err)
	}
	if want := "q 50 0 0 50 100 450 cm"; !strings.Contains(string(body), want) {
		t.Errorf("stamp operators = %q, want %q", body, want)
	}
}

func TestRasterizePixelCap(t *testing.T) {
	h := openPDF(t, buildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100000 100000] /Resources << >> /Contents 4 0 R >>",
		stream("0 0 1 rg 0 0 10 10 re f"),
	}))
	_, err := h.Rasterize(context.Background(), 0, 1)
	var re *pderrors.RenderError
	if !errors.As(err, &re) || re.Page != 0 {
		t.Errorf("oversized Rasterize error = %v, want RenderError for page 0", err)
	}
}

func TestCompositeErrors(t *testing.T) {
	h := openSample(t)
	box := document.Box{X: 0, Y: 0, W: 10, H: 10}

	if err := h.CompositeImage(0, []byte("not an image"), box); err == nil {
		t.Error("undecodable stamp should fail")
	}
	good := pngBytes(t, 1, 1, color.NRGBA{A: 255})
	if err := h.CompositeImage(0, good, document.Box{W: 0, H: 5}); !errors.Is(err, pderrors.ErrInvalidInput) {
		t.Errorf("empty box error = %v, want ErrInvalidInput", err)
	}
	if err := h.CompositeImage(9, good, box); !errors.Is(err, pderrors.ErrOutOfRange) {
		t.Errorf("page 9 error = %v, want ErrOutOfRange", err)
	}
}

func TestDecodeImageFormats(t *testing.T) {
	data := pngBytes(t, 3, 2, color.NRGBA{B: 255, A: 255})
	img, format, err := DecodeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	if format != "png" || img.Bounds().Dx() != 3 {
		t.Errorf("DecodeImage() = %s %v", format, img.Bounds())
	}
	if _, _, err := DecodeImage([]byte("GIF89a broken")); err == nil {
		t.Error("broken GIF should fail to decode")
	}
}

func TestClose(t *testing.T) {
	h, err := New().Open(writeSample(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := h.PageRect(0); !errors.Is(err, pderrors.ErrClosed) {
		t.Errorf("PageRect after Close = %v, want ErrClosed", err)
	}
	if err := h.Save(filepath.Join(t.TempDir(), "x.pdf")); !errors.Is(err, pderrors.ErrClosed) {
		t.Errorf("Save after Close = %v, want ErrClosed", err)
	}
}
