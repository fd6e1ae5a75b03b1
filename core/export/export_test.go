package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/FocuswithJustin/PageDesk/core/document"
	"github.com/FocuswithJustin/PageDesk/core/document/doctest"
	"github.com/FocuswithJustin/PageDesk/core/edits"
	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// memAssets serves stamp bytes from a map.
type memAssets map[string][]byte

func (m memAssets) LoadImageBytes(ref string) ([]byte, error) {
	data, ok := m[ref]
	if !ok {
		return nil, pderrors.NewNotFound("image", ref)
	}
	return data, nil
}

func setup(t *testing.T, doc *doctest.Doc) (*Compositor, string) {
	t.Helper()
	lib := doctest.NewLibrary()
	lib.Add("src.pdf", doc)
	assets := memAssets{"stamp.png": []byte("stamp"), "logo.png": []byte("logo"), "broken.png": []byte("bad bytes")}
	return New(lib, assets), filepath.Join(t.TempDir(), "out.pdf")
}

func TestSummaryScenario(t *testing.T) {
	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(3, 600, 800)})

	req := Request{
		Source:      "src.pdf",
		Destination: dst,
		Rotations:   map[int]int{1: 90},
		Placements: map[int][]edits.Placement{
			0: {{Page: 0, Image: "stamp.png", Position: [2]float64{150, 100}, Size: [2]float64{50, 25}}},
		},
		Viewport: Viewport{Pages: map[int]document.Size{0: {W: 300, H: 400}}},
	}

	var progress [][2]int
	sum, err := c.Run(context.Background(), req, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := Summary{TotalPages: 3, TotalStamps: 1, PagesWithStamps: 1, RotatedPageCount: 1}
	if diff := cmp.Diff(want, *sum, cmpopts.IgnoreFields(Summary{}, "Duration")); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][2]int{{1, 3}, {2, 3}, {3, 3}}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}

	saved, err := doctest.ReadSaved(dst)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[int]int{1: 90}, saved.Rotations); diff != "" {
		t.Errorf("saved rotations mismatch (-want +got):\n%s", diff)
	}
	wantComposite := []doctest.Composite{{Page: 0, Image: "stamp", Box: document.Box{X: 300, Y: 550, W: 100, H: 50}}}
	if diff := cmp.Diff(wantComposite, saved.Composites, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("composites mismatch (-want +got):\n%s", diff)
	}
}

func TestRotationNormalized(t *testing.T) {
	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(4, 100, 100)})
	req := Request{
		Source:      "src.pdf",
		Destination: dst,
		Rotations:   map[int]int{0: -90, 1: 450, 2: 360, 3: 44},
	}
	sum, err := c.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.RotatedPageCount != 2 {
		t.Errorf("RotatedPageCount = %d, want 2", sum.RotatedPageCount)
	}
	saved, _ := doctest.ReadSaved(dst)
	if diff := cmp.Diff(map[int]int{0: 270, 1: 90}, saved.Rotations); diff != "" {
		t.Errorf("rotations mismatch (-want +got):\n%s", diff)
	}
}

func TestZOrderAndZoomFallback(t *testing.T) {
	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(1, 100, 200)})
	req := Request{
		Source:      "src.pdf",
		Destination: dst,
		Placements: map[int][]edits.Placement{0: {
			{Image: "logo.png", Z: 5, Size: [2]float64{20, 20}},
			{Image: "stamp.png", Z: 1, Size: [2]float64{20, 20}},
		}},
		Viewport: Viewport{Zoom: 2},
	}
	if _, err := c.Run(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	saved, _ := doctest.ReadSaved(dst)
	if len(saved.Composites) != 2 {
		t.Fatalf("composites = %d, want 2", len(saved.Composites))
	}
	if saved.Composites[0].Image != "stamp" || saved.Composites[1].Image != "logo" {
		t.Errorf("composite order = %s, %s; want stamp then logo", saved.Composites[0].Image, saved.Composites[1].Image)
	}
	// Zoom 2 halves view units; a 20x20 view box at the top-left is 10x10.
	want := document.Box{X: 0, Y: 190, W: 10, H: 10}
	if diff := cmp.Diff(want, saved.Composites[0].Box); diff != "" {
		t.Errorf("box mismatch (-want +got):\n%s", diff)
	}
}

func TestSkippedPlacements(t *testing.T) {
	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(2, 100, 100)})
	req := Request{
		Source:      "src.pdf",
		Destination: dst,
		Placements: map[int][]edits.Placement{
			0: {
				{Image: "missing.png", Size: [2]float64{10, 10}},
				{Image: "stamp.png", Size: [2]float64{10, 10}},
				{Image: "broken.png", Size: [2]float64{10, 10}},
			},
			7: {{Image: "stamp.png", Size: [2]float64{10, 10}}},
		},
	}
	sum, err := c.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.TotalStamps != 1 || sum.PagesWithStamps != 1 {
		t.Errorf("stamps = %d on %d pages, want 1 on 1", sum.TotalStamps, sum.PagesWithStamps)
	}

	var reasons []string
	for _, s := range sum.Skipped {
		reasons = append(reasons, s.Reason)
	}
	want := []string{ReasonOutOfRange, ReasonAssetMissing, ReasonComposite}
	if diff := cmp.Diff(want, reasons); diff != "" {
		t.Errorf("skip reasons mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(sum.Skipped[1].Err, pderrors.ErrAssetMissing) {
		t.Errorf("missing image error = %v, want ErrAssetMissing", sum.Skipped[1].Err)
	}
	if !errors.Is(sum.Skipped[0].Err, pderrors.ErrOutOfRange) {
		t.Errorf("out of range error = %v, want ErrOutOfRange", sum.Skipped[0].Err)
	}
}

func TestOpenFailure(t *testing.T) {
	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(1, 10, 10)})
	_, err := c.Run(context.Background(), Request{Source: "nope.pdf", Destination: dst}, nil)
	if !errors.Is(err, pderrors.ErrExportFailed) || !errors.Is(err, pderrors.ErrOpenFailed) {
		t.Errorf("Run(missing source) = %v, want ExportFailed wrapping OpenFailed", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("destination created despite failure")
	}
}

func TestInvalidRequest(t *testing.T) {
	c, _ := setup(t, &doctest.Doc{Pages: doctest.Pages(1, 10, 10)})
	if _, err := c.Run(context.Background(), Request{Source: "src.pdf"}, nil); !errors.Is(err, pderrors.ErrInvalidInput) {
		t.Errorf("Run(no destination) = %v, want ErrInvalidInput", err)
	}
}

func TestWriteFailureKeepsPreviousFile(t *testing.T) {
	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(1, 10, 10), SaveErr: errors.New("disk full")})
	if err := os.WriteFile(dst, []byte("previous good export"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := c.Run(context.Background(), Request{Source: "src.pdf", Destination: dst}, nil)
	var exportErr *pderrors.ExportError
	if !errors.As(err, &exportErr) || exportErr.Stage != "write" {
		t.Fatalf("Run() = %v, want write-stage ExportError", err)
	}

	data, _ := os.ReadFile(dst)
	if string(data) != "previous good export" {
		t.Errorf("destination = %q, previous file was replaced", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, temp file left behind", len(entries))
	}
}

func TestRenameFailure(t *testing.T) {
	orig := rename
	defer func() { rename = orig }()
	rename = func(string, string) error { return errors.New("cross-device link") }

	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(1, 10, 10)})
	_, err := c.Run(context.Background(), Request{Source: "src.pdf", Destination: dst}, nil)
	if !errors.Is(err, pderrors.ErrExportFailed) {
		t.Fatalf("Run() = %v, want ErrExportFailed", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 0 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestCreateTempFailure(t *testing.T) {
	orig := createTemp
	defer func() { createTemp = orig }()
	createTemp = func(string, string) (*os.File, error) { return nil, os.ErrPermission }

	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(1, 10, 10)})
	_, err := c.Run(context.Background(), Request{Source: "src.pdf", Destination: dst}, nil)
	if !errors.Is(err, os.ErrPermission) || !errors.Is(err, pderrors.ErrExportFailed) {
		t.Errorf("Run() = %v, want ExportFailed wrapping ErrPermission", err)
	}
}

func TestCancelBetweenPages(t *testing.T) {
	c, dst := setup(t, &doctest.Doc{Pages: doctest.Pages(5, 10, 10)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen int
	_, err := c.Run(ctx, Request{Source: "src.pdf", Destination: dst}, func(done, total int) {
		seen = done
		if done == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if seen != 2 {
		t.Errorf("progress reached %d after cancel at 2", seen)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("cancelled export wrote a destination file")
	}
}

func TestRequestClone(t *testing.T) {
	req := Request{
		Rotations:  map[int]int{0: 90},
		Placements: map[int][]edits.Placement{0: {{Image: "a.png"}}},
		Viewport:   Viewport{Pages: map[int]document.Size{0: {W: 1, H: 1}}},
	}
	clone := req.Clone()
	clone.Rotations[0] = 180
	clone.Placements[0][0].Image = "b.png"
	clone.Viewport.Pages[0] = document.Size{W: 2, H: 2}

	if req.Rotations[0] != 90 || req.Placements[0][0].Image != "a.png" || req.Viewport.Pages[0].W != 1 {
		t.Error("Clone shares state with the original")
	}
}

func TestViewFor(t *testing.T) {
	v := Viewport{Pages: map[int]document.Size{1: {W: 300, H: 400}, 2: {}}}
	doc := document.Size{W: 600, H: 800}
	tests := []struct {
		page int
		want document.Size
	}{
		{1, document.Size{W: 300, H: 400}},
		{0, doc},
		{2, doc},
	}
	for _, tt := range tests {
		if got := v.ViewFor(tt.page, doc); got != tt.want {
			t.Errorf("ViewFor(%d) = %v, want %v", tt.page, got, tt.want)
		}
	}
}

func TestSummaryString(t *testing.T) {
	s := &Summary{TotalPages: 3, RotatedPageCount: 1, TotalStamps: 1, PagesWithStamps: 1}
	if got := s.String(); got != "3 pages, 1 rotated, 1 stamps on 1 pages, 0 skipped" {
		t.Errorf("String() = %q", got)
	}
}
