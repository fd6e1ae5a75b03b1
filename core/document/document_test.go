package document

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

func TestSizeValid(t *testing.T) {
	tests := []struct {
		s    Size
		want bool
	}{
		{Size{600, 800}, true},
		{Size{0, 800}, false},
		{Size{600, -1}, false},
	}
	for _, tt := range tests {
		if got := tt.s.Valid(); got != tt.want {
			t.Errorf("%v.Valid() = %v, want %v", tt.s, got, tt.want)
		}
	}
	if got := (Size{612, 792}).String(); got != "612x792" {
		t.Errorf("String() = %q", got)
	}
}

func TestFileAssets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stamp.png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	data, err := FileAssets{}.LoadImageBytes(path)
	if err != nil || string(data) != "png" {
		t.Errorf("LoadImageBytes() = %q, %v", data, err)
	}

	_, err = FileAssets{}.LoadImageBytes(filepath.Join(dir, "missing.png"))
	if !errors.Is(err, pderrors.ErrNotFound) {
		t.Errorf("missing asset error = %v, want ErrNotFound", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing asset error = %v, want os.ErrNotExist cause", err)
	}
}

func TestFileAssetsReadError(t *testing.T) {
	orig := readFile
	defer func() { readFile = orig }()
	readFile = func(string) ([]byte, error) { return nil, errors.New("io failure") }

	_, err := FileAssets{}.LoadImageBytes("x.png")
	var ioErr *pderrors.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("error = %v, want IOError", err)
	}
}

func TestAssetFunc(t *testing.T) {
	var loader AssetLoader = AssetFunc(func(ref string) ([]byte, error) {
		return []byte(ref), nil
	})
	got, _ := loader.LoadImageBytes("abc")
	if string(got) != "abc" {
		t.Errorf("AssetFunc returned %q", got)
	}
}
