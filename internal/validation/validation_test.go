package validation

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		wantError error
	}{
		{"valid simple filename", "page-001.png", nil},
		{"valid filename with spaces", "my scan.pdf", nil},
		{"empty filename", "", ErrInvalidFilename},
		{"dot filename", ".", ErrInvalidFilename},
		{"dotdot filename", "..", ErrInvalidFilename},
		{"filename with slash", "dir/file.pdf", ErrInvalidFilename},
		{"filename with backslash", "dir\\file.pdf", ErrInvalidFilename},
		{"filename with null byte", "file\x00.pdf", ErrInvalidFilename},
		{"filename with control character", "file\n.pdf", ErrInvalidFilename},
		{"filename starting with hyphen", "-file.pdf", ErrInvalidFilename},
		{"too long filename", strings.Repeat("a", 256), ErrFilenameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantError == nil {
				if err != nil {
					t.Errorf("ValidateFilename() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantError) {
				t.Errorf("ValidateFilename() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantError error
	}{
		{"valid relative path", "doc.pdf", nil},
		{"valid absolute path", "/tmp/doc.pdf", nil},
		{"empty path", "", ErrEmptyPath},
		{"path with null byte", "doc\x00.pdf", ErrInvalidCharacter},
		{"path with control character", "dir/doc\n.pdf", ErrInvalidCharacter},
		{"very long path", strings.Repeat("a/", 2048) + "doc.pdf", ErrPathTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantError == nil {
				if err != nil {
					t.Errorf("ValidatePath() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantError) {
				t.Errorf("ValidatePath() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		want      string
		wantError error
	}{
		{"valid filename unchanged", "scan.pdf", "scan.pdf", nil},
		{"leading and trailing spaces", "  scan.pdf  ", "scan.pdf", nil},
		{"slashes replaced", "dir/scan.pdf", "dir_scan.pdf", nil},
		{"backslashes replaced", "dir\\scan.pdf", "dir_scan.pdf", nil},
		{"control characters removed", "scan\n\r.pdf", "scan.pdf", nil},
		{"leading hyphen removed", "-scan.pdf", "scan.pdf", nil},
		{"empty filename", "", "", ErrInvalidFilename},
		{"becomes empty", "---", "", ErrInvalidFilename},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeFilename(tt.filename)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Errorf("SanitizeFilename() error = %v, want %v", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeFilename() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    FileType
	}{
		{"pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), FileTypePDF},
		{"pdf after junk", append(bytes.Repeat([]byte{' '}, 100), []byte("%PDF-1.4")...), FileTypePDF},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}, FileTypePNG},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, FileTypeJPEG},
		{"gif", []byte("GIF89a"), FileTypeGIF},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), FileTypeWebP},
		{"bmp", []byte("BM\x00\x00"), FileTypeBMP},
		{"tiff little endian", []byte{'I', 'I', 0x2a, 0x00}, FileTypeTIFF},
		{"tiff big endian", []byte{'M', 'M', 0x00, 0x2a}, FileTypeTIFF},
		{"text", []byte("hello world"), FileTypeUnknown},
		{"empty", nil, FileTypeUnknown},
		{"pdf marker beyond window", append(bytes.Repeat([]byte{' '}, 2000), []byte("%PDF-1.4")...), FileTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFileType(bytes.NewReader(tt.content))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DetectFileType() = %s, want %s", got, tt.want)
			}
		})
	}
}

type errorReader struct{}

func (errorReader) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("read error")
}

func TestDetectFileTypeReadError(t *testing.T) {
	_, err := DetectFileType(errorReader{})
	if err == nil || !strings.Contains(err.Error(), "failed to read file header") {
		t.Errorf("DetectFileType() error = %v, want header read error", err)
	}
}

func TestValidateDocument(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	os.WriteFile(pdf, []byte("%PDF-1.7\n"), 0644)
	png := filepath.Join(dir, "fake.pdf")
	os.WriteFile(png, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0644)

	if err := ValidateDocument(pdf); err != nil {
		t.Errorf("ValidateDocument(pdf) = %v", err)
	}
	if err := ValidateDocument(png); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ValidateDocument(png named .pdf) = %v, want ErrUnsupported", err)
	}
	if err := ValidateDocument(dir); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ValidateDocument(dir) = %v, want ErrUnsupported", err)
	}
	if err := ValidateDocument(filepath.Join(dir, "missing.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ValidateDocument(missing) = %v, want ErrNotExist", err)
	}
	if err := ValidateDocument(""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("ValidateDocument(\"\") = %v, want ErrEmptyPath", err)
	}
}

func TestValidateImage(t *testing.T) {
	dir := t.TempDir()
	gif := filepath.Join(dir, "stamp.gif")
	os.WriteFile(gif, []byte("GIF89a...."), 0644)
	pdf := filepath.Join(dir, "stamp.png")
	os.WriteFile(pdf, []byte("%PDF-1.7"), 0644)

	got, err := ValidateImage(gif)
	if err != nil || got != FileTypeGIF {
		t.Errorf("ValidateImage(gif) = %s, %v", got, err)
	}
	if _, err := ValidateImage(pdf); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ValidateImage(pdf) = %v, want ErrUnsupported", err)
	}
}

func TestIsImage(t *testing.T) {
	for _, ft := range []FileType{FileTypePNG, FileTypeJPEG, FileTypeGIF, FileTypeWebP, FileTypeBMP, FileTypeTIFF} {
		if !ft.IsImage() {
			t.Errorf("%s.IsImage() = false", ft)
		}
	}
	if FileTypePDF.IsImage() || FileTypeUnknown.IsImage() {
		t.Error("pdf and unknown are not images")
	}
}
