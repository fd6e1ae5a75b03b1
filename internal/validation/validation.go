// Package validation checks user-supplied paths and sniffs document and
// image formats from their magic bytes before they reach a parser.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Limits applied to user input.
const (
	// MaxFileSize is the largest document or stamp image accepted (256 MB).
	MaxFileSize = 256 << 20
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrFileTooLarge     = errors.New("file too large")
	ErrUnsupported      = errors.New("unsupported file format")
)

// ValidatePath checks a path for length limits and invalid characters.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// ValidateFilename checks that a filename has no separators, control
// characters or reserved names.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// SanitizeFilename turns an arbitrary name into a safe filename, e.g. when
// naming thumbnails after their source documents.
func SanitizeFilename(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")

	var cleaned strings.Builder
	for _, r := range filename {
		if !unicode.IsControl(r) {
			cleaned.WriteRune(r)
		}
	}
	filename = strings.TrimLeft(cleaned.String(), "-")

	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	return filename, nil
}

// FileType is a format detected from file content.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
	FileTypeGIF  FileType = "gif"
	FileTypeWebP FileType = "webp"
	FileTypeBMP  FileType = "bmp"
	FileTypeTIFF FileType = "tiff"

	FileTypeUnknown FileType = "unknown"
)

// IsImage reports whether t is a stamp image format.
func (t FileType) IsImage() bool {
	switch t {
	case FileTypePNG, FileTypeJPEG, FileTypeGIF, FileTypeWebP, FileTypeBMP, FileTypeTIFF:
		return true
	}
	return false
}

// magicBytes defines magic byte signatures for file type detection.
var magicBytes = []struct {
	fileType FileType
	magic    []byte
	offset   int
}{
	{FileTypePNG, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0},
	{FileTypeJPEG, []byte{0xff, 0xd8, 0xff}, 0},
	{FileTypeGIF, []byte("GIF8"), 0},
	{FileTypeWebP, []byte("WEBP"), 8},
	{FileTypeBMP, []byte("BM"), 0},
	{FileTypeTIFF, []byte{'I', 'I', 0x2a, 0x00}, 0},
	{FileTypeTIFF, []byte{'M', 'M', 0x00, 0x2a}, 0},
}

// pdfSearchWindow is how far into a file the %PDF- header may appear.
const pdfSearchWindow = 1024

// DetectFileType reads the head of r and returns the detected format.
func DetectFileType(r io.Reader) (FileType, error) {
	buf := make([]byte, pdfSearchWindow)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	return detectFileTypeFromMagic(buf[:n]), nil
}

func detectFileTypeFromMagic(buf []byte) FileType {
	// Readers accept junk before the header, so search a window for it.
	if bytes.Contains(buf, []byte("%PDF-")) {
		return FileTypePDF
	}
	for _, sig := range magicBytes {
		if sig.offset+len(sig.magic) <= len(buf) {
			if bytes.Equal(buf[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
				return sig.fileType
			}
		}
	}
	return FileTypeUnknown
}

// ValidateDocument checks that path names a readable PDF of acceptable size.
func ValidateDocument(path string) error {
	return validateFile(path, func(t FileType) bool { return t == FileTypePDF })
}

// ValidateImage checks that path names a readable stamp image.
func ValidateImage(path string) (FileType, error) {
	var detected FileType
	err := validateFile(path, func(t FileType) bool {
		detected = t
		return t.IsImage()
	})
	return detected, err
}

func validateFile(path string, accept func(FileType) bool) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrUnsupported, filepath.Base(path))
	}
	if info.Size() > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	t, err := DetectFileType(f)
	if err != nil {
		return err
	}
	if !accept(t) {
		return fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
	return nil
}
