// Package errors provides the error taxonomy shared by the rendering,
// caching and export pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")
	// ErrClosed indicates use of a component after it was shut down
	ErrClosed = errors.New("closed")

	// ErrOpenFailed indicates a document could not be opened
	ErrOpenFailed = errors.New("open failed")
	// ErrNotCalibrated indicates a coordinate conversion before calibration
	ErrNotCalibrated = errors.New("not calibrated")
	// ErrRenderFailed indicates a single page could not be rasterized
	ErrRenderFailed = errors.New("render failed")
	// ErrAssetMissing indicates a stamp image is missing or unreadable
	ErrAssetMissing = errors.New("asset missing")
	// ErrExportFailed indicates an export job could not complete
	ErrExportFailed = errors.New("export failed")
	// ErrCacheWriteFailed indicates the disk overflow could not store an entry
	ErrCacheWriteFailed = errors.New("cache write failed")
	// ErrOutOfRange indicates a page index outside the document
	ErrOutOfRange = errors.New("page index out of range")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "document", "stamp", "worker")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Unwrap matches both ErrNotFound and the underlying cause.
func (e *NotFoundError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNotFound, e.Err}
	}
	return []error{ErrNotFound}
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Unwrap matches both ErrInvalidInput and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidInput, e.Err}
	}
	return []error{ErrInvalidInput}
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// OpenError reports a document that could not be opened.
// It matches both ErrOpenFailed and the underlying cause.
type OpenError struct {
	Path   string
	Reason string // e.g. "missing file", "corrupt stream", "unsupported format"
	Err    error
}

func (e *OpenError) Error() string {
	msg := fmt.Sprintf("open %s", e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpenError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOpenFailed, e.Err}
	}
	return []error{ErrOpenFailed}
}

// RenderError reports a page that failed to rasterize.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render page %d: %v", e.Page, e.Err)
}

func (e *RenderError) Unwrap() []error {
	return []error{ErrRenderFailed, e.Err}
}

// AssetError reports a stamp image that could not be composited.
type AssetError struct {
	Page int
	Ref  string
	Err  error
}

func (e *AssetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stamp %q on page %d: %v", e.Ref, e.Page, e.Err)
	}
	return fmt.Sprintf("stamp %q on page %d: missing", e.Ref, e.Page)
}

func (e *AssetError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAssetMissing, e.Err}
	}
	return []error{ErrAssetMissing}
}

// ExportError reports a job-level export failure.
type ExportError struct {
	Stage string // "open", "rotate", "create", "write", "rename"
	Path  string
	Err   error
}

func (e *ExportError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("export %s (%s): %v", e.Path, e.Stage, e.Err)
	}
	return fmt.Sprintf("export (%s): %v", e.Stage, e.Err)
}

func (e *ExportError) Unwrap() []error {
	return []error{ErrExportFailed, e.Err}
}

// CacheWriteError reports an entry that could not be persisted to the
// disk overflow.
type CacheWriteError struct {
	Key string
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %s: %v", e.Key, e.Err)
}

func (e *CacheWriteError) Unwrap() []error {
	return []error{ErrCacheWriteFailed, e.Err}
}

// RangeError reports a page index outside [0, Count).
type RangeError struct {
	Index int
	Count int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("page %d out of range [0, %d)", e.Index, e.Count)
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewOpen creates an OpenError
func NewOpen(path, reason string, err error) *OpenError {
	return &OpenError{Path: path, Reason: reason, Err: err}
}

// NewRender creates a RenderError
func NewRender(page int, err error) *RenderError {
	return &RenderError{Page: page, Err: err}
}

// NewAsset creates an AssetError
func NewAsset(page int, ref string, err error) *AssetError {
	return &AssetError{Page: page, Ref: ref, Err: err}
}

// NewExport creates an ExportError
func NewExport(stage, path string, err error) *ExportError {
	return &ExportError{Stage: stage, Path: path, Err: err}
}

// NewCacheWrite creates a CacheWriteError
func NewCacheWrite(key string, err error) *CacheWriteError {
	return &CacheWriteError{Key: key, Err: err}
}

// NewRange creates a RangeError
func NewRange(index, count int) *RangeError {
	return &RangeError{Index: index, Count: count}
}

// CheckIndex returns a RangeError if index is outside [0, count).
func CheckIndex(index, count int) error {
	if index < 0 || index >= count {
		return NewRange(index, count)
	}
	return nil
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
