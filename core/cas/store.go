// Package cas provides a content-addressed disk store used as the overflow
// tier of the page bitmap cache. Entries are addressed by the BLAKE3 hash of
// their key, so arbitrary key strings map to fixed-length file names.
package cas

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zeebo/blake3"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// tempFileWrite is a function variable for writing to temp files (for testing).
var tempFileWrite = func(f *os.File, data []byte) (int, error) {
	return f.Write(data)
}

// tempFileClose is a function variable for closing temp files (for testing).
var tempFileClose = func(f io.Closer) error {
	return f.Close()
}

// ErrBlobNotFound is returned when no blob is stored under a key.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidHash is returned when a hash string is not a valid BLAKE3 hex string.
var ErrInvalidHash = errors.New("invalid hash format")

// hashPattern matches a valid lowercase 256-bit hex string (64 characters).
var hashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Store provides key-addressed blob storage under a root directory.
type Store struct {
	root string
}

// NewStore creates a store at the given root directory.
// The directory structure will be created if it doesn't exist.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(blobDir(root), 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Put stores data under key, replacing any previous blob for the key.
// It returns the hash the blob is filed under.
func (s *Store) Put(key string, data []byte) (string, error) {
	hash := KeyHash(key)
	blobPath := s.pathForHash(hash)

	prefixDir := filepath.Dir(blobPath)
	if err := os.MkdirAll(prefixDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create prefix directory: %w", err)
	}

	// Write the blob atomically using a temp file
	tempFile, err := os.CreateTemp(prefixDir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFileWrite(tempFile, data); err != nil {
		tempFileClose(tempFile)
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	if err := tempFileClose(tempFile); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := osRename(tempPath, blobPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename blob: %w", err)
	}

	return hash, nil
}

// Get retrieves the blob stored under key.
// Returns ErrBlobNotFound if the blob does not exist.
func (s *Store) Get(key string) ([]byte, error) {
	return s.Retrieve(KeyHash(key))
}

// Retrieve retrieves the blob with the given hash.
// Returns ErrBlobNotFound if the blob does not exist.
// Returns ErrInvalidHash if the hash format is invalid.
func (s *Store) Retrieve(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, ErrInvalidHash
	}

	data, err := os.ReadFile(s.pathForHash(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Exists checks if a blob is stored under key.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.pathForHash(KeyHash(key)))
	return err == nil
}

// Delete removes the blob stored under key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.pathForHash(KeyHash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Clear removes every blob in the store, keeping the root directory.
func (s *Store) Clear() error {
	dir := blobDir(s.root)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear blob directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	return nil
}

// pathForHash returns the file path for a blob with the given hash.
// Blobs are stored at: <root>/blobs/blake3/<first2>/<hash>
func (s *Store) pathForHash(hash string) string {
	return filepath.Join(blobDir(s.root), hash[:2], hash)
}

func blobDir(root string) string {
	return filepath.Join(root, "blobs", "blake3")
}

// isValidHash checks if a hash string is a valid 256-bit hex string.
func isValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// KeyHash computes the BLAKE3 hash of a key string.
func KeyHash(key string) string {
	return Blake3Hash([]byte(key))
}

// Blake3Hash computes the BLAKE3 hash of the given data.
func Blake3Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
