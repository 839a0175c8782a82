package imagestore

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"catalog-service/pkg/config"
	"catalog-service/prometheus"

	"github.com/google/uuid"
)

// Validation errors surfaced to clients as field errors on the image part.
var (
	ErrExtensionNotAllowed = errors.New("Not Allowed Image Extension")
	ErrTooLarge            = errors.New("Allowed image Maximum size is 2 MB")
)

// Store writes uploaded product images under the public web root and maps
// them to URLs of the form <publicPrefix>/<uuid><ext>. Products without an
// uploaded image reference the placeholder URL instead.
type Store struct {
	dir          string
	publicPrefix string
	placeholder  string
	maxBytes     int64
	allowedExts  []string
}

var store *Store

// New builds a store from configuration without touching the filesystem
func New(cfg *config.UploadConfig) *Store {
	return &Store{
		dir:          cfg.Dir,
		publicPrefix: strings.TrimRight(cfg.PublicPrefix, "/"),
		placeholder:  cfg.Placeholder,
		maxBytes:     cfg.MaxBytes,
		allowedExts:  cfg.AllowedExtensions,
	}
}

// Init creates the public image root if missing and installs the
// package-level store instance
func Init(cfg *config.UploadConfig) error {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	store = New(cfg)
	return nil
}

// Get returns the package-level store instance
func Get() *Store {
	return store
}

// Placeholder returns the URL assigned to products without an uploaded image
func (s *Store) Placeholder() string {
	return s.placeholder
}

// Validate checks the upload's extension and size without touching the disk.
// The extension check is an exact match on the filename's suffix, so ".JPG"
// is rejected.
func (s *Store) Validate(file *multipart.FileHeader) error {
	ext := filepath.Ext(file.Filename)
	allowed := false
	for _, e := range s.allowedExts {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrExtensionNotAllowed
	}
	if file.Size > s.maxBytes {
		return ErrTooLarge
	}
	return nil
}

// Save validates the upload, streams it to a freshly named file under the
// public root and returns its public URL
func (s *Store) Save(file *multipart.FileHeader) (string, error) {
	if err := s.Validate(file); err != nil {
		return "", err
	}

	name := uuid.New().String() + filepath.Ext(file.Filename)

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		// Drop the partial file so a failed upload leaves nothing behind
		os.Remove(filepath.Join(s.dir, name))
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	prometheus.RecordImageOperation("save")
	return s.publicPrefix + "/" + name, nil
}

// Remove deletes the file behind an image URL. The placeholder and empty
// URLs are left untouched, and a missing file is not an error.
func (s *Store) Remove(url string) error {
	if url == "" || url == s.placeholder {
		return nil
	}

	// Base strips any path segments a stored URL could smuggle in
	path := filepath.Join(s.dir, filepath.Base(url))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove image file: %w", err)
	}

	prometheus.RecordImageOperation("remove")
	return nil
}
