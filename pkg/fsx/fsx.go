// Package fsx is the file storage port. Upload sources are read through it
// so workers do not care whether a file sits on local disk or in a bucket.
package fsx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Abraxas-365/repohub/pkg/errx"
)

var fsxErrors = errx.NewRegistry("FSX")

var (
	ErrFileNotFound = fsxErrors.Register("FILE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "File not found")
	ErrInvalidPath  = fsxErrors.Register("INVALID_PATH", errx.TypeValidation, http.StatusBadRequest, "Invalid file path")
	ErrAccessDenied = fsxErrors.Register("ACCESS_DENIED", errx.TypeAuthorization, http.StatusForbidden, "Access to file denied")
	ErrStorage      = fsxErrors.Register("STORAGE", errx.TypeExternal, http.StatusServiceUnavailable, "File storage unavailable")
)

// NotFound builds the error every backend returns for a missing path.
func NotFound(path string) *errx.Error {
	return fsxErrors.New(ErrFileNotFound).WithDetail("path", path)
}

// InvalidPath rejects a path that is empty or leaves the storage root.
func InvalidPath(path string) *errx.Error {
	return fsxErrors.New(ErrInvalidPath).WithDetail("path", path)
}

// AccessDenied wraps a permission failure on path.
func AccessDenied(path string, cause error) *errx.Error {
	return fsxErrors.NewWithCause(ErrAccessDenied, cause).WithDetail("path", path)
}

// StorageError wraps any other backend failure during op.
func StorageError(op, path string, cause error) *errx.Error {
	return fsxErrors.NewWithCause(ErrStorage, cause).
		WithDetail("op", op).
		WithDetail("path", path)
}

// FileInfo represents information about a file
type FileInfo struct {
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// FileReader provides read-only operations
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	ReadFileStream(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// FileWriter provides write operations
type FileWriter interface {
	WriteFile(ctx context.Context, path string, data []byte) error
	WriteFileStream(ctx context.Context, path string, r io.Reader) error
}

// FileDeleter provides deletion operations
type FileDeleter interface {
	DeleteFile(ctx context.Context, path string) error
}

// FileSystem combines all file operations
type FileSystem interface {
	FileReader
	FileWriter
	FileDeleter
}

// ContentType guesses a MIME type from the file extension.
func ContentType(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] != '.' {
			continue
		}
		switch path[i:] {
		case ".csv":
			return "text/csv"
		case ".tsv":
			return "text/tab-separated-values"
		case ".txt":
			return "text/plain"
		case ".json":
			return "application/json"
		case ".gz":
			return "application/gzip"
		}
		break
	}
	return "application/octet-stream"
}
