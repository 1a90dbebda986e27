package fsxlocal

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Abraxas-365/repohub/pkg/fsx"
)

// LocalFileSystem implements fsx.FileSystem using local disk
type LocalFileSystem struct {
	basePath string
}

// NewLocalFileSystem creates basePath if needed and roots every path under it.
func NewLocalFileSystem(basePath string) (*LocalFileSystem, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fsx.StorageError("mkdir", basePath, err)
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fsx.StorageError("abs", basePath, err)
	}

	return &LocalFileSystem{basePath: absPath}, nil
}

// BasePath returns the resolved root directory.
func (l *LocalFileSystem) BasePath() string {
	return l.basePath
}

func (l *LocalFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapError("read", path, err)
	}
	return data, nil
}

func (l *LocalFileSystem) ReadFileStream(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, mapError("open", path, err)
	}
	return f, nil
}

func (l *LocalFileSystem) Stat(ctx context.Context, path string) (fsx.FileInfo, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return fsx.FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return fsx.FileInfo{}, mapError("stat", path, err)
	}
	if info.IsDir() {
		return fsx.FileInfo{}, fsx.InvalidPath(path)
	}
	return fsx.FileInfo{
		Name:        info.Name(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: fsx.ContentType(path),
	}, nil
}

func (l *LocalFileSystem) Exists(ctx context.Context, path string) (bool, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, mapError("stat", path, err)
	}
	return true, nil
}

func (l *LocalFileSystem) WriteFile(ctx context.Context, path string, data []byte) error {
	full, err := l.prepare(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return mapError("write", path, err)
	}
	return nil
}

// WriteFileStream writes through a temp file so readers never see a partial file.
func (l *LocalFileSystem) WriteFileStream(ctx context.Context, path string, r io.Reader) error {
	full, err := l.prepare(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return mapError("create", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return mapError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return mapError("write", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return mapError("rename", path, err)
	}
	return nil
}

func (l *LocalFileSystem) DeleteFile(ctx context.Context, path string) error {
	full, err := l.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mapError("delete", path, err)
	}
	return nil
}

func (l *LocalFileSystem) prepare(path string) (string, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", mapError("mkdir", path, err)
	}
	return full, nil
}

// fullPath resolves path under the base directory and refuses to leave it.
func (l *LocalFileSystem) fullPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fsx.InvalidPath(path)
	}
	full := filepath.Join(l.basePath, filepath.FromSlash(path))
	rel, err := filepath.Rel(l.basePath, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fsx.InvalidPath(path)
	}
	return full, nil
}

func mapError(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fsx.NotFound(path)
	case errors.Is(err, fs.ErrPermission):
		return fsx.AccessDenied(path, err)
	}
	return fsx.StorageError(op, path, err)
}
