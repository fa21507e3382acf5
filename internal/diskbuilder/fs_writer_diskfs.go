package diskbuilder

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/diskfs/go-diskfs/filesystem"
)

// DiskfsFilesystemWriter writes a tree into a go-diskfs filesystem.
type DiskfsFilesystemWriter struct {
	filesystem filesystem.FileSystem
}

// NewDiskfsFilesystemWriter creates a new go-diskfs based filesystem writer
func NewDiskfsFilesystemWriter(fs filesystem.FileSystem) *DiskfsFilesystemWriter {
	return &DiskfsFilesystemWriter{
		filesystem: fs,
	}
}

// Begin checks that a filesystem is attached
func (w *DiskfsFilesystemWriter) Begin() error {
	if w.filesystem == nil {
		return fmt.Errorf("%w: no filesystem attached", ErrBuild)
	}
	return nil
}

// Mkdir creates dirPath and its parents. Existing directories are not an error.
func (w *DiskfsFilesystemWriter) Mkdir(dirPath string) error {
	dirPath = normalizePath(dirPath)
	if dirPath == "/" {
		return nil
	}

	if err := w.filesystem.Mkdir(dirPath); err != nil && !os.IsExist(err) {
		if isOutOfSpaceError(err) {
			return fmt.Errorf("%w: %w: creating directory %s", ErrBuild, ErrDiskFull, dirPath)
		}
		return fmt.Errorf("%w: failed to create directory %s: %w", ErrBuild, dirPath, err)
	}
	return nil
}

// WriteFile writes exactly size bytes from reader to a new file at filePath
func (w *DiskfsFilesystemWriter) WriteFile(filePath string, reader io.Reader, size int64) error {
	if w.filesystem == nil {
		return fmt.Errorf("%w: no filesystem attached", ErrBuild)
	}

	filePath = normalizePath(filePath)

	dir := path.Dir(filePath)
	if dir != "/" && dir != "." {
		if err := w.Mkdir(dir); err != nil {
			return err
		}
	}

	file, err := w.filesystem.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		if isOutOfSpaceError(err) {
			return fmt.Errorf("%w: %w: creating %s", ErrBuild, ErrDiskFull, filePath)
		}
		return fmt.Errorf("%w: failed to create file %s: %w", ErrBuild, filePath, err)
	}

	written, err := io.CopyN(file, reader, size)
	closeErr := file.Close()
	if err != nil {
		if isOutOfSpaceError(err) {
			return fmt.Errorf("%w: %w: writing %s", ErrBuild, ErrDiskFull, filePath)
		}
		return fmt.Errorf("%w: failed to write file %s after %d of %d bytes: %w", ErrBuild, filePath, written, size, err)
	}
	if closeErr != nil {
		if isOutOfSpaceError(closeErr) {
			return fmt.Errorf("%w: %w: closing %s", ErrBuild, ErrDiskFull, filePath)
		}
		return fmt.Errorf("%w: failed to close file %s: %w", ErrBuild, filePath, closeErr)
	}

	return nil
}

// End finalizes the filesystem writes (no-op for diskfs)
func (w *DiskfsFilesystemWriter) End() error {
	return nil
}

// normalizePath makes p absolute and clean, using forward slashes
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
