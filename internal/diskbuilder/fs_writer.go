package diskbuilder

import "io"

// FilesystemWriter receives a source tree, one directory or file at a time,
// and writes it into a filesystem image. Paths are slash-separated and
// absolute within the image.
type FilesystemWriter interface {
	// Begin prepares the filesystem for writing
	Begin() error

	// Mkdir creates a directory and any missing parents
	Mkdir(dirPath string) error

	// WriteFile writes size bytes from reader to a new file at filePath
	WriteFile(filePath string, reader io.Reader, size int64) error

	// End finalizes the filesystem writes
	End() error
}
