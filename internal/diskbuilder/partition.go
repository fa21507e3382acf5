package diskbuilder

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/diskfs/go-diskfs/partition/gpt"
)

// FilesystemType is the closed set of filesystems a partition can be encoded in.
type FilesystemType int

const (
	FAT32 FilesystemType = iota + 1
	EXT4
)

// String returns the configuration name of the filesystem type.
func (t FilesystemType) String() string {
	switch t {
	case FAT32:
		return "fat32"
	case EXT4:
		return "ext4"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseFilesystemType parses a configuration name ("fat32", "ext4").
func ParseFilesystemType(name string) (FilesystemType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fat32":
		return FAT32, nil
	case "ext4":
		return EXT4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFilesystem, name)
	}
}

// DefaultPartitionType is the GPT type GUID given to every partition unless
// the configuration names another one.
const DefaultPartitionType = gpt.EFISystemPartition

// PartitionSpec describes one partition to build. It is created from
// configuration and never modified afterwards.
type PartitionSpec struct {
	Name       string
	SourcePath string
	Filesystem FilesystemType

	// SizeOverride, when non-zero, is used instead of the estimate.
	SizeOverride uint64

	// TypeGUID is the GPT partition type; empty means DefaultPartitionType.
	TypeGUID gpt.Type
}

func (s PartitionSpec) partitionType() gpt.Type {
	if s.TypeGUID == "" {
		return DefaultPartitionType
	}
	return s.TypeGUID
}

// BuiltPartition is the encoded content of one partition. The content can be
// consumed exactly once; Close releases whatever temporary resource backs it
// and is safe to call more than once.
type BuiltPartition struct {
	Name       string
	Filesystem FilesystemType
	Size       uint64
	TypeGUID   gpt.Type

	mu       sync.Mutex
	content  io.ReadCloser
	consumed bool
	closed   bool
}

// NewBuiltPartition wraps content of exactly size bytes.
func NewBuiltPartition(name string, fsType FilesystemType, size uint64, content io.ReadCloser) *BuiltPartition {
	return &BuiltPartition{
		Name:       name,
		Filesystem: fsType,
		Size:       size,
		TypeGUID:   DefaultPartitionType,
		content:    content,
	}
}

// take hands out the content stream. A second call fails.
func (p *BuiltPartition) take() (io.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consumed || p.closed {
		return nil, ErrContentConsumed
	}
	p.consumed = true
	return p.content, nil
}

// Close releases the partition content.
func (p *BuiltPartition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.content == nil {
		return nil
	}
	return p.content.Close()
}

// tempContent is partition content backed by a file inside a private
// temporary directory. Closing it removes the directory.
type tempContent struct {
	*os.File
	dir string
}

func (c *tempContent) Close() error {
	closeErr := c.File.Close()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to remove temp directory %s: %w", c.dir, err)
	}
	return closeErr
}

// openTempContent opens the finished image at path and returns it together
// with its real length. On failure the directory is removed.
func openTempContent(dir, path string) (*tempContent, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		os.RemoveAll(dir)
		return nil, 0, fmt.Errorf("failed to reopen image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		os.RemoveAll(dir)
		return nil, 0, fmt.Errorf("failed to stat image: %w", err)
	}
	return &tempContent{File: f, dir: dir}, uint64(info.Size()), nil
}
