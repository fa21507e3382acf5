package diskbuilder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

func (b *Builder) buildExt4(ctx context.Context, spec PartitionSpec, size uint64) (*BuiltPartition, error) {
	if b.Ext4 == nil {
		return nil, fmt.Errorf("%w: no ext4 formatter configured", ErrBuild)
	}

	dir, err := os.MkdirTemp(b.WorkDir, "ext4-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp directory: %w", ErrBuild, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(dir)
		}
	}()

	imagePath := filepath.Join(dir, "partition.img")
	if err := allocateFile(imagePath, size); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	if err := b.Ext4.Format(ctx, spec.SourcePath, imagePath); err != nil {
		if errors.Is(err, ErrExternalTool) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrExternalTool, err)
	}

	content, actual, err := openTempContent(dir, imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	committed = true

	return NewBuiltPartition(spec.Name, EXT4, actual, content), nil
}

// allocateFile creates a zero-filled (sparse) file of size bytes.
func allocateFile(path string, size uint64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return fmt.Errorf("failed to size %s: %w", path, err)
	}
	return f.Close()
}
