package diskbuilder

import (
	"context"
	"fmt"
	"os"
	pathpkg "path"
	"path/filepath"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const fat32MaxLabel = 11

func (b *Builder) buildFAT32(ctx context.Context, spec PartitionSpec, size uint64) (*BuiltPartition, error) {
	dir, err := os.MkdirTemp(b.WorkDir, "fat32-*")
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
	img, err := diskfs.Create(imagePath, int64(size), diskfs.SectorSize512)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create image: %w", ErrBuild, err)
	}

	fs, err := img.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: fat32Label(spec.Name),
	})
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("%w: failed to format FAT32: %w", ErrBuild, err)
	}

	copyErr := copyTree(ctx, b.source(), spec.SourcePath, NewDiskfsFilesystemWriter(fs))
	closeErr := img.Close()
	if copyErr != nil {
		return nil, copyErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("%w: failed to close image: %w", ErrBuild, closeErr)
	}

	content, actual, err := openTempContent(dir, imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	committed = true

	return NewBuiltPartition(spec.Name, FAT32, actual, content), nil
}

// copyTree walks root depth-first in lexical order and replays every
// directory and regular file into w. Other entry types are skipped.
func copyTree(ctx context.Context, source afero.Fs, root string, w FilesystemWriter) error {
	root = filepath.Clean(root)
	if err := w.Begin(); err != nil {
		return err
	}

	names := fatNames{}
	err := afero.Walk(source, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrBuild, ctxErr)
		}
		if err != nil {
			return fmt.Errorf("%w: cannot read %s: %w", ErrBuild, path, err)
		}
		if path == root {
			if !info.IsDir() {
				return fmt.Errorf("%w: source %s is not a directory", ErrBuild, root)
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBuild, err)
		}
		target := "/" + filepath.ToSlash(rel)
		if info.IsDir() || info.Mode().IsRegular() {
			if err := names.add(target); err != nil {
				return err
			}
		}

		switch {
		case info.IsDir():
			logrus.WithField("path", target).Debug("DIR")
			return w.Mkdir(target)
		case info.Mode().IsRegular():
			logrus.WithField("path", target).Debug("FILE")
			return copyFile(source, path, target, info.Size(), w)
		default:
			logrus.WithField("path", path).Warn("Skipping entry that is neither a file nor a directory")
			return nil
		}
	})
	if err != nil {
		return err
	}

	return w.End()
}

// fatNames remembers the case-folded names already used in every target
// directory. FAT32 lookups ignore case, so "A.txt" and "a.txt" would land
// on the same entry.
type fatNames map[string]map[string]string

func (n fatNames) add(target string) error {
	dir, name := pathpkg.Split(target)
	used, ok := n[dir]
	if !ok {
		used = map[string]string{}
		n[dir] = used
	}
	folded := strings.ToLower(name)
	if prev, ok := used[folded]; ok {
		return fmt.Errorf("%w: %w: %s collides with %s", ErrBuild, ErrDuplicateName, target, dir+prev)
	}
	used[folded] = name
	return nil
}

func copyFile(source afero.Fs, path, target string, size int64, w FilesystemWriter) error {
	src, err := source.Open(path)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", ErrBuild, path, err)
	}
	defer src.Close()

	return w.WriteFile(target, src, size)
}

// fat32Label derives a volume label from a partition name: upper case,
// alphanumerics only, at most 11 characters.
func fat32Label(name string) string {
	var label strings.Builder
	for _, r := range strings.ToUpper(name) {
		if label.Len() == fat32MaxLabel {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			label.WriteRune(r)
		}
	}
	if label.Len() == 0 {
		return "DS2IMG"
	}
	return label.String()
}
