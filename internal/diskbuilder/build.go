package diskbuilder

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Builder produces the encoded content of partitions.
type Builder struct {
	// Source is where FAT32 source trees are read from. The ext4 formatter
	// always reads the host filesystem.
	Source afero.Fs

	// WorkDir holds intermediate images; empty means os.TempDir().
	WorkDir string

	Ext4 Ext4Formatter
}

// NewBuilder returns a builder reading from the host filesystem.
func NewBuilder(workDir string, ext4 Ext4Formatter) *Builder {
	return &Builder{
		Source:  afero.NewOsFs(),
		WorkDir: workDir,
		Ext4:    ext4,
	}
}

// Build encodes spec's source tree into a partition of at least size bytes.
func (b *Builder) Build(ctx context.Context, spec PartitionSpec, size uint64) (*BuiltPartition, error) {
	log := logrus.WithFields(logrus.Fields{
		"partition":  spec.Name,
		"filesystem": spec.Filesystem,
		"size":       humanize.IBytes(size),
	})
	log.Info("Building partition")

	var (
		part *BuiltPartition
		err  error
	)
	switch spec.Filesystem {
	case FAT32:
		part, err = b.buildFAT32(ctx, spec, size)
	case EXT4:
		part, err = b.buildExt4(ctx, spec, size)
	default:
		return nil, fmt.Errorf("%w: %w: %v", ErrBuild, ErrUnknownFilesystem, spec.Filesystem)
	}
	if err != nil {
		return nil, fmt.Errorf("partition %q: %w", spec.Name, err)
	}

	part.TypeGUID = spec.partitionType()
	log.WithField("actual", humanize.IBytes(part.Size)).Info("Partition built")
	return part, nil
}

func (b *Builder) source() afero.Fs {
	if b.Source == nil {
		return afero.NewOsFs()
	}
	return b.Source
}
