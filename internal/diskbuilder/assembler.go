package diskbuilder

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// assemblyState tracks how far an assembly got. States only move forward.
type assemblyState int

const (
	stateUnbuilt assemblyState = iota
	stateSized
	stateTableInitialized
	statePartitionsAllocated
	stateDataWritten
	stateCommitted
)

func (s assemblyState) String() string {
	switch s {
	case stateUnbuilt:
		return "unbuilt"
	case stateSized:
		return "sized"
	case stateTableInitialized:
		return "table initialized"
	case statePartitionsAllocated:
		return "partitions allocated"
	case stateDataWritten:
		return "data written"
	case stateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Assembler lays built partitions into a single GPT disk image.
type Assembler struct {
	MBROverflow MBROverflowPolicy

	// MinDiskSize grows the image to at least this many bytes.
	MinDiskSize uint64
}

// AssembledPartition describes one partition of a finished image.
type AssembledPartition struct {
	Name       string
	Filesystem FilesystemType
	GUID       string
	Start      uint64
	Length     uint64
	Digest     string
}

// AssemblyResult describes a committed image.
type AssemblyResult struct {
	Path       string
	DiskGUID   string
	Layout     *DiskLayout
	Partitions []AssembledPartition
}

// allocation pairs a table entry with the partition it was created for.
// allocations[i] always belongs to parts[i].
type allocation struct {
	entry LayoutEntry
	table *gpt.Partition
}

type assembly struct {
	state assemblyState
}

func (a *assembly) fail(err error) error {
	return fmt.Errorf("%w: %s: %w", ErrAssembly, a.state, err)
}

func (a *assembly) advance(next assemblyState) {
	logrus.WithField("state", next).Debug("Assembly state")
	a.state = next
}

// Assemble writes parts, in order, into a new image at outputPath. The image
// is built under a temporary name in the same directory and renamed into
// place only once everything succeeded; on failure nothing is left behind.
// Every partition's content is consumed and closed.
func (a *Assembler) Assemble(ctx context.Context, parts []*BuiltPartition, outputPath string) (*AssemblyResult, error) {
	defer func() {
		for _, p := range parts {
			p.Close()
		}
	}()

	run := &assembly{state: stateUnbuilt}

	sizes := make([]uint64, len(parts))
	for i, p := range parts {
		sizes[i] = p.Size
	}
	layout, err := PlanLayout(sizes, a.MinDiskSize)
	if err != nil {
		return nil, run.fail(err)
	}

	sectors, saturated := protectiveSectorCount(layout.TotalSize)
	if saturated {
		if a.MBROverflow == RejectMBROverflow {
			return nil, run.fail(fmt.Errorf("disk of %d bytes exceeds the protective MBR sector range", layout.TotalSize))
		}
		logrus.WithField("sectors", sectors).Warn("Protective MBR sector count saturated")
	}
	run.advance(stateSized)

	log := logrus.WithFields(logrus.Fields{
		"output":     outputPath,
		"size":       humanize.IBytes(layout.TotalSize),
		"partitions": len(parts),
	})
	log.Info("Assembling disk image")

	tmpPath := filepath.Join(filepath.Dir(outputPath),
		fmt.Sprintf(".%s.%s.partial", filepath.Base(outputPath), uuid.NewString()))
	img, err := diskfs.Create(tmpPath, int64(layout.TotalSize), diskfs.SectorSize512)
	if err != nil {
		return nil, run.fail(fmt.Errorf("failed to create image: %w", err))
	}
	imgOpen := true
	defer func() {
		if imgOpen {
			img.Close()
		}
		if run.state != stateCommitted {
			os.Remove(tmpPath)
		}
	}()

	diskGUID := strings.ToUpper(uuid.NewString())
	table := &gpt.Table{
		LogicalSectorSize:  SectorSize,
		PhysicalSectorSize: SectorSize,
		ProtectiveMBR:      true,
		GUID:               diskGUID,
	}
	run.advance(stateTableInitialized)

	allocations := make([]allocation, len(parts))
	for i, p := range parts {
		entry := layout.Entries[i]
		tp := &gpt.Partition{
			Start: entry.Start / SectorSize,
			End:   entry.End()/SectorSize - 1,
			Size:  entry.Length,
			Type:  p.TypeGUID,
			Name:  p.Name,
			GUID:  strings.ToUpper(uuid.NewString()),
		}
		table.Partitions = append(table.Partitions, tp)
		allocations[i] = allocation{entry: entry, table: tp}
	}
	run.advance(statePartitionsAllocated)

	digests, err := writePartitions(ctx, tmpPath, parts, allocations)
	if err != nil {
		return nil, run.fail(err)
	}
	run.advance(stateDataWritten)

	if err := img.Partition(table); err != nil {
		return nil, run.fail(fmt.Errorf("failed to write partition table: %w", err))
	}
	imgOpen = false
	if err := img.Close(); err != nil {
		return nil, run.fail(fmt.Errorf("failed to close image: %w", err))
	}
	if err := writeProtectiveSectorCount(tmpPath, sectors); err != nil {
		return nil, run.fail(err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return nil, run.fail(fmt.Errorf("failed to move image into place: %w", err))
	}
	run.advance(stateCommitted)

	result := &AssemblyResult{
		Path:     outputPath,
		DiskGUID: diskGUID,
		Layout:   layout,
	}
	for i, p := range parts {
		result.Partitions = append(result.Partitions, AssembledPartition{
			Name:       p.Name,
			Filesystem: p.Filesystem,
			GUID:       allocations[i].table.GUID,
			Start:      allocations[i].entry.Start,
			Length:     allocations[i].entry.Length,
			Digest:     digests[i],
		})
	}

	log.Info("Disk image committed")
	return result, nil
}

// mbrEntrySectorsOffset is the sector count field of the first MBR entry.
const mbrEntrySectorsOffset = 446 + 12

// writeProtectiveSectorCount stores the (possibly saturated) sector count in
// the protective MBR entry.
func writeProtectiveSectorCount(imagePath string, sectors uint32) error {
	f, err := os.OpenFile(imagePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open image for writing: %w", err)
	}
	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], sectors)
	if _, err := f.WriteAt(field[:], mbrEntrySectorsOffset); err != nil {
		f.Close()
		return fmt.Errorf("failed to write protective MBR: %w", err)
	}
	return f.Close()
}

// writePartitions copies every partition into its allocated range, in
// order, and returns the BLAKE3 digest of each.
func writePartitions(ctx context.Context, imagePath string, parts []*BuiltPartition, allocations []allocation) ([]string, error) {
	f, err := os.OpenFile(imagePath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open image for writing: %w", err)
	}
	defer f.Close()

	digests := make([]string, len(parts))
	for i, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		digest, err := writePartition(f, p, allocations[i].entry)
		if err != nil {
			return nil, fmt.Errorf("partition %d (%q): %w", i, p.Name, err)
		}
		digests[i] = digest
		p.Close()

		logrus.WithFields(logrus.Fields{
			"partition": p.Name,
			"start":     allocations[i].entry.Start,
			"length":    humanize.IBytes(allocations[i].entry.Length),
			"blake3":    digest,
		}).Info("Partition written")
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to flush image: %w", err)
	}
	return digests, nil
}

// writePartition copies exactly entry.Length bytes of p's content to
// entry.Start. Content that is shorter or longer than the allocation fails.
func writePartition(dst io.WriterAt, p *BuiltPartition, entry LayoutEntry) (string, error) {
	content, err := p.take()
	if err != nil {
		return "", err
	}

	hasher := blake3.New()
	out := io.MultiWriter(io.NewOffsetWriter(dst, int64(entry.Start)), hasher)

	written, err := io.CopyN(out, content, int64(entry.Length))
	if errors.Is(err, io.EOF) {
		return "", fmt.Errorf("content is %d bytes, allocated %d", written, entry.Length)
	}
	if err != nil {
		return "", fmt.Errorf("failed to copy content: %w", err)
	}

	var probe [1]byte
	switch _, err := io.ReadFull(content, probe[:]); {
	case err == nil:
		return "", fmt.Errorf("content is longer than the allocated %d bytes", entry.Length)
	case !errors.Is(err, io.EOF):
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
