package diskbuilder

import (
	"fmt"
	"math"
	"strings"
)

const (
	SectorSize = 512

	// First partition starts at 1 MiB, the conventional GPT alignment.
	dataStartLBA = 2048
	// 128 entries of 128 bytes.
	gptEntrySectors = 32
	// Backup entry array plus backup header at the end of the disk.
	backupTableSectors = gptEntrySectors + 1

	MaxPartitions = 128

	// TableOverhead is the space outside partition data: protective MBR,
	// primary header and entries padded to 1 MiB, backup entries and header.
	TableOverhead = (dataStartLBA + backupTableSectors) * SectorSize
)

// LayoutEntry is the byte range allocated to one partition.
type LayoutEntry struct {
	Start  uint64
	Length uint64
}

// End returns the first byte after the entry.
func (e LayoutEntry) End() uint64 {
	return e.Start + e.Length
}

// DiskLayout places partitions on the disk. Entries[i] belongs to the i-th
// partition handed to PlanLayout.
type DiskLayout struct {
	TotalSize uint64
	Entries   []LayoutEntry
}

// PlanLayout lays sizes out back to back from the data start. minTotal, if
// larger than what the partitions need, grows the disk; the extra space
// stays unallocated after the last partition.
func PlanLayout(sizes []uint64, minTotal uint64) (*DiskLayout, error) {
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no partitions to lay out")
	}
	if len(sizes) > MaxPartitions {
		return nil, fmt.Errorf("%d partitions exceed the GPT limit of %d", len(sizes), MaxPartitions)
	}

	layout := &DiskLayout{Entries: make([]LayoutEntry, 0, len(sizes))}
	offset := uint64(dataStartLBA * SectorSize)
	for i, size := range sizes {
		if size == 0 {
			return nil, fmt.Errorf("partition %d is empty", i)
		}
		if size%SectorSize != 0 {
			return nil, fmt.Errorf("partition %d size %d is not a multiple of %d", i, size, SectorSize)
		}
		if size > math.MaxUint64-TableOverhead-offset {
			return nil, fmt.Errorf("partition %d overflows the addressable disk size", i)
		}
		layout.Entries = append(layout.Entries, LayoutEntry{Start: offset, Length: size})
		offset += size
	}

	layout.TotalSize = max(offset+backupTableSectors*SectorSize, roundUp(minTotal, SectorSize))
	return layout, nil
}

// MBROverflowPolicy decides what happens when the disk has more sectors
// than the protective MBR's 32-bit field can describe.
type MBROverflowPolicy int

const (
	// SaturateMBR records 0xFFFFFFFF and logs a warning.
	SaturateMBR MBROverflowPolicy = iota
	// RejectMBROverflow fails the assembly.
	RejectMBROverflow
)

func (p MBROverflowPolicy) String() string {
	if p == RejectMBROverflow {
		return "reject"
	}
	return "saturate"
}

// ParseMBROverflowPolicy parses "saturate" or "reject".
func ParseMBROverflowPolicy(name string) (MBROverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "saturate":
		return SaturateMBR, nil
	case "reject":
		return RejectMBROverflow, nil
	default:
		return 0, fmt.Errorf("%w: MBR overflow policy %q", ErrConfig, name)
	}
}

// protectiveSectorCount is the sector count stored in the protective MBR
// entry: every sector after LBA 0, saturated to 32 bits.
func protectiveSectorCount(totalSize uint64) (count uint32, saturated bool) {
	sectors := totalSize/SectorSize - 1
	if sectors > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(sectors), false
}
