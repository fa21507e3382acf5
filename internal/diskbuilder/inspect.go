package diskbuilder

import (
	"fmt"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
)

// PartitionInfo is one entry of an image's GPT as read back from disk.
type PartitionInfo struct {
	Index  int
	Name   string
	Type   string
	GUID   string
	Start  uint64
	Length uint64
}

// Inspect reads the GPT of the image at imagePath and returns its used
// entries in table order.
func Inspect(imagePath string) ([]PartitionInfo, error) {
	img, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	table, err := img.GetPartitionTable()
	if err != nil {
		return nil, fmt.Errorf("failed to read partition table: %w", err)
	}
	gptTable, ok := table.(*gpt.Table)
	if !ok {
		return nil, fmt.Errorf("image has a %s partition table, not GPT", table.Type())
	}

	sectorSize := uint64(gptTable.LogicalSectorSize)
	if sectorSize == 0 {
		sectorSize = SectorSize
	}

	var infos []PartitionInfo
	for i, p := range gptTable.Partitions {
		if p == nil || p.Type == gpt.Unused {
			continue
		}
		infos = append(infos, PartitionInfo{
			Index:  i + 1,
			Name:   p.Name,
			Type:   string(p.Type),
			GUID:   p.GUID,
			Start:  p.Start * sectorSize,
			Length: (p.End - p.Start + 1) * sectorSize,
		})
	}
	return infos, nil
}
