package diskbuilder

const (
	fat32SectorSize      = 512
	fat32ReservedSectors = 32
	fat32ClusterSize     = 4096
	fat32DirEntrySize    = 32

	// Smallest volume go-diskfs formats as FAT32 without complaint.
	fat32MinimumSize = 10 * 1024 * 1024
)

// estimateFAT32 sums the reserved, FAT, root directory and data regions.
// The FAT region is a single-FAT approximation: one cluster of slack per
// started cluster of every file and one cluster per directory.
func estimateFAT32(scan *treeScan) *Estimate {
	var clusters uint64
	for _, size := range scan.fileSizes {
		clusters += ceilDiv(size, fat32ClusterSize)
	}
	clusters += uint64(scan.dirs)

	est := &Estimate{
		Filesystem:     FAT32,
		Files:          len(scan.fileSizes),
		Dirs:           scan.dirs,
		Skipped:        scan.skipped,
		DataBytes:      scan.dataBytes(),
		ReservedRegion: fat32ReservedSectors * fat32SectorSize,
		FATRegion:      clusters * fat32ClusterSize,
		RootDirRegion:  roundUp(uint64(scan.rootEntries)*fat32DirEntrySize, fat32ClusterSize),
	}

	total := est.ReservedRegion + est.FATRegion + est.RootDirRegion + est.DataBytes
	est.Total = max(roundUp(total, fat32SectorSize), fat32MinimumSize)
	return est
}
