package diskbuilder

const (
	ext4JournalBlockSize  = 1024
	ext4JournalBlockCount = 1024
	ext4Alignment         = 1024
	ext4BlockSize         = 4096

	// mke2fs refuses to create a journal on anything smaller.
	ext4MinimumSize = 2 * 1024 * 1024

	// Inode tables, bitmaps, group descriptors and the larger journals
	// mke2fs picks for bigger volumes fit in a quarter of the payload.
	ext4MetadataDivisor = 4
)

// estimateExt4 sums the file data with a fixed journal reserve and a
// metadata reserve, aligned to 1 KiB and never below the journal minimum.
func estimateExt4(scan *treeScan) *Estimate {
	data := scan.dataBytes()

	// Every file and directory occupies at least one whole block.
	var blocks uint64
	for _, size := range scan.fileSizes {
		blocks += max(ceilDiv(size, ext4BlockSize), 1)
	}
	blocks += uint64(scan.dirs)

	journal := uint64(ext4JournalBlockSize * ext4JournalBlockCount)
	blockBytes := blocks * ext4BlockSize
	slack := blockBytes - data
	metadata := slack + (blockBytes+journal)/ext4MetadataDivisor

	est := &Estimate{
		Filesystem:      EXT4,
		Files:           len(scan.fileSizes),
		Dirs:            scan.dirs,
		Skipped:         scan.skipped,
		DataBytes:       data,
		JournalReserve:  journal,
		MetadataReserve: metadata,
	}
	est.Total = max(roundUp(data+journal+metadata, ext4Alignment), ext4MinimumSize)
	return est
}
