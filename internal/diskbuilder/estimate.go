package diskbuilder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// UnreadablePolicy decides what happens when an entry below the source root
// cannot be read while estimating.
type UnreadablePolicy int

const (
	// SkipUnreadable counts the entry as zero bytes and logs a warning.
	SkipUnreadable UnreadablePolicy = iota
	// FailUnreadable aborts the estimate.
	FailUnreadable
)

func (p UnreadablePolicy) String() string {
	if p == FailUnreadable {
		return "fail"
	}
	return "skip"
}

// ParseUnreadablePolicy parses "skip" or "fail".
func ParseUnreadablePolicy(name string) (UnreadablePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "skip":
		return SkipUnreadable, nil
	case "fail":
		return FailUnreadable, nil
	default:
		return 0, fmt.Errorf("%w: unreadable entry policy %q", ErrConfig, name)
	}
}

// Estimate is the predicted size of a partition together with the regions it
// was computed from. Only the regions of the estimated filesystem are set.
type Estimate struct {
	Filesystem FilesystemType
	Files      int
	Dirs       int
	Skipped    int
	DataBytes  uint64

	// FAT32
	ReservedRegion uint64
	FATRegion      uint64
	RootDirRegion  uint64

	// ext4
	JournalReserve  uint64
	MetadataReserve uint64

	Total uint64
}

// Estimator predicts partition sizes from source trees without encoding them.
type Estimator struct {
	// Source is the filesystem the source trees are read from.
	Source afero.Fs
	Policy UnreadablePolicy
}

// NewEstimator returns an estimator reading from the host filesystem.
func NewEstimator(policy UnreadablePolicy) *Estimator {
	return &Estimator{Source: afero.NewOsFs(), Policy: policy}
}

// Estimate computes a sufficient size for encoding sourcePath as fsType.
func (e *Estimator) Estimate(ctx context.Context, sourcePath string, fsType FilesystemType) (*Estimate, error) {
	scan, err := e.scan(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	var est *Estimate
	switch fsType {
	case FAT32:
		est = estimateFAT32(scan)
	case EXT4:
		est = estimateExt4(scan)
	default:
		return nil, fmt.Errorf("%w: %w: %v", ErrEstimation, ErrUnknownFilesystem, fsType)
	}

	logrus.WithFields(logrus.Fields{
		"source":     sourcePath,
		"filesystem": fsType,
		"files":      est.Files,
		"dirs":       est.Dirs,
		"data":       humanize.IBytes(est.DataBytes),
		"estimate":   humanize.IBytes(est.Total),
	}).Debug("Estimated partition size")

	return est, nil
}

// treeScan is everything the estimators need to know about a source tree.
type treeScan struct {
	fileSizes   []uint64
	dirs        int
	rootEntries int
	skipped     int
}

func (s *treeScan) dataBytes() uint64 {
	var total uint64
	for _, size := range s.fileSizes {
		total += size
	}
	return total
}

// scan walks sourcePath once. Unreadable entries below the root are handled
// according to the policy; an unreadable root always fails.
func (e *Estimator) scan(ctx context.Context, sourcePath string) (*treeScan, error) {
	source := e.Source
	if source == nil {
		source = afero.NewOsFs()
	}

	root := filepath.Clean(sourcePath)
	scan := &treeScan{}

	err := afero.Walk(source, root, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if path == root {
			if err != nil {
				return fmt.Errorf("%w: cannot read source %s: %w", ErrEstimation, root, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%w: source %s is not a directory", ErrEstimation, root)
			}
			return nil
		}

		if err != nil {
			if e.Policy == FailUnreadable {
				return fmt.Errorf("%w: cannot read %s: %w", ErrEstimation, path, err)
			}
			logrus.WithError(err).WithField("path", path).Warn("Unreadable entry counted as zero bytes")
			scan.skipped++
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if filepath.Dir(path) == root {
			scan.rootEntries++
		}

		switch {
		case info.IsDir():
			scan.dirs++
		case info.Mode().IsRegular():
			scan.fileSizes = append(scan.fileSizes, uint64(info.Size()))
		default:
			logrus.WithField("path", path).Debug("Skipping non-regular entry")
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrEstimation, err)
		}
		return nil, err
	}

	return scan, nil
}

func roundUp(n, multiple uint64) uint64 {
	if rem := n % multiple; rem != 0 {
		return n + multiple - rem
	}
	return n
}

func ceilDiv(n, d uint64) uint64 {
	return (n + d - 1) / d
}
