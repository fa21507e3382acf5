package diskbuilder

import "errors"

// Error kinds. Errors from estimation, builds, assembly and the pipeline wrap
// exactly one of the first five so callers can classify them with errors.Is.
var (
	ErrConfig       = errors.New("invalid configuration")
	ErrEstimation   = errors.New("size estimation failed")
	ErrBuild        = errors.New("partition build failed")
	ErrExternalTool = errors.New("external tool failed")
	ErrAssembly     = errors.New("disk assembly failed")

	ErrDiskFull          = errors.New("disk full")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrContentConsumed   = errors.New("partition content already consumed")
	ErrUnknownFilesystem = errors.New("unknown filesystem type")
)
