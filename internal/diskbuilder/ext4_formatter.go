package diskbuilder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Ext4Formatter populates an existing, pre-sized image file with an ext4
// filesystem holding the contents of sourceDir.
type Ext4Formatter interface {
	Format(ctx context.Context, sourceDir, imagePath string) error
}

// DefaultMke2fsTimeout bounds a single mke2fs run.
const DefaultMke2fsTimeout = 10 * time.Minute

// Mke2fs formats ext4 images by running mke2fs with -d.
type Mke2fs struct {
	// Binary is the mke2fs executable; empty means "mke2fs" from PATH.
	Binary  string
	Timeout time.Duration
}

// Format runs mke2fs against imagePath. Any spawn failure, non-zero exit or
// timeout is reported as ErrExternalTool together with the tool's output.
func (m *Mke2fs) Format(ctx context.Context, sourceDir, imagePath string) error {
	binary := m.Binary
	if binary == "" {
		binary = "mke2fs"
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultMke2fsTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "-q", "-F", "-t", "ext4", "-d", sourceDir, imagePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %s", ErrExternalTool, binary, timeout)
		}
		return fmt.Errorf("%w: %s: %w (output: %s)", ErrExternalTool, binary, err, strings.TrimSpace(string(output)))
	}
	return nil
}
